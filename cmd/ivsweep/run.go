package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nasa-jpl/ivsweep/agilent"
	"github.com/nasa-jpl/ivsweep/config"
	"github.com/nasa-jpl/ivsweep/record"
	"github.com/nasa-jpl/ivsweep/server"
	"github.com/nasa-jpl/ivsweep/suss"
	"github.com/nasa-jpl/ivsweep/sweep"
)

func newRunCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a sweep session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				c.HTTP.Addr = listen
			}
			_, err = runSession(c, afero.NewOsFs(), os.Getenv, os.Stdout)
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve session status at this address while running, e.g. :8000")
	return cmd
}

func openAnalyzer(c config.Config) (sweep.Device, error) {
	addr, err := c.InstrumentGPIB()
	if err != nil {
		return nil, err
	}
	if c.Instrument.Mock {
		return agilent.NewMockAnalyzer(c.Instrument.Addr, addr, c.Instrument.Serial), nil
	}
	return agilent.NewAnalyzer(c.Instrument.Addr, addr, c.Instrument.Serial)
}

func openProber(c config.Config) (suss.Chuck, error) {
	addr, err := c.ProberGPIB()
	if err != nil {
		return nil, err
	}
	var chuck suss.Chuck
	if c.Prober.Mock {
		chuck = suss.NewMockProber(c.Prober.Addr, addr, c.Prober.Serial)
	} else {
		p, err := suss.NewProber(c.Prober.Addr, addr, c.Prober.Serial)
		if err != nil {
			return nil, err
		}
		if err := p.Identify(); err != nil {
			p.Close()
			return nil, err
		}
		chuck = p
	}
	if err := chuck.SetVelocity(c.Prober.Velocity); err != nil {
		chuck.Close()
		return nil, err
	}
	return chuck, nil
}

// sessionMeta describes the setup in the manifest
func sessionMeta(c config.Config) map[string]string {
	m := map[string]string{
		"instrument": "Agilent 4156C",
		"gpib":       c.Instrument.GPIB,
		"terminals":  fmt.Sprintf("SMU%d-SMU%d", c.Sweep.Low, c.Sweep.High),
		"stepsize":   strconv.FormatFloat(c.Sweep.StepSize, 'g', -1, 64),
		"compliance": strconv.FormatFloat(c.Sweep.Compliance, 'g', -1, 64),
		"policy":     c.Sweep.Policy,
		"timeout":    strconv.Itoa(c.Timeout),
		"ivsweep":    Version,
	}
	if c.Instrument.Mock {
		m["instrument"] = "mock"
	}
	return m
}

// probePosition adds the chuck position to meta
func probePosition(c config.Config, meta map[string]string) error {
	chuck, err := openProber(c)
	if err != nil {
		return errors.Wrap(err, "opening probe station")
	}
	defer chuck.Close()
	if err := chuck.Check(); err != nil {
		return err
	}
	pos, err := chuck.Position(suss.Home)
	if err != nil {
		return err
	}
	meta["chuck.x"] = strconv.FormatFloat(pos.X, 'f', -1, 64)
	meta["chuck.y"] = strconv.FormatFloat(pos.Y, 'f', -1, 64)
	meta["chuck.z"] = strconv.FormatFloat(pos.Z, 'f', -1, 64)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// runSession runs one session with c, writing results to fs and a summary to out
func runSession(c config.Config, fs afero.Fs, getenv func(string) string, out io.Writer) (sweep.Summary, error) {
	if err := c.Validate(); err != nil {
		return sweep.Summary{}, err
	}
	dir, err := c.OutputDir(getenv)
	if err != nil {
		return sweep.Summary{}, err
	}
	rng, err := c.Range()
	if err != nil {
		return sweep.Summary{}, err
	}

	meta := sessionMeta(c)
	if c.Prober.Enable {
		if err := probePosition(c, meta); err != nil {
			return sweep.Summary{}, err
		}
	}

	dev, err := openAnalyzer(c)
	if err != nil {
		return sweep.Summary{}, err
	}
	rec := record.New(fs, dir, sweep.Kind(c.Sweep.Kind))
	rec.Label = c.Output.Label
	rec.Meta = meta

	o := sweep.NewOrchestrator(dev, rec, rng, c.Executor(), c.Timeout)
	o.Log = logrus.StandardLogger()
	if isTerminal(out) {
		if obs, err := newSpinnerObserver(out); err == nil {
			o.Observer = obs
		} else {
			logrus.WithError(err).Debug("no progress spinner")
		}
	}

	if c.HTTP.Addr != "" {
		srv := &http.Server{Addr: c.HTTP.Addr, Handler: server.New(fs, dir, o).Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logrus.WithError(err).Error("status server")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		logrus.WithField("addr", c.HTTP.Addr).Info("serving session status")
	}

	logrus.WithFields(logrus.Fields{
		"session": o.SessionID,
		"dir":     dir,
	}).Info("starting session")
	sum, err := o.Run()
	printSummary(out, sum, dir)
	return sum, err
}

func printSummary(w io.Writer, sum sweep.Summary, dir string) {
	bold := color.New(color.Bold).SprintfFunc()
	var state string
	switch sum.State {
	case sweep.Completed:
		state = color.GreenString("%s", sum.State)
	case sweep.Aborted:
		state = color.YellowString("%s", sum.State)
	default:
		state = color.RedString("%s", sum.State)
	}
	fmt.Fprintf(w, "%s %s\n", bold("session:"), sum.Session)
	fmt.Fprintf(w, "%s %s after %d sweeps\n", bold("state:"), state, sum.Sweeps)
	fmt.Fprintf(w, "%s %s\n", bold("output:"), dir)
	for _, f := range sum.Files {
		fmt.Fprintf(w, "  %s\n", filepath.Base(f))
	}
	if sum.Err != nil {
		fmt.Fprintf(w, "%s %v\n", bold("error:"), sum.Err)
	}
}
