package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/ivsweep/config"
	"github.com/nasa-jpl/ivsweep/record"
	"github.com/nasa-jpl/ivsweep/server"
	"github.com/nasa-jpl/ivsweep/suss"
)

// defaultServeAddr is where serve listens when http.addr is unset
const defaultServeAddr = ":8000"

func newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the output directory over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dir, err := c.OutputDir(os.Getenv)
			if err != nil {
				return err
			}
			addr := listen
			if addr == "" {
				addr = c.HTTP.Addr
			}
			if addr == "" {
				addr = defaultServeAddr
			}
			h := server.New(afero.NewOsFs(), dir, nil).Handler()
			logrus.WithFields(logrus.Fields{"addr": addr, "dir": dir}).Info("now listening for requests")
			return http.ListenAndServe(addr, h)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen at (default "+defaultServeAddr+")")
	return cmd
}

// verify checks every archive listed in a manifest and reports to w
func verify(fs afero.Fs, manifest string, w io.Writer) error {
	bad, err := record.Verify(fs, manifest)
	if err != nil {
		return err
	}
	if len(bad) == 0 {
		fmt.Fprintln(w, color.GreenString("OK"), manifest)
		return nil
	}
	for _, b := range bad {
		fmt.Fprintln(w, color.RedString("BAD"), b)
	}
	return errors.Errorf("%d archives failed verification", len(bad))
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <manifest>...",
		Short: "Check the archives listed in session manifests against their checksums",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs := afero.NewOsFs()
			var failed int
			for _, m := range args {
				if err := verify(fs, m, cmd.OutOrStdout()); err != nil {
					logrus.WithField("file", m).WithError(err).Error("verification failed")
					failed++
				}
			}
			if failed > 0 {
				return errors.Errorf("%d of %d manifests failed verification", failed, len(args))
			}
			return nil
		},
	}
}

func parseFloatArgs(args []string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate %q: %v", a, err)
		}
		out[i] = f
	}
	return out, nil
}

// withChuck opens the probe station for the duration of fn
func withChuck(cmd *cobra.Command, fn func(suss.Chuck) error) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	chuck, err := openProber(c)
	if err != nil {
		return err
	}
	defer chuck.Close()
	return fn(chuck)
}

func printPosition(w io.Writer, chuck suss.Chuck, ref suss.Ref) error {
	pos, err := chuck.Position(ref)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", pos)
	return nil
}

func newProberCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prober",
		Short: "Drive the probe station chuck",
	}

	var ref string
	position := &cobra.Command{
		Use:   "position",
		Short: "Print the chuck position in microns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := suss.ParseRef(ref)
			if err != nil {
				return err
			}
			return withChuck(cmd, func(chuck suss.Chuck) error {
				return printPosition(cmd.OutOrStdout(), chuck, r)
			})
		},
	}
	position.Flags().StringVar(&ref, "ref", "center", "reference: home, zero or center")

	var fromHome bool
	move := &cobra.Command{
		Use:   "move <x> <y>",
		Short: "Move the chuck in x and y, in microns from center",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			xy, err := parseFloatArgs(args)
			if err != nil {
				return err
			}
			return withChuck(cmd, func(chuck suss.Chuck) error {
				fn := chuck.MoveXY
				if fromHome {
					fn = chuck.MoveXYFromHome
				}
				if err := fn(xy[0], xy[1]); err != nil {
					return err
				}
				return printPosition(cmd.OutOrStdout(), chuck, suss.Center)
			})
		},
	}
	move.Flags().BoolVar(&fromHome, "from-home", false, "x and y are relative to home")

	z := &cobra.Command{
		Use:   "z <height>",
		Short: "Move the chuck to a height in microns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := parseFloatArgs(args)
			if err != nil {
				return err
			}
			return withChuck(cmd, func(chuck suss.Chuck) error {
				return chuck.MoveZ(h[0])
			})
		},
	}

	contact := &cobra.Command{
		Use:   "contact",
		Short: "Raise the chuck to contact height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withChuck(cmd, func(chuck suss.Chuck) error { return chuck.Contact() })
		},
	}

	align := &cobra.Command{
		Use:   "align",
		Short: "Lower the chuck to alignment height",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withChuck(cmd, func(chuck suss.Chuck) error { return chuck.Align() })
		},
	}

	cmd.AddCommand(position, move, z, contact, align)
	return cmd
}

func effectiveConfig(cmd *cobra.Command) (config.Config, error) {
	k, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	return config.Unmarshal(k)
}

func newMkconfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mkconf",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := effectiveConfig(cmd)
			if err != nil {
				return err
			}
			f, err := os.Create(configPath)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := yml.NewEncoder(f).Encode(c); err != nil {
				return errors.Wrapf(err, "writing %s", configPath)
			}
			logrus.Infof("wrote %s", configPath)
			return nil
		},
	}
}

func newConfCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "conf",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := effectiveConfig(cmd)
			if err != nil {
				return err
			}
			return yml.NewEncoder(cmd.OutOrStdout()).Encode(c)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ivsweep version %v\n", Version)
		},
	}
}
