// Command ivsweep runs I-V sweep sessions on an Agilent 4156C parameter
// analyzer, optionally with a SUSS PA300 probe station, and archives every
// sweep as it completes.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nasa-jpl/ivsweep/config"
	"github.com/nasa-jpl/ivsweep/sweep"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	configPath = config.FileName
)

func setupLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Stamp,
		})
	}
	return nil
}

// loadConfig layers the configuration for cmd and sets up logging from it
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	k, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	c, err := config.Unmarshal(k)
	if err != nil {
		return c, err
	}
	if err := setupLogger(c.Log.Level); err != nil {
		return c, err
	}
	return c, nil
}

func handleCmdError(err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	var (
		cerr  *sweep.ConfigurationError
		fault *sweep.CommunicationFault
		perr  *sweep.PersistenceError
	)
	switch {
	case errors.As(err, &cerr):
		fmt.Fprintln(os.Stderr, red("\nError: invalid configuration"))
		fmt.Fprintf(os.Stderr, "  - check %s, IVSWEEP_ variables and flags (%s conf prints the result)\n", configPath, os.Args[0])
	case errors.As(err, &fault):
		fmt.Fprintln(os.Stderr, red("\nError: lost the instrument"))
		fmt.Fprintln(os.Stderr, "  - check the GPIB gateway is reachable and the analyzer is on the bus")
		fmt.Fprintln(os.Stderr, "  - sweeps recorded before the fault are kept")
	case errors.As(err, &perr):
		fmt.Fprintln(os.Stderr, red("\nError: could not save a result"))
		fmt.Fprintf(os.Stderr, "  - check %s is writable and has space; the unsaved sweep is in the log\n", perr.Path)
	}
}

// NewCommand returns the root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ivsweep",
		Short: "ivsweep runs I-V sweep sessions on an Agilent 4156C",
		Long: `ivsweep runs I-V sweep sessions on an Agilent 4156C parameter analyzer.

For each amplitude in a range it performs a double sweep from 0 V, archives
the result, and stops early if the sweep is stopped at the instrument.

Configuration is read from ivsweep.yml, then IVSWEEP_ environment variables,
then flags.  ivsweep mkconf writes the effective configuration.`,
		SilenceUsage: true,
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	config.AddFlags(globalFlags)

	cmd.AddCommand(
		newRunCommand(),
		newServeCommand(),
		newVerifyCommand(),
		newProberCommand(),
		newMkconfCommand(),
		newConfCommand(),
		newVersionCommand(),
	)
	return cmd
}

func main() {
	if err := NewCommand().Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}
