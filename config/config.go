// Package config loads the ivsweep configuration.
//
// Values are layered, each layer overriding the last:
//
//	defaults, the YAML file, IVSWEEP_ environment variables, flags
//
// Environment variables map to keys by dropping the prefix, lowercasing, and
// replacing the first underscore with a dot: IVSWEEP_SWEEP_FIRST is sweep.first.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/nasa-jpl/ivsweep/gpib"
	"github.com/nasa-jpl/ivsweep/sweep"
)

const (
	// FileName is the default configuration file
	FileName = "ivsweep.yml"

	// EnvPrefix prefixes environment overrides
	EnvPrefix = "IVSWEEP_"

	// DataSubdir is appended to the application data directory to form the
	// default output directory
	DataSubdir = "Instr/Agilent4156C"
)

// Instrument holds the connection to the parameter analyzer
type Instrument struct {
	// Addr is the GPIB gateway, host:port for a network gateway or a
	// device path for a USB gateway
	Addr string `koanf:"addr" yaml:"addr"`

	// GPIB is the primary address, or a resource string like GPIB0::18::INSTR
	GPIB string `koanf:"gpib" yaml:"gpib"`

	Serial bool `koanf:"serial" yaml:"serial"`

	// Mock swaps the instrument for a simulated diode
	Mock bool `koanf:"mock" yaml:"mock"`
}

// Prober holds the connection to the probe station
type Prober struct {
	Enable bool   `koanf:"enable" yaml:"enable"`
	Addr   string `koanf:"addr" yaml:"addr"`
	GPIB   string `koanf:"gpib" yaml:"gpib"`
	Serial bool   `koanf:"serial" yaml:"serial"`
	Mock   bool   `koanf:"mock" yaml:"mock"`

	// Velocity is in percent of maximum, (0, 100]
	Velocity float64 `koanf:"velocity" yaml:"velocity"`
}

// Sweep holds the session parameters
type Sweep struct {
	// First, Step and Last define the amplitudes, in volts
	First float64 `koanf:"first" yaml:"first"`
	Step  float64 `koanf:"step" yaml:"step"`
	Last  float64 `koanf:"last" yaml:"last"`

	// Policy is arithmetic or alternating
	Policy string `koanf:"policy" yaml:"policy"`

	// StepSize is the resolution within one sweep, in volts
	StepSize float64 `koanf:"stepsize" yaml:"stepsize"`

	// Low and High are SMU numbers
	Low  int `koanf:"low" yaml:"low"`
	High int `koanf:"high" yaml:"high"`

	// Compliance is in amperes
	Compliance float64 `koanf:"compliance" yaml:"compliance"`

	Kind string `koanf:"kind" yaml:"kind"`
}

// Output holds where results go
type Output struct {
	// Dir overrides the default output directory
	Dir string `koanf:"dir" yaml:"dir"`

	// Label is inserted into archive names, e.g. a device or die name
	Label string `koanf:"label" yaml:"label"`
}

// HTTP holds the status server
type HTTP struct {
	// Addr to listen at; empty disables the server during a run
	Addr string `koanf:"addr" yaml:"addr"`
}

// Log holds logging settings
type Log struct {
	Level string `koanf:"level" yaml:"level"`
}

// Config is the complete configuration
type Config struct {
	Instrument Instrument `koanf:"instrument" yaml:"instrument"`
	Prober     Prober     `koanf:"prober" yaml:"prober"`
	Sweep      Sweep      `koanf:"sweep" yaml:"sweep"`

	// Timeout bounds one sweep, in seconds
	Timeout int `koanf:"timeout" yaml:"timeout"`

	Output Output `koanf:"output" yaml:"output"`
	HTTP   HTTP   `koanf:"http" yaml:"http"`
	Log    Log    `koanf:"log" yaml:"log"`
}

// Default returns the built in configuration
func Default() Config {
	return Config{
		Instrument: Instrument{GPIB: "GPIB0::18::INSTR"},
		Prober:     Prober{GPIB: "GPIB0::7::INSTR", Velocity: 1},
		Sweep: Sweep{
			First:      100e-3,
			Step:       100e-3,
			Last:       200e-3,
			Policy:     string(sweep.Arithmetic),
			StepSize:   0.1e-3,
			Low:        1,
			High:       3,
			Compliance: 10e-3,
			Kind:       string(sweep.DoubleSweepFromZero)},
		Timeout: 600,
		Log:     Log{Level: "info"}}
}

// envKey maps IVSWEEP_SWEEP_FIRST to sweep.first
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Load layers the configuration.  A missing file at path is not an error.
// flags may be nil; only flags the user changed override lower layers.
func Load(path string, flags *pflag.FlagSet) (*koanf.Koanf, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(errors.Cause(err)) && !strings.Contains(err.Error(), "no such") {
				return nil, errors.Wrapf(err, "loading %s", path)
			}
			logrus.WithField("file", path).Debug("no configuration file, using defaults")
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}
	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, errors.Wrap(err, "loading flags")
		}
	}
	return k, nil
}

// Unmarshal extracts the Config from a loaded koanf instance
func Unmarshal(k *koanf.Koanf) (Config, error) {
	var c Config
	err := k.Unmarshal("", &c)
	return c, errors.Wrap(err, "decoding configuration")
}

func finite(fs ...float64) bool {
	for _, f := range fs {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Validate reports the first problem as a *sweep.ConfigurationError
func (c Config) Validate() error {
	if !c.Instrument.Mock {
		if c.Instrument.Addr == "" {
			return &sweep.ConfigurationError{Field: "instrument.addr", Reason: "required unless instrument.mock is set"}
		}
		if _, err := c.InstrumentGPIB(); err != nil {
			return &sweep.ConfigurationError{Field: "instrument.gpib", Reason: err.Error()}
		}
	}
	if c.Prober.Enable && !c.Prober.Mock {
		if c.Prober.Addr == "" {
			return &sweep.ConfigurationError{Field: "prober.addr", Reason: "required unless prober.mock is set"}
		}
		if _, err := c.ProberGPIB(); err != nil {
			return &sweep.ConfigurationError{Field: "prober.gpib", Reason: err.Error()}
		}
	}
	if c.Prober.Enable && (c.Prober.Velocity <= 0 || c.Prober.Velocity > 100) {
		return &sweep.ConfigurationError{Field: "prober.velocity", Reason: fmt.Sprintf("%g is not in (0, 100]", c.Prober.Velocity)}
	}
	if !finite(c.Sweep.StepSize, c.Sweep.Compliance) {
		return &sweep.ConfigurationError{Field: "sweep", Reason: "step size and compliance must be finite"}
	}
	if _, err := c.Range(); err != nil {
		return err
	}
	ex := c.Executor()
	if err := ex.Validate(); err != nil {
		return err
	}
	// sessions only run voltage double sweeps; Sampling files are read, not made
	if sweep.Kind(c.Sweep.Kind) != sweep.DoubleSweepFromZero {
		return &sweep.ConfigurationError{Field: "sweep.kind", Reason: fmt.Sprintf("%q is not a sweep kind a session can run", c.Sweep.Kind)}
	}
	if c.Timeout <= 0 {
		return &sweep.ConfigurationError{Field: "timeout", Reason: fmt.Sprintf("%d s is not > 0", c.Timeout)}
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return &sweep.ConfigurationError{Field: "log.level", Reason: err.Error()}
	}
	return nil
}

// Range builds and validates the amplitude range
func (c Config) Range() (sweep.Range, error) {
	pol, err := sweep.ParsePolicy(c.Sweep.Policy)
	if err != nil {
		return sweep.Range{}, err
	}
	r := sweep.Range{First: c.Sweep.First, Step: c.Sweep.Step, Last: c.Sweep.Last, Policy: pol}
	return r, r.Validate()
}

// Executor builds the sweep executor
func (c Config) Executor() sweep.Executor {
	return sweep.Executor{
		Low:        c.Sweep.Low,
		High:       c.Sweep.High,
		Step:       c.Sweep.StepSize,
		Compliance: c.Sweep.Compliance}
}

func primary(resource string) (int, error) {
	_, addr, err := gpib.ParseResource(resource)
	if err != nil {
		return 0, err
	}
	if addr < 0 || addr > 30 {
		return 0, fmt.Errorf("primary address %d outside [0,30]", addr)
	}
	return addr, nil
}

// InstrumentGPIB returns the analyzer's primary address
func (c Config) InstrumentGPIB() (int, error) {
	return primary(c.Instrument.GPIB)
}

// ProberGPIB returns the probe station's primary address
func (c Config) ProberGPIB() (int, error) {
	return primary(c.Prober.GPIB)
}

// OutputDir resolves the output directory: output.dir if set, else
// $APPDATA/Instr/Agilent4156C, else the same below os.UserConfigDir.
// getenv is usually os.Getenv.
func (c Config) OutputDir(getenv func(string) string) (string, error) {
	if c.Output.Dir != "" {
		return filepath.Clean(c.Output.Dir), nil
	}
	if app := getenv("APPDATA"); app != "" {
		return filepath.Join(app, filepath.FromSlash(DataSubdir)), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", &sweep.ConfigurationError{Field: "output.dir", Reason: "unset and no user config directory: " + err.Error()}
	}
	return filepath.Join(base, filepath.FromSlash(DataSubdir)), nil
}

// AddFlags registers a flag for each commonly overridden key on fs.  Flag
// names are the koanf keys, e.g. --sweep.first.
func AddFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.Bool("instrument.mock", d.Instrument.Mock, "simulate the parameter analyzer")
	fs.String("instrument.addr", d.Instrument.Addr, "GPIB gateway, host:port or serial device")
	fs.String("instrument.gpib", d.Instrument.GPIB, "analyzer GPIB address or resource")
	fs.Bool("prober.enable", d.Prober.Enable, "record the probe station position with the session")
	fs.Bool("prober.mock", d.Prober.Mock, "simulate the probe station")
	fs.Float64("sweep.first", d.Sweep.First, "first amplitude (V)")
	fs.Float64("sweep.step", d.Sweep.Step, "amplitude increment (V)")
	fs.Float64("sweep.last", d.Sweep.Last, "last amplitude (V)")
	fs.String("sweep.policy", d.Sweep.Policy, "amplitude policy, arithmetic or alternating")
	fs.Float64("sweep.stepsize", d.Sweep.StepSize, "resolution within one sweep (V)")
	fs.Float64("sweep.compliance", d.Sweep.Compliance, "current compliance (A)")
	fs.Int("timeout", d.Timeout, "longest one sweep may take (s)")
	fs.String("output.dir", d.Output.Dir, "output directory")
	fs.String("output.label", d.Output.Label, "label inserted into archive names")
	fs.String("log.level", d.Log.Level, "log level")
}
