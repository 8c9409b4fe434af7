package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ivsweep/sweep"
)

func load(t *testing.T, path string, args ...string) Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	require.NoError(t, fs.Parse(args))
	k, err := Load(path, fs)
	require.NoError(t, err)
	c, err := Unmarshal(k)
	require.NoError(t, err)
	return c
}

func TestDefaultsSurviveLoad(t *testing.T) {
	c := load(t, filepath.Join(t.TempDir(), "missing.yml"))
	assert.Equal(t, Default(), c)
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	yml := `
instrument:
  mock: true
sweep:
  first: 0
  step: 0.05
  last: 0.3
  policy: alternating
output:
  label: D169
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0644))

	c := load(t, path)
	assert.True(t, c.Instrument.Mock)
	assert.Equal(t, 0.05, c.Sweep.Step)
	assert.Equal(t, "alternating", c.Sweep.Policy)
	assert.Equal(t, "D169", c.Output.Label)
	assert.Equal(t, 600, c.Timeout, "untouched keys keep their defaults")

	t.Setenv("IVSWEEP_SWEEP_LAST", "0.5")
	t.Setenv("IVSWEEP_TIMEOUT", "30")
	c = load(t, path)
	assert.Equal(t, 0.5, c.Sweep.Last, "environment overrides the file")
	assert.Equal(t, 30, c.Timeout)

	c = load(t, path, "--sweep.last=0.7", "--output.label=E0326")
	assert.Equal(t, 0.7, c.Sweep.Last, "flags override the environment")
	assert.Equal(t, "E0326", c.Output.Label)
	assert.Equal(t, 30, c.Timeout, "unset flags do not mask the environment")
}

func TestMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("sweep: [unclosed"), 0644))
	_, err := Load(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	mock := Default()
	mock.Instrument.Mock = true
	require.NoError(t, mock.Validate())

	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"no address", func(c *Config) { c.Instrument.Mock = false }, "instrument.addr"},
		{"bad gpib", func(c *Config) {
			c.Instrument.Mock = false
			c.Instrument.Addr = "192.168.1.5:1234"
			c.Instrument.GPIB = "GPIB0::31::INSTR"
		}, "instrument.gpib"},
		{"prober without address", func(c *Config) { c.Prober.Enable = true }, "prober.addr"},
		{"prober velocity", func(c *Config) {
			c.Prober.Enable, c.Prober.Mock, c.Prober.Velocity = true, true, 0
		}, "prober.velocity"},
		{"zero step", func(c *Config) { c.Sweep.Step = 0 }, "step"},
		{"bad policy", func(c *Config) { c.Sweep.Policy = "zigzag" }, "policy"},
		{"zero step size", func(c *Config) { c.Sweep.StepSize = 0 }, "stepsize"},
		{"same terminals", func(c *Config) { c.Sweep.Low = 3 }, "terminal"},
		{"no compliance", func(c *Config) { c.Sweep.Compliance = 0 }, "compliance"},
		{"kind", func(c *Config) { c.Sweep.Kind = "ContactTest" }, "sweep.kind"},
		{"sampling kind", func(c *Config) { c.Sweep.Kind = string(sweep.Sampling) }, "sweep.kind"},
		{"timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mock
			tt.edit(&c)
			var cerr *sweep.ConfigurationError
			err := c.Validate()
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestRangeAndExecutor(t *testing.T) {
	c := Default()
	r, err := c.Range()
	require.NoError(t, err)
	assert.Equal(t, []sweep.Amplitude{0.1, 0.2}, r.Values())
	assert.Equal(t, sweep.Executor{Low: 1, High: 3, Step: 0.1e-3, Compliance: 10e-3}, c.Executor())

	addr, err := c.InstrumentGPIB()
	require.NoError(t, err)
	assert.Equal(t, 18, addr)
	addr, err = c.ProberGPIB()
	require.NoError(t, err)
	assert.Equal(t, 7, addr)
}

func TestOutputDir(t *testing.T) {
	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}
	c := Default()

	c.Output.Dir = "/data/iv/"
	dir, err := c.OutputDir(env(nil))
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/data/iv"), dir)

	c.Output.Dir = ""
	dir, err = c.OutputDir(env(map[string]string{"APPDATA": "/home/op/AppData/Roaming"}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/op/AppData/Roaming", "Instr", "Agilent4156C"), dir)

	base, err := os.UserConfigDir()
	if err != nil {
		t.Skip("no user config dir on this system")
	}
	dir, err = c.OutputDir(env(nil))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "Instr", "Agilent4156C"), dir)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sweep.first", envKey("IVSWEEP_SWEEP_FIRST"))
	assert.Equal(t, "timeout", envKey("IVSWEEP_TIMEOUT"))
	assert.Equal(t, "log.level", envKey("IVSWEEP_LOG_LEVEL"))
}
