package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ivsweep/config"
	"github.com/nasa-jpl/ivsweep/record"
	"github.com/nasa-jpl/ivsweep/sweep"
)

func noEnv(string) string { return "" }

func mockConfig() config.Config {
	c := config.Default()
	c.Instrument.Mock = true
	c.Output.Dir = "/out"
	c.Log.Level = "error"
	return c
}

func TestRunSessionWithMock(t *testing.T) {
	fs := afero.NewMemMapFs()
	var out bytes.Buffer
	c := mockConfig()
	c.Output.Label = "D169"

	sum, err := runSession(c, fs, noEnv, &out)
	require.NoError(t, err)
	assert.Equal(t, sweep.Completed, sum.State)
	require.Len(t, sum.Files, 2)
	assert.Contains(t, filepath.Base(sum.Files[0]), "_D169_000.txt")

	names, err := record.Archives(fs, "/out")
	require.NoError(t, err)
	assert.Len(t, names, 2)

	m, err := record.LoadManifest(fs, filepath.Join("/out", record.ManifestName(sum.Session)))
	require.NoError(t, err)
	assert.Equal(t, "mock", m.Meta["instrument"])
	assert.Equal(t, "SMU1-SMU3", m.Meta["terminals"])
	bad, err := record.Verify(fs, filepath.Join("/out", record.ManifestName(sum.Session)))
	require.NoError(t, err)
	assert.Empty(t, bad)

	assert.Contains(t, out.String(), "completed after 2 sweeps")
	assert.Contains(t, out.String(), filepath.Base(sum.Files[1]))
}

func TestRunSessionRecordsChuckPosition(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := mockConfig()
	c.Prober.Enable = true
	c.Prober.Mock = true

	sum, err := runSession(c, fs, noEnv, &bytes.Buffer{})
	require.NoError(t, err)
	m, err := record.LoadManifest(fs, filepath.Join("/out", record.ManifestName(sum.Session)))
	require.NoError(t, err)
	assert.Contains(t, m.Meta, "chuck.x")
	assert.Contains(t, m.Meta, "chuck.z")
}

func TestRunSessionRejectsConfiguration(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := mockConfig()
	c.Sweep.Step = -0.1

	_, err := runSession(c, fs, noEnv, &bytes.Buffer{})
	var cerr *sweep.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	exists, _ := afero.DirExists(fs, "/out")
	assert.False(t, exists, "nothing is written for a bad configuration")
}

func TestRunSessionOutputDirFromAppData(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := mockConfig()
	c.Output.Dir = ""
	env := func(k string) string {
		if k == "APPDATA" {
			return "/appdata"
		}
		return ""
	}
	_, err := runSession(c, fs, env, &bytes.Buffer{})
	require.NoError(t, err)
	ok, err := afero.Exists(fs, filepath.Join("/appdata", "Instr", "Agilent4156C", record.LastName))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := record.New(fs, "/out", sweep.DoubleSweepFromZero)
	path, err := rec.Record("20261016_120000", sweep.Result{Amplitude: 0.1, Points: []sweep.Point{{X: 0, I: 0}}})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, verify(fs, rec.ManifestPath("20261016_120000"), &out))
	assert.Contains(t, out.String(), "OK")

	require.NoError(t, afero.WriteFile(fs, path, []byte("V,I\n0,1\n"), 0644))
	out.Reset()
	assert.Error(t, verify(fs, rec.ManifestPath("20261016_120000"), &out))
	assert.Contains(t, out.String(), "BAD")
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	global := []string{"--config=" + filepath.Join(t.TempDir(), "none.yml"), "--log.level=error"}
	cmd.SetArgs(append(global, args...))
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Contains(t, execute(t, "version"), "ivsweep version "+Version)
}

func TestConfCommand(t *testing.T) {
	out := execute(t, "conf", "--sweep.last=0.9", "--output.label=E0326-2-1")
	assert.Contains(t, out, "last: 0.9")
	assert.Contains(t, out, "label: E0326-2-1")
	assert.Contains(t, out, "timeout: 600")
}

func TestProberPositionCommand(t *testing.T) {
	out := execute(t, "prober", "position", "--prober.mock", "--ref", "center")
	assert.Contains(t, out, "(0, 0, 10947.6) um")
}

func TestProberMoveCommand(t *testing.T) {
	out := execute(t, "prober", "move", "--prober.mock", "--", "1500", "-250")
	assert.Contains(t, out, "(1500, -250, 10947.6) um")
}

func TestPrintSummaryFailure(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, sweep.Summary{
		State:   sweep.Failed,
		Session: "20261016_120000",
		Sweeps:  3,
		Err:     errors.New("communication fault on sweep 2 at 0.3 V: i/o timeout"),
	}, "/out")
	assert.Contains(t, out.String(), "failed after 3 sweeps")
	assert.Contains(t, out.String(), "i/o timeout")
}
