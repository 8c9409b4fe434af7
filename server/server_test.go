package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/ivsweep/record"
	"github.com/nasa-jpl/ivsweep/sweep"
)

const dir = "/out"

type fixedStatus sweep.Status

func (f fixedStatus) Status() sweep.Status { return sweep.Status(f) }

func setup(t *testing.T, session StatusSource) (*httptest.Server, *record.Recorder) {
	t.Helper()
	fs := afero.NewMemMapFs()
	rec := record.New(fs, dir, sweep.DoubleSweepFromZero)
	for i, amp := range []sweep.Amplitude{0.1, 0.2} {
		_, err := rec.Record("20261016_120000", sweep.Result{
			Index:     i,
			Amplitude: amp,
			Points:    []sweep.Point{{X: 0, I: 1e-13}, {X: float64(amp), I: 1.7e-13}},
		})
		require.NoError(t, err)
	}
	require.NoError(t, afero.WriteFile(fs, dir+"/.hidden", []byte("x"), 0644))
	srv := httptest.NewServer(New(fs, dir, session).Handler())
	t.Cleanup(srv.Close)
	return srv, rec
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestStatus(t *testing.T) {
	srv, _ := setup(t, fixedStatus{State: sweep.Running, Session: "20261016_120000", Done: 1, Total: 2})
	code, body := get(t, srv.URL+"/status")
	require.Equal(t, http.StatusOK, code)
	var st map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "running", st["state"])
	assert.Equal(t, 1., st["done"])
}

func TestStatusWithoutSession(t *testing.T) {
	srv, _ := setup(t, nil)
	code, _ := get(t, srv.URL+"/status")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestLast(t *testing.T) {
	srv, _ := setup(t, nil)
	code, body := get(t, srv.URL+"/last")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "V,I\n0,1e-13\n0.2,1.7e-13\n", body)
}

func TestArchives(t *testing.T) {
	srv, rec := setup(t, nil)
	code, body := get(t, srv.URL+"/archives")
	require.Equal(t, http.StatusOK, code)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(body), &names))
	assert.Equal(t, []string{
		rec.ArchiveName("20261016_120000", 0),
		rec.ArchiveName("20261016_120000", 1),
	}, names)

	code, body = get(t, srv.URL+"/archives/"+names[0])
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "V,I\n0,1e-13\n0.1,1.7e-13\n", body)

	code, _ = get(t, srv.URL+"/archives/"+record.ManifestName("20261016_120000"))
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, srv.URL+"/archives/nope.txt")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestArchiveRejectsTraversal(t *testing.T) {
	srv, _ := setup(t, nil)
	for _, name := range []string{"..%2Fetc%2Fpasswd", ".hidden", "..", "a%5Cb.txt"} {
		code, _ := get(t, srv.URL+"/archives/"+name)
		assert.Equal(t, http.StatusBadRequest, code, name)
	}
}

func TestEndpoints(t *testing.T) {
	srv, _ := setup(t, nil)
	code, body := get(t, srv.URL+"/endpoints")
	require.Equal(t, http.StatusOK, code)
	var eps []string
	require.NoError(t, json.Unmarshal([]byte(body), &eps))
	assert.Equal(t, []string{
		"GET /archives",
		"GET /archives/{name}",
		"GET /last",
		"GET /status",
		"GET /endpoints",
	}, eps)
}

func TestValidName(t *testing.T) {
	assert.True(t, validName("DoubleSweepFromZero_20261016_120000_000.txt"))
	assert.False(t, validName("../x"))
	assert.False(t, validName(""))
	assert.False(t, validName("C:x"))
}
