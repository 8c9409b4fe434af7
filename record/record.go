/*Package record persists sweep results.

Begin claims a session id by creating its manifest; sessions started in the
same second get distinct ids.  Each Record call then writes
	<dir>/<Kind>_<session>[_<label>]_<NNN>.txt   archival copy, never overwritten
	<dir>/last.txt                                most recent result
	<dir>/session_<session>.yml                   manifest with checksums

Every file is written to a temporary file in dir, synced, and renamed into
place, so a crash mid-write cannot damage an archive that already exists.
*/
package record

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"

	"github.com/nasa-jpl/ivsweep/sweep"
)

// LastName is the file name of the most recent result
const LastName = "last.txt"

// maxClaims bounds the ids Begin tries for sessions started in the same second
const maxClaims = 100

// ErrArchiveExists is returned when an archive already exists with different contents
var ErrArchiveExists = errors.New("archive exists with different contents")

// Recorder writes results under Dir on Fs.  It implements sweep.Recorder.
type Recorder struct {
	Fs   afero.Fs
	Dir  string
	Kind sweep.Kind

	// Label is an optional device or site tag placed in archive names,
	// e.g. "E0326-2-1_X3_Y2_D169"
	Label string

	// Meta is copied into every manifest this recorder writes
	Meta map[string]string

	Log logrus.FieldLogger

	mu        sync.Mutex
	manifests map[string]*Manifest
}

// New returns a Recorder writing kind results under dir
func New(fs afero.Fs, dir string, kind sweep.Kind) *Recorder {
	return &Recorder{
		Fs:        fs,
		Dir:       dir,
		Kind:      kind,
		Log:       logrus.StandardLogger(),
		manifests: map[string]*Manifest{}}
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '-'
		}
		return r
	}, s)
}

// ArchiveName is the file name of the index'th archive of a session
func (r *Recorder) ArchiveName(sessionID string, index int) string {
	label := ""
	if r.Label != "" {
		label = "_" + sanitize(r.Label)
	}
	return fmt.Sprintf("%s_%s%s_%03d.txt", r.Kind, sanitize(sessionID), label, index)
}

// LastPath is the path of the most recent result
func (r *Recorder) LastPath() string {
	return filepath.Join(r.Dir, LastName)
}

// ManifestPath is the path of a session's manifest
func (r *Recorder) ManifestPath(sessionID string) string {
	return filepath.Join(r.Dir, ManifestName(sanitize(sessionID)))
}

// Begin claims sessionID in Dir by creating its manifest exclusively.  If
// the manifest already exists, Begin tries sessionID_2, sessionID_3, ...
// and returns the first id it could claim.
func (r *Recorder) Begin(sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.Fs.MkdirAll(r.Dir, 0o755); err != nil {
		return "", &sweep.PersistenceError{Path: r.Dir, Err: err}
	}
	for n := 1; n <= maxClaims; n++ {
		id := sanitize(sessionID)
		if n > 1 {
			id = fmt.Sprintf("%s_%d", id, n)
		}
		path := r.ManifestPath(id)
		f, err := r.Fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", &sweep.PersistenceError{Path: path, Err: err}
		}
		m := r.newManifest(id)
		out, err := yaml.Marshal(m)
		if err == nil {
			_, err = f.Write(out)
		}
		if err == nil {
			err = f.Sync()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			r.Fs.Remove(path)
			return "", &sweep.PersistenceError{Path: path, Err: err}
		}
		r.manifests[id] = m
		if n > 1 {
			r.Log.WithFields(logrus.Fields{"session": sessionID, "claimed": id}).Warn("session id in use, renamed")
		}
		return id, nil
	}
	return "", &sweep.PersistenceError{
		Path: r.ManifestPath(sessionID),
		Err:  errors.Errorf("no free session id after %d tries", maxClaims),
	}
}

// Record durably writes res and returns the archive path.  Recording the
// same result again is a no-op for the archive; recording a different
// result under an existing archive name is a *sweep.PersistenceError.
func (r *Recorder) Record(sessionID string, res sweep.Result) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.Fs.MkdirAll(r.Dir, 0o755); err != nil {
		return "", &sweep.PersistenceError{Path: r.Dir, Err: err}
	}
	data := Encode(r.Kind.Header(), res.Points)
	name := r.ArchiveName(sessionID, res.Index)
	archive := filepath.Join(r.Dir, name)

	exists, err := afero.Exists(r.Fs, archive)
	if err != nil {
		return "", &sweep.PersistenceError{Path: archive, Err: err}
	}
	if exists {
		prev, err := afero.ReadFile(r.Fs, archive)
		if err != nil {
			return "", &sweep.PersistenceError{Path: archive, Err: err}
		}
		if !bytes.Equal(prev, data) {
			return "", &sweep.PersistenceError{Path: archive, Err: ErrArchiveExists}
		}
	} else if err := r.writeAtomic(archive, data); err != nil {
		return "", err
	}

	if err := r.writeAtomic(r.LastPath(), data); err != nil {
		return archive, err
	}

	m, err := r.manifest(sessionID)
	if err != nil {
		return archive, &sweep.PersistenceError{Path: r.ManifestPath(sessionID), Err: err}
	}
	m.put(Entry{
		Index:     res.Index,
		Amplitude: float64(res.Amplitude),
		File:      name,
		Points:    len(res.Points),
		Aborted:   res.Aborted,
		CRC32:     Checksum(data),
	})
	out, err := yaml.Marshal(m)
	if err != nil {
		return archive, &sweep.PersistenceError{Path: r.ManifestPath(sessionID), Err: err}
	}
	if err := r.writeAtomic(r.ManifestPath(sessionID), out); err != nil {
		return archive, err
	}
	return archive, nil
}

// manifest returns the cached manifest for a session, loading one left on
// disk by an earlier process if there is one
func (r *Recorder) manifest(sessionID string) (*Manifest, error) {
	if r.manifests == nil {
		r.manifests = map[string]*Manifest{}
	}
	if m, ok := r.manifests[sessionID]; ok {
		return m, nil
	}
	path := r.ManifestPath(sessionID)
	m, err := LoadManifest(r.Fs, path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		m = r.newManifest(sessionID)
	}
	r.addMeta(m)
	r.manifests[sessionID] = m
	return m, nil
}

func (r *Recorder) newManifest(sessionID string) *Manifest {
	if r.manifests == nil {
		r.manifests = map[string]*Manifest{}
	}
	m := &Manifest{Session: sessionID, Kind: string(r.Kind), Label: r.Label}
	r.addMeta(m)
	return m
}

func (r *Recorder) addMeta(m *Manifest) {
	if len(r.Meta) > 0 {
		if m.Meta == nil {
			m.Meta = map[string]string{}
		}
		for k, v := range r.Meta {
			m.Meta[k] = v
		}
	}
}

// writeAtomic writes data to a temporary file beside path and renames it over path
func (r *Recorder) writeAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	f, err := afero.TempFile(r.Fs, dir, "."+base+".tmp")
	if err != nil {
		return &sweep.PersistenceError{Path: path, Err: err}
	}
	tmp := f.Name()
	fail := func(err error) error {
		f.Close()
		r.Fs.Remove(tmp)
		return &sweep.PersistenceError{Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		r.Fs.Remove(tmp)
		return &sweep.PersistenceError{Path: path, Err: err}
	}
	if err := r.Fs.Rename(tmp, path); err != nil {
		r.Fs.Remove(tmp)
		return &sweep.PersistenceError{Path: path, Err: err}
	}
	return nil
}

// Archives lists the archive file names in dir, in name order
func Archives(fs afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	out := []string{}
	for _, fi := range infos {
		n := fi.Name()
		if fi.IsDir() || strings.HasPrefix(n, ".") || n == LastName || !strings.HasSuffix(n, ".txt") {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
