package record

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/snksoft/crc"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// Manifest indexes the archives of one session
type Manifest struct {
	Session string            `yaml:"session"`
	Kind    string            `yaml:"kind"`
	Label   string            `yaml:"label,omitempty"`
	Meta    map[string]string `yaml:"meta,omitempty"`
	Entries []Entry           `yaml:"entries"`
}

// Entry describes one archived sweep
type Entry struct {
	Index     int     `yaml:"index"`
	Amplitude float64 `yaml:"amplitude"`
	File      string  `yaml:"file"`
	Points    int     `yaml:"points"`
	Aborted   bool    `yaml:"aborted"`
	CRC32     string  `yaml:"crc32"`
}

// Checksum is the CRC-32 (IEEE) of data, formatted as 8 hex digits
func Checksum(data []byte) string {
	return fmt.Sprintf("%08x", crc.CalculateCRC(crc.CRC32, data))
}

// ManifestName is the file name of a session's manifest
func ManifestName(sessionID string) string {
	return "session_" + sessionID + ".yml"
}

// put inserts or replaces the entry with the same index, keeping index order
func (m *Manifest) put(e Entry) {
	for i := range m.Entries {
		if m.Entries[i].Index == e.Index {
			m.Entries[i] = e
			return
		}
	}
	m.Entries = append(m.Entries, e)
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Index < m.Entries[j].Index })
}

// LoadManifest reads a manifest from fs
func LoadManifest(fs afero.Fs, path string) (*Manifest, error) {
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, errors.Wrapf(err, "record: parsing manifest %s", path)
	}
	return m, nil
}

// Verify recomputes the checksum of every archive a manifest lists.  The
// returned slice names each archive that is missing or altered; err is
// non-nil if there are any.
func Verify(fs afero.Fs, manifestPath string) ([]string, error) {
	m, err := LoadManifest(fs, manifestPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(manifestPath)
	var bad []string
	for _, e := range m.Entries {
		b, err := afero.ReadFile(fs, filepath.Join(dir, e.File))
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", e.File, err))
			continue
		}
		if sum := Checksum(b); sum != e.CRC32 {
			bad = append(bad, fmt.Sprintf("%s: checksum %s, manifest says %s", e.File, sum, e.CRC32))
		}
	}
	if len(bad) > 0 {
		return bad, fmt.Errorf("record: %d of %d archives failed verification:\n%s",
			len(bad), len(m.Entries), strings.Join(bad, "\n"))
	}
	return nil, nil
}
