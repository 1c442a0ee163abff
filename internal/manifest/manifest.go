package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// ErrNoManifest is returned by Latest when the directory holds no manifest.
var ErrNoManifest = errors.New("manifest: no manifest found")

const (
	fileTimeLayout = "20060102150405"
	fileInfix      = "_manifest_"
)

// Manifest is the exported collection of records for one staging run.
type Manifest struct {
	ID        string
	CreatedAt time.Time
	Records   []Record
}

type manifestJSON struct {
	ManifestID string   `json:"manifest_id"`
	CreatedAt  string   `json:"created_at"`
	Records    []Record `json:"records"`
}

// New assigns a fresh id and timestamp to records.
func New(records []Record, now time.Time) *Manifest {
	return &Manifest{
		ID:        newID(),
		CreatedAt: now.UTC(),
		Records:   append([]Record(nil), records...),
	}
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	recs := m.Records
	if recs == nil {
		recs = []Record{}
	}
	return json.Marshal(manifestJSON{
		ManifestID: m.ID,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
		Records:    recs,
	})
}

func (m *Manifest) UnmarshalJSON(b []byte) error {
	var in manifestJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	if strings.TrimSpace(in.ManifestID) == "" {
		return fmt.Errorf("manifest: missing manifest_id")
	}
	at, err := parseTime(in.CreatedAt)
	if err != nil {
		return fmt.Errorf("manifest: created_at: %w", err)
	}
	*m = Manifest{ID: in.ManifestID, CreatedAt: at, Records: in.Records}
	return nil
}

// ByKey maps file key (raw base name) to its record. Later records win.
func (m *Manifest) ByKey() map[string]Record {
	if m == nil {
		return map[string]Record{}
	}
	out := make(map[string]Record, len(m.Records))
	for _, r := range m.Records {
		out[r.Key()] = r
	}
	return out
}

// Counts returns the number of successful records and the total.
func (m *Manifest) Counts() (succeeded, total int) {
	if m == nil {
		return 0, 0
	}
	for _, r := range m.Records {
		if r.Successful() {
			succeeded++
		}
	}
	return succeeded, len(m.Records)
}

// FileName is "<YYYYmmddHHMMSS>_manifest_<id>.json".
func FileName(id string, at time.Time) string {
	return at.UTC().Format(fileTimeLayout) + fileInfix + id + ".json"
}

// Export wraps records in a new manifest and writes it into dir under a
// unique name. Existing files are never overwritten.
func Export(dir string, records []Record, now time.Time) (string, *Manifest, error) {
	m := New(records, now)

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("manifest: encode: %w", err)
	}

	path := filepath.Join(dir, FileName(m.ID, m.CreatedAt))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", nil, fmt.Errorf("manifest: create %s: %w", path, err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", nil, fmt.Errorf("manifest: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", nil, fmt.Errorf("manifest: close %s: %w", path, err)
	}
	return path, m, nil
}

// Read parses a manifest file. The path must have a .json extension.
func Read(path string) (*Manifest, error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return nil, fmt.Errorf("manifest: %s is not a JSON file", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return &m, nil
}

// Latest returns the path of the newest manifest in dir. Names sort by their
// timestamp prefix; manifests sharing the newest prefix are ordered by
// created_at.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
		}
		return "", fmt.Errorf("manifest: list %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isManifestName(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	prefix := names[0][:len(fileTimeLayout)]

	best := filepath.Join(dir, names[0])
	var bestAt time.Time
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) {
			break
		}
		p := filepath.Join(dir, n)
		m, err := Read(p)
		if err != nil {
			continue
		}
		if m.CreatedAt.After(bestAt) {
			best, bestAt = p, m.CreatedAt
		}
	}
	return best, nil
}

func isManifestName(name string) bool {
	if !strings.HasSuffix(name, ".json") || len(name) <= len(fileTimeLayout)+len(fileInfix) {
		return false
	}
	if _, err := time.Parse(fileTimeLayout, name[:len(fileTimeLayout)]); err != nil {
		return false
	}
	return strings.HasPrefix(name[len(fileTimeLayout):], fileInfix)
}
