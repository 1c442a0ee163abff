package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"pipeline/internal/tabular"
)

var (
	// ErrUnknownKind is returned for a backend kind nobody registered.
	ErrUnknownKind = errors.New("storage: unknown backend kind")

	// ErrExists is returned by Create when the target database already exists.
	ErrExists = errors.New("storage: database already exists")

	// ErrNotFound is returned by Open when the target database does not exist.
	ErrNotFound = errors.New("storage: database not found")
)

// Config identifies a database.
//
// Location is a file path for sqlite and a database name for server
// backends. DSN is the server connection string (unused by sqlite).
type Config struct {
	Kind     string
	Location string
	DSN      string
}

// Database is the adapter the pipeline talks to.
//
// Every method acquires its own connection and releases it before
// returning; no connection outlives a single call.
type Database interface {
	// Location is the identity the database was created or opened with.
	Location() string

	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (*tabular.Frame, error)

	// Tables lists base tables, sorted by name.
	Tables(ctx context.Context) ([]string, error)
	CountRows(ctx context.Context, table string) (int64, error)

	// ExecScript runs a multi-statement SQL file.
	ExecScript(ctx context.Context, path string) error

	// LoadParquet appends the rows of a staged Parquet file to table, creating
	// the table from the file's columns when it does not exist. It returns
	// the change in the table's row count.
	LoadParquet(ctx context.Context, path, table string) (int64, error)
}

// Backend creates and opens databases of one kind.
type Backend interface {
	// Create makes a new empty database at cfg.Location. It must fail with
	// ErrExists rather than reuse an existing database.
	Create(ctx context.Context, cfg Config) (Database, error)

	// Open attaches to an existing database, failing with ErrNotFound.
	Open(ctx context.Context, cfg Config) (Database, error)
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// Register makes a backend available under kind. It is called from backend
// package init functions and panics on empty kind, nil backend or a
// duplicate kind.
func Register(kind string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if b == nil {
		panic("storage: Register called with nil backend")
	}
	if _, exists := backends[kind]; exists {
		panic(fmt.Sprintf("storage: backend already registered for kind=%q", kind))
	}
	backends[kind] = b
}

// Kinds lists registered backend kinds.
func Kinds() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookup(kind string) (Backend, error) {
	if kind == "" {
		return nil, fmt.Errorf("%w: empty kind", ErrUnknownKind)
	}
	backendsMu.RLock()
	b := backends[kind]
	backendsMu.RUnlock()

	if b == nil {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownKind, kind, strings.Join(Kinds(), ", "))
	}
	return b, nil
}

// Create makes a new database exactly at cfg.Location.
func Create(ctx context.Context, cfg Config) (Database, error) {
	b, err := lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}
	return b.Create(ctx, cfg)
}

// maxVersionAttempts bounds the counter suffixes tried for one timestamp.
const maxVersionAttempts = 100

// CreateVersioned makes a new database whose location carries a timestamp
// suffix, so repeated runs never reuse an earlier database. When that
// location is taken (two runs in the same second) a counter is appended:
// "warehouse_20260101120000_1", "_2" and so on.
func CreateVersioned(ctx context.Context, cfg Config, at time.Time) (Database, error) {
	base := cfg.Location
	var err error
	for n := 0; n < maxVersionAttempts; n++ {
		cfg.Location = versionedLocation(cfg.Kind, base, at, n)
		var db Database
		db, err = Create(ctx, cfg)
		if !errors.Is(err, ErrExists) {
			return db, err
		}
	}
	return nil, fmt.Errorf("%w: %d versions of %s at %s", err, maxVersionAttempts, base, at.UTC().Format(versionLayout))
}

// Open attaches to an existing database.
func Open(ctx context.Context, cfg Config) (Database, error) {
	b, err := lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, cfg)
}

// VersionedLocation appends "_YYYYmmddHHMMSS" to a location. For file-backed
// kinds the suffix goes before the extension ("db/warehouse_20260101120000.db").
func VersionedLocation(kind, location string, at time.Time) string {
	return versionedLocation(kind, location, at, 0)
}

const versionLayout = "20060102150405"

// versionedLocation is VersionedLocation with counter n appended when n > 0.
func versionedLocation(kind, location string, at time.Time, n int) string {
	stamp := at.UTC().Format(versionLayout)
	if n > 0 {
		stamp += "_" + strconv.Itoa(n)
	}
	if kind != "sqlite" {
		return location + "_" + stamp
	}
	ext := filepath.Ext(location)
	return strings.TrimSuffix(location, ext) + "_" + stamp + ext
}

// HasTable reports whether table exists in db.
func HasTable(ctx context.Context, db Database, table string) (bool, error) {
	tables, err := db.Tables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}
