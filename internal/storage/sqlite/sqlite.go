// Package sqlite is the single-file database backend, registered as "sqlite".
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"pipeline/internal/storage"
	"pipeline/internal/tabular"
)

const tablesQuery = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`

// Dialect is the SQLite flavour of the shared SQL builders.
var Dialect = storage.Dialect{
	Name:        "sqlite",
	Quote:       storage.QuoteDouble,
	Placeholder: storage.PlaceholderQuestion,
	Types: map[tabular.Kind]string{
		tabular.KindString:  "TEXT",
		tabular.KindInt64:   "INTEGER",
		tabular.KindFloat64: "REAL",
		tabular.KindBool:    "BOOLEAN",
	},
	// SQLITE_MAX_VARIABLE_NUMBER on older builds.
	MaxParams: 999,
}

type backend struct{}

func init() {
	storage.Register("sqlite", backend{})
}

func (backend) Create(ctx context.Context, cfg storage.Config) (storage.Database, error) {
	path := cfg.Location
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrExists, path)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}

	db := newDB(path)
	// Forces the file header to be written.
	if err := db.Exec(ctx, `PRAGMA user_version = 1`); err != nil {
		return nil, err
	}
	return db, nil
}

func (backend) Open(ctx context.Context, cfg storage.Config) (storage.Database, error) {
	path := cfg.Location
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, path)
		}
		return nil, fmt.Errorf("sqlite: stat %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("sqlite: %s is a directory", path)
	}
	return newDB(path), nil
}

func newDB(path string) *storage.SQLDB {
	return &storage.SQLDB{
		Loc:         path,
		Dialect:     Dialect,
		TablesQuery: tablesQuery,
		Connect: func(ctx context.Context) (*sql.DB, error) {
			db, err := sql.Open("sqlite", path)
			if err != nil {
				return nil, err
			}
			if err := db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
			return db, nil
		},
	}
}
