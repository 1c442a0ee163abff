// Package mssql is the Microsoft SQL Server backend, registered as "mssql".
//
// Location is the database name. DSN addresses the server in either the
// sqlserver:// URL form or the ADO "key=value;" form.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"pipeline/internal/storage"
	"pipeline/internal/tabular"
)

const tablesQuery = `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`

// Dialect is the SQL Server flavour of the shared SQL builders.
var Dialect = storage.Dialect{
	Name:        "mssql",
	Quote:       storage.QuoteBracket,
	Placeholder: storage.PlaceholderAt,
	Types: map[tabular.Kind]string{
		tabular.KindString:  "NVARCHAR(MAX)",
		tabular.KindInt64:   "BIGINT",
		tabular.KindFloat64: "FLOAT",
		tabular.KindBool:    "BIT",
	},
	// The server rejects more than 2100 parameters per request.
	MaxParams: 2000,
}

var goLine = regexp.MustCompile(`(?im)^[ \t]*GO[ \t]*;?[ \t]*$`)

type backend struct{}

func init() {
	storage.Register("mssql", backend{})
}

func (backend) Create(ctx context.Context, cfg storage.Config) (storage.Database, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("mssql: empty database name")
	}

	err := withServer(ctx, cfg.DSN, func(db *sql.DB) error {
		exists, err := databaseExists(ctx, db, cfg.Location)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", storage.ErrExists, cfg.Location)
		}
		if _, err := db.ExecContext(ctx, "CREATE DATABASE "+Dialect.Quote(cfg.Location)); err != nil {
			return fmt.Errorf("mssql: create database %s: %w", cfg.Location, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newDB(cfg)
}

func (backend) Open(ctx context.Context, cfg storage.Config) (storage.Database, error) {
	err := withServer(ctx, cfg.DSN, func(db *sql.DB) error {
		exists, err := databaseExists(ctx, db, cfg.Location)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", storage.ErrNotFound, cfg.Location)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newDB(cfg)
}

func withServer(ctx context.Context, dsn string, fn func(db *sql.DB) error) error {
	db, err := open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("mssql: connect server: %w", err)
	}
	defer db.Close()
	return fn(db)
}

func databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var id sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT DB_ID(@p1)`, name).Scan(&id); err != nil {
		return false, fmt.Errorf("mssql: lookup database %s: %w", name, err)
	}
	return id.Valid, nil
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newDB(cfg storage.Config) (*storage.SQLDB, error) {
	dsn, err := withDatabase(cfg.DSN, cfg.Location)
	if err != nil {
		return nil, err
	}
	return &storage.SQLDB{
		Loc:         cfg.Location,
		Dialect:     Dialect,
		TablesQuery: tablesQuery,
		SplitScript: splitBatches,
		Connect: func(ctx context.Context) (*sql.DB, error) {
			return open(ctx, dsn)
		},
	}, nil
}

// withDatabase rewrites dsn so it connects to the named database.
func withDatabase(dsn, name string) (string, error) {
	if strings.TrimSpace(dsn) == "" {
		return "", fmt.Errorf("mssql: empty dsn")
	}

	if strings.HasPrefix(strings.ToLower(dsn), "sqlserver://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("mssql: parse dsn: %w", err)
		}
		q := u.Query()
		q.Set("database", name)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}

	parts := strings.Split(dsn, ";")
	out := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(strings.SplitN(p, "=", 2)[0]))
		if key == "database" || key == "initial catalog" {
			continue
		}
		out = append(out, p)
	}
	out = append(out, "database="+name)
	return strings.Join(out, ";"), nil
}

// splitBatches splits a T-SQL script on GO separator lines.
func splitBatches(script string) []string {
	var out []string
	for _, b := range goLine.Split(script, -1) {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return out
}
