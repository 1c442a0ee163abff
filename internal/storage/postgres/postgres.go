// Package postgres is the PostgreSQL backend, registered as "postgres".
//
// Location is the database name; DSN points at the server and is used as
// the administrative connection when creating databases.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"pipeline/internal/storage"
	"pipeline/internal/tabular"
)

const tablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`

const (
	codeDuplicateDatabase  = "42P04"
	codeInvalidCatalogName = "3D000"
)

// Dialect is the Postgres flavour of the shared SQL builders.
var Dialect = storage.Dialect{
	Name:        "postgres",
	Quote:       storage.QuoteDouble,
	Placeholder: storage.PlaceholderDollar,
	Types: map[tabular.Kind]string{
		tabular.KindString:  "TEXT",
		tabular.KindInt64:   "BIGINT",
		tabular.KindFloat64: "DOUBLE PRECISION",
		tabular.KindBool:    "BOOLEAN",
	},
	MaxParams: 65535,
}

type backend struct{}

func init() {
	storage.Register("postgres", backend{})
}

func (backend) Create(ctx context.Context, cfg storage.Config) (storage.Database, error) {
	if cfg.Location == "" {
		return nil, fmt.Errorf("postgres: empty database name")
	}
	admin, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	conn, err := pgx.ConnectConfig(ctx, admin)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect admin: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "CREATE DATABASE "+Dialect.Quote(cfg.Location)); err != nil {
		if pgCode(err) == codeDuplicateDatabase {
			return nil, fmt.Errorf("%w: %s", storage.ErrExists, cfg.Location)
		}
		return nil, fmt.Errorf("postgres: create database %s: %w", cfg.Location, err)
	}
	return newDB(cfg)
}

func (backend) Open(ctx context.Context, cfg storage.Config) (storage.Database, error) {
	db, err := newDB(cfg)
	if err != nil {
		return nil, err
	}
	conn, err := db.connect(ctx)
	if err != nil {
		if pgCode(err) == codeInvalidCatalogName {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, cfg.Location)
		}
		return nil, fmt.Errorf("postgres: open %s: %w", cfg.Location, err)
	}
	_ = conn.Close(ctx)
	return db, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// connConfig points the server DSN at the named database.
func connConfig(cfg storage.Config) (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.Location != "" {
		cc.Database = cfg.Location
	}
	return cc, nil
}

// DB is a Postgres database. Each call opens and closes its own connection.
type DB struct {
	name string
	cc   *pgx.ConnConfig
}

var _ storage.Database = (*DB)(nil)

func newDB(cfg storage.Config) (*DB, error) {
	cc, err := connConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &DB{name: cfg.Location, cc: cc}, nil
}

func (d *DB) connect(ctx context.Context) (*pgx.Conn, error) {
	return pgx.ConnectConfig(ctx, d.cc.Copy())
}

func (d *DB) with(ctx context.Context, fn func(conn *pgx.Conn) error) error {
	conn, err := d.connect(ctx)
	if err != nil {
		return fmt.Errorf("postgres: connect %s: %w", d.name, err)
	}
	defer conn.Close(context.Background())
	return fn(conn)
}

func (d *DB) Location() string { return d.name }

func (d *DB) Exec(ctx context.Context, query string, args ...any) error {
	return d.with(ctx, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: exec: %w", err)
		}
		return nil
	})
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (*tabular.Frame, error) {
	var out *tabular.Frame
	err := d.with(ctx, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("postgres: query: %w", err)
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Name
		}

		var values [][]any
		for rows.Next() {
			vals, err := rows.Values()
			if err != nil {
				return err
			}
			for i, v := range vals {
				vals[i] = plainValue(v)
			}
			values = append(values, vals)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("postgres: query: %w", err)
		}
		out = storage.FrameFromValues(names, values)
		return nil
	})
	return out, err
}

// plainValue unwraps pgtype values that have no plain Go equivalent.
func plainValue(v any) any {
	if n, ok := v.(pgtype.Numeric); ok {
		if !n.Valid {
			return nil
		}
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	}
	return v
}

func (d *DB) Tables(ctx context.Context) ([]string, error) {
	var out []string
	err := d.with(ctx, func(conn *pgx.Conn) error {
		var err error
		out, err = listTables(ctx, conn)
		return err
	})
	return out, err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listTables(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.Query(ctx, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: list tables: %w", err)
	}
	return names, nil
}

func (d *DB) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := d.with(ctx, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, storage.BuildCount(Dialect, table)).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", table, err)
	}
	return n, nil
}

// ExecScript sends the whole file in one round trip; argument-less Exec
// uses the simple protocol, which accepts multiple statements.
func (d *DB) ExecScript(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("postgres: read script: %w", err)
	}
	return d.with(ctx, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("postgres: script %s: %w", path, err)
		}
		return nil
	})
}

func (d *DB) LoadParquet(ctx context.Context, path, table string) (int64, error) {
	frame, err := tabular.ReadParquet(path)
	if err != nil {
		return 0, err
	}

	var delta int64
	err = d.with(ctx, func(conn *pgx.Conn) error {
		return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			var err error
			delta, err = copyFrame(ctx, tx, table, frame)
			return err
		})
	})
	if err != nil {
		return 0, fmt.Errorf("postgres: load %s into %s: %w", path, table, err)
	}
	return delta, nil
}

func copyFrame(ctx context.Context, tx pgx.Tx, table string, frame *tabular.Frame) (int64, error) {
	tables, err := listTables(ctx, tx)
	if err != nil {
		return 0, err
	}
	exists := false
	for _, t := range tables {
		if t == table {
			exists = true
			break
		}
	}

	count := storage.BuildCount(Dialect, table)
	var before int64
	if exists {
		if err := tx.QueryRow(ctx, count).Scan(&before); err != nil {
			return 0, fmt.Errorf("count before: %w", err)
		}
	} else {
		ddl, err := storage.BuildCreateTable(Dialect, table, frame.Columns)
		if err != nil {
			return 0, err
		}
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return 0, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	if len(frame.Rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, frame.Names(), pgx.CopyFromRows(frame.Rows)); err != nil {
			return 0, fmt.Errorf("copy rows: %w", err)
		}
	}

	var after int64
	if err := tx.QueryRow(ctx, count).Scan(&after); err != nil {
		return 0, fmt.Errorf("count after: %w", err)
	}
	return after - before, nil
}
