package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"pipeline/internal/tabular"
)

// SQLDB implements Database on top of database/sql. Backends supply the
// connector, dialect and catalog query.
type SQLDB struct {
	Loc     string
	Dialect Dialect

	// Connect opens a fresh handle; it is closed before each call returns.
	Connect func(ctx context.Context) (*sql.DB, error)

	// TablesQuery lists base table names, one column, sorted.
	TablesQuery string

	// SplitScript breaks a script into executable batches. Nil runs the
	// script as a single Exec.
	SplitScript func(script string) []string
}

var _ Database = (*SQLDB)(nil)

func (s *SQLDB) Location() string { return s.Loc }

func (s *SQLDB) with(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := s.Connect(ctx)
	if err != nil {
		return fmt.Errorf("%s: connect %s: %w", s.Dialect.Name, s.Loc, err)
	}
	defer db.Close()
	return fn(db)
}

func (s *SQLDB) Exec(ctx context.Context, query string, args ...any) error {
	return s.with(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%s: exec: %w", s.Dialect.Name, err)
		}
		return nil
	})
}

func (s *SQLDB) Query(ctx context.Context, query string, args ...any) (*tabular.Frame, error) {
	var out *tabular.Frame
	err := s.with(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: query: %w", s.Dialect.Name, err)
		}
		defer rows.Close()

		out, err = ScanFrame(rows)
		return err
	})
	return out, err
}

func (s *SQLDB) Tables(ctx context.Context) ([]string, error) {
	var out []string
	err := s.with(ctx, func(db *sql.DB) error {
		var err error
		out, err = listTables(ctx, db, s.TablesQuery)
		return err
	})
	return out, err
}

func (s *SQLDB) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.with(ctx, func(db *sql.DB) error {
		return db.QueryRowContext(ctx, BuildCount(s.Dialect, table)).Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("%s: count %s: %w", s.Dialect.Name, table, err)
	}
	return n, nil
}

func (s *SQLDB) ExecScript(ctx context.Context, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: read script: %w", s.Dialect.Name, err)
	}

	batches := []string{string(b)}
	if s.SplitScript != nil {
		batches = s.SplitScript(string(b))
	}

	return s.with(ctx, func(db *sql.DB) error {
		for i, stmt := range batches {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: script %s batch %d: %w", s.Dialect.Name, path, i+1, err)
			}
		}
		return nil
	})
}

func (s *SQLDB) LoadParquet(ctx context.Context, path, table string) (int64, error) {
	frame, err := tabular.ReadParquet(path)
	if err != nil {
		return 0, err
	}

	var delta int64
	err = s.with(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		delta, err = loadFrameTx(ctx, tx, s.Dialect, s.TablesQuery, table, frame)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("%s: load %s into %s: %w", s.Dialect.Name, path, table, err)
	}
	return delta, nil
}

// queryer is the part of *sql.DB and *sql.Tx the helpers need.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func listTables(ctx context.Context, q queryer, query string) ([]string, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// loadFrameTx appends frame to table inside tx, creating the table first
// when needed, and returns the row count delta.
func loadFrameTx(ctx context.Context, tx queryer, d Dialect, tablesQuery, table string, frame *tabular.Frame) (int64, error) {
	tables, err := listTables(ctx, tx, tablesQuery)
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

	var before int64
	if exists {
		if err := tx.QueryRowContext(ctx, BuildCount(d, table)).Scan(&before); err != nil {
			return 0, fmt.Errorf("count before: %w", err)
		}
	} else {
		ddl, err := BuildCreateTable(d, table, frame.Columns)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return 0, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	cols := frame.Names()
	step := d.BatchRows(len(cols))
	for start := 0; start < len(frame.Rows); start += step {
		end := min(start+step, len(frame.Rows))
		chunk := frame.Rows[start:end]

		stmt, err := BuildInsert(d, table, cols, len(chunk))
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, stmt, flattenRows(chunk)...); err != nil {
			return 0, fmt.Errorf("insert rows %d-%d: %w", start, end-1, err)
		}
	}

	var after int64
	if err := tx.QueryRowContext(ctx, BuildCount(d, table)).Scan(&after); err != nil {
		return 0, fmt.Errorf("count after: %w", err)
	}
	return after - before, nil
}

// ScanFrame drains rows into a frame.
func ScanFrame(rows *sql.Rows) (*tabular.Frame, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var values [][]any
	for rows.Next() {
		dest := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		values = append(values, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return FrameFromValues(names, values), nil
}
