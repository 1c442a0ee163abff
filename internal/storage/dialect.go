package storage

import (
	"fmt"
	"strings"

	"pipeline/internal/tabular"
)

// Dialect captures the SQL differences between backends that the shared
// builders need.
type Dialect struct {
	Name string

	// Quote returns a safely quoted identifier.
	Quote func(ident string) string

	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder func(n int) string

	// Types maps frame kinds to column types.
	Types map[tabular.Kind]string

	// MaxParams bounds the bind parameters of a single statement.
	MaxParams int
}

// QuoteDouble quotes with ANSI double quotes, doubling embedded quotes.
func QuoteDouble(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteBracket quotes with SQL Server brackets, doubling embedded ']'.
func QuoteBracket(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// PlaceholderQuestion is the "?" style used by sqlite.
func PlaceholderQuestion(int) string { return "?" }

// PlaceholderDollar is the "$n" style used by postgres.
func PlaceholderDollar(n int) string { return fmt.Sprintf("$%d", n) }

// PlaceholderAt is the "@pN" style used by SQL Server.
func PlaceholderAt(n int) string { return fmt.Sprintf("@p%d", n) }

// ColumnType returns the column type for k, defaulting to the string type.
func (d Dialect) ColumnType(k tabular.Kind) string {
	if t, ok := d.Types[k]; ok {
		return t
	}
	return d.Types[tabular.KindString]
}

// BatchRows returns how many rows of width columns fit one INSERT.
func (d Dialect) BatchRows(width int) int {
	if width <= 0 || d.MaxParams <= 0 {
		return 1
	}
	n := d.MaxParams / width
	if n < 1 {
		return 1
	}
	return n
}

// BuildCreateTable returns CREATE TABLE DDL for the given columns.
func BuildCreateTable(d Dialect, table string, cols []tabular.Column) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("create table: empty table name")
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("create table %s: no columns", table)
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		defs = append(defs, d.Quote(c.Name)+" "+d.ColumnType(c.Kind))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(table), strings.Join(defs, ", ")), nil
}

// BuildInsert returns a multi-row INSERT for rows rows of the given columns.
func BuildInsert(d Dialect, table string, cols []string, rows int) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("insert %s: no columns", table)
	}
	if rows <= 0 {
		return "", fmt.Errorf("insert %s: no rows", table)
	}

	qcols := make([]string, len(cols))
	for i, c := range cols {
		qcols[i] = d.Quote(c)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(d.Quote(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(qcols, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String(), nil
}

// BuildCount returns a row count query for table.
func BuildCount(d Dialect, table string) string {
	return "SELECT COUNT(*) FROM " + d.Quote(table)
}

// flattenRows lays out rows as one positional argument list.
func flattenRows(rows [][]any) []any {
	if len(rows) == 0 {
		return nil
	}
	out := make([]any, 0, len(rows)*len(rows[0]))
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
