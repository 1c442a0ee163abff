// Package tabular holds the in-memory table shape produced by transforms and
// consumed by storage backends, plus its on-disk columnar (Parquet) codec.
package tabular

import (
	"fmt"
	"strings"
)

// Kind is the logical type of a column.
type Kind int

const (
	KindString Kind = iota
	KindInt64
	KindFloat64
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column describes one frame column.
type Column struct {
	Name string
	Kind Kind
}

// Frame is a positional table. Rows[i][j] holds the value of Columns[j]:
// nil, string, int64, float64 or bool depending on the column kind.
type Frame struct {
	Columns []Column
	Rows    [][]any
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Names returns the column names in order.
func (f *Frame) Names() []string {
	out := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of a column, or -1.
func (f *Frame) Index(name string) int {
	for i, c := range f.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks column names are present and unique and every value
// matches its column kind.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("tabular: nil frame")
	}
	if len(f.Columns) == 0 {
		return fmt.Errorf("tabular: frame has no columns")
	}

	seen := make(map[string]bool, len(f.Columns))
	for _, c := range f.Columns {
		n := strings.TrimSpace(c.Name)
		if n == "" {
			return fmt.Errorf("tabular: empty column name")
		}
		if seen[n] {
			return fmt.Errorf("tabular: duplicate column %q", n)
		}
		seen[n] = true
	}

	for i, row := range f.Rows {
		if len(row) != len(f.Columns) {
			return fmt.Errorf("tabular: row %d has %d values, want %d", i, len(row), len(f.Columns))
		}
		for j, v := range row {
			if !kindAccepts(f.Columns[j].Kind, v) {
				return fmt.Errorf("tabular: row %d column %q: %T is not %s", i, f.Columns[j].Name, v, f.Columns[j].Kind)
			}
		}
	}
	return nil
}

func kindAccepts(k Kind, v any) bool {
	if v == nil {
		return true
	}
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindInt64:
		_, ok := v.(int64)
		return ok
	case KindFloat64:
		_, ok := v.(float64)
		return ok
	case KindBool:
		_, ok := v.(bool)
		return ok
	}
	return false
}

// Concat stacks frames that share the same columns.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("tabular: nothing to concat")
	}

	out := &Frame{Columns: append([]Column(nil), frames[0].Columns...)}
	for i, fr := range frames {
		if !sameColumns(out.Columns, fr.Columns) {
			return nil, fmt.Errorf("tabular: frame %d columns %v do not match %v", i, fr.Names(), out.Names())
		}
		out.Rows = append(out.Rows, fr.Rows...)
	}
	return out, nil
}

func sameColumns(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
