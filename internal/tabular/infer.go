package tabular

import (
	"fmt"
	"strconv"
	"strings"
)

// InferKinds picks a coarse kind per column from string samples.
// Empty cells are ignored; a column with no values is a string column.
// Integer beats bool beats float, so "1"/"0" columns stay integers.
func InferKinds(width int, rows [][]string) []Kind {
	out := make([]Kind, width)

	for col := 0; col < width; col++ {
		var seen bool
		allInt, allFloat, allBool := true, true, true

		for _, r := range rows {
			if col >= len(r) {
				continue
			}
			v := strings.TrimSpace(r[col])
			if v == "" {
				continue
			}
			seen = true

			if allInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					allInt = false
				}
			}
			if allFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					allFloat = false
				}
			}
			if allBool {
				if _, ok := parseBool(v); !ok {
					allBool = false
				}
			}
			if !allInt && !allFloat && !allBool {
				break
			}
		}

		switch {
		case !seen:
			out[col] = KindString
		case allInt:
			out[col] = KindInt64
		case allBool:
			out[col] = KindBool
		case allFloat:
			out[col] = KindFloat64
		default:
			out[col] = KindString
		}
	}
	return out
}

// FromStrings builds a typed frame from a header and string rows, inferring
// column kinds. Short rows are padded with nulls; long rows are an error.
func FromStrings(header []string, rows [][]string) (*Frame, error) {
	kinds := InferKinds(len(header), rows)

	f := &Frame{
		Columns: make([]Column, len(header)),
		Rows:    make([][]any, 0, len(rows)),
	}
	for i, h := range header {
		f.Columns[i] = Column{Name: h, Kind: kinds[i]}
	}

	for i, r := range rows {
		if len(r) > len(header) {
			return nil, fmt.Errorf("tabular: row %d has %d fields, header has %d", i+1, len(r), len(header))
		}
		out := make([]any, len(header))
		for j := range header {
			if j >= len(r) {
				continue
			}
			v, err := Coerce(kinds[j], r[j])
			if err != nil {
				return nil, fmt.Errorf("tabular: row %d column %q: %w", i+1, header[j], err)
			}
			out[j] = v
		}
		f.Rows = append(f.Rows, out)
	}
	return f, nil
}

// Coerce converts a raw cell into a value of kind k. Blank cells become nil.
func Coerce(k Kind, raw string) (any, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	switch k {
	case KindInt64:
		return strconv.ParseInt(s, 10, 64)
	case KindFloat64:
		return strconv.ParseFloat(s, 64)
	case KindBool:
		b, ok := parseBool(s)
		if !ok {
			return nil, fmt.Errorf("invalid bool %q", s)
		}
		return b, nil
	default:
		return raw, nil
	}
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}
