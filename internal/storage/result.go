package storage

import (
	"fmt"
	"math/big"
	"time"

	"pipeline/internal/tabular"
)

// FrameFromValues builds a frame from raw driver values. Each column gets
// the narrowest kind that holds all its non-null values; integers mixed
// with floats widen to float, anything else falls back to string.
func FrameFromValues(names []string, rows [][]any) *tabular.Frame {
	f := &tabular.Frame{
		Columns: make([]tabular.Column, len(names)),
		Rows:    make([][]any, len(rows)),
	}

	for i := range rows {
		out := make([]any, len(names))
		for j := range names {
			if j < len(rows[i]) {
				out[j] = normalizeValue(rows[i][j])
			}
		}
		f.Rows[i] = out
	}

	for j, n := range names {
		k := columnKind(f.Rows, j)
		f.Columns[j] = tabular.Column{Name: n, Kind: k}
		for i := range f.Rows {
			f.Rows[i][j] = convertTo(k, f.Rows[i][j])
		}
	}
	return f
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64, float64, bool, string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func columnKind(rows [][]any, j int) tabular.Kind {
	var sawInt, sawFloat, sawBool, sawString bool
	for _, r := range rows {
		switch r[j].(type) {
		case nil:
		case int64:
			sawInt = true
		case float64:
			sawFloat = true
		case bool:
			sawBool = true
		default:
			sawString = true
		}
	}

	switch {
	case sawString:
		return tabular.KindString
	case sawBool && (sawInt || sawFloat):
		return tabular.KindString
	case sawBool:
		return tabular.KindBool
	case sawFloat:
		return tabular.KindFloat64
	case sawInt:
		return tabular.KindInt64
	default:
		return tabular.KindString
	}
}

func convertTo(k tabular.Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case tabular.KindFloat64:
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case tabular.KindString:
		if _, ok := v.(string); !ok {
			return fmt.Sprint(v)
		}
	}
	return v
}
