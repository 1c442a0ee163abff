package tabular

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/parquet-go/parquet-go"
)

// columnOrderKey stores the original column order in the file's key/value
// metadata; Parquet groups order their leaves by name.
const columnOrderKey = "pipeline.column_order"

const readBatch = 256

// WriteParquet writes f to path, replacing any existing file. The data is
// written to a temporary file in the same directory and renamed into place.
func WriteParquet(path string, f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	group := make(parquet.Group, len(f.Columns))
	for _, c := range f.Columns {
		group[c.Name] = parquet.Optional(leafFor(c.Kind))
	}
	schema := parquet.NewSchema("staged", group)

	// Leaf index for each frame column, following the schema's field order.
	leaf := make(map[string]int, len(f.Columns))
	for i, fld := range schema.Fields() {
		leaf[fld.Name()] = i
	}

	order, err := json.Marshal(f.Names())
	if err != nil {
		return fmt.Errorf("tabular: encode column order: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("tabular: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := parquet.NewWriter(tmp, schema, parquet.KeyValueMetadata(columnOrderKey, string(order)))

	rows := make([]parquet.Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		row := make(parquet.Row, len(f.Columns))
		for j, c := range f.Columns {
			idx := leaf[c.Name]
			row[idx] = valueFor(c.Kind, r[j]).Level(0, definitionLevel(r[j]), idx)
		}
		rows = append(rows, row)
	}

	if _, err := w.WriteRows(rows); err != nil {
		return fmt.Errorf("tabular: write rows to %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("tabular: close writer for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tabular: close %s: %w", tmpName, err)
	}
	tmp = nil

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("tabular: rename into %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads a flat Parquet file into a Frame. Column order is
// restored from metadata written by WriteParquet when present.
func ReadParquet(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: open %s: %w", path, err)
	}
	defer file.Close()

	st, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("tabular: stat %s: %w", path, err)
	}

	pf, err := parquet.OpenFile(file, st.Size())
	if err != nil {
		return nil, fmt.Errorf("tabular: open parquet %s: %w", path, err)
	}

	fields := pf.Schema().Fields()
	leafKinds := make([]Kind, len(fields))
	leafByName := make(map[string]int, len(fields))
	for i, fld := range fields {
		if !fld.Leaf() {
			return nil, fmt.Errorf("tabular: %s: nested column %q is not supported", path, fld.Name())
		}
		k, err := kindOf(fld.Type().Kind())
		if err != nil {
			return nil, fmt.Errorf("tabular: %s column %q: %w", path, fld.Name(), err)
		}
		leafKinds[i] = k
		leafByName[fld.Name()] = i
	}

	names := make([]string, 0, len(fields))
	if raw, ok := pf.Lookup(columnOrderKey); ok {
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, fmt.Errorf("tabular: %s: decode column order: %w", path, err)
		}
	} else {
		for _, fld := range fields {
			names = append(names, fld.Name())
		}
	}

	// position in frame -> leaf index
	pos := make([]int, len(names))
	out := &Frame{Columns: make([]Column, len(names))}
	for i, n := range names {
		idx, ok := leafByName[n]
		if !ok {
			return nil, fmt.Errorf("tabular: %s: column %q listed in metadata but missing from schema", path, n)
		}
		pos[i] = idx
		out.Columns[i] = Column{Name: n, Kind: leafKinds[idx]}
	}

	buf := make([]parquet.Row, readBatch)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				byLeaf := make([]any, len(fields))
				for _, v := range row {
					c := v.Column()
					if c < 0 || c >= len(byLeaf) || v.IsNull() {
						continue
					}
					byLeaf[c] = goValue(leafKinds[c], v)
				}
				vals := make([]any, len(names))
				for i, idx := range pos {
					vals[i] = byLeaf[idx]
				}
				out.Rows = append(out.Rows, vals)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("tabular: read rows from %s: %w", path, err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("tabular: close row reader for %s: %w", path, err)
		}
	}
	return out, nil
}

func leafFor(k Kind) parquet.Node {
	switch k {
	case KindInt64:
		return parquet.Int(64)
	case KindFloat64:
		return parquet.Leaf(parquet.DoubleType)
	case KindBool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

func definitionLevel(v any) int {
	if v == nil {
		return 0
	}
	return 1
}

func valueFor(k Kind, v any) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	switch k {
	case KindInt64:
		return parquet.Int64Value(v.(int64))
	case KindFloat64:
		return parquet.DoubleValue(v.(float64))
	case KindBool:
		return parquet.BooleanValue(v.(bool))
	default:
		return parquet.ByteArrayValue([]byte(v.(string)))
	}
}

func kindOf(k parquet.Kind) (Kind, error) {
	switch k {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return KindString, nil
	case parquet.Int32, parquet.Int64:
		return KindInt64, nil
	case parquet.Float, parquet.Double:
		return KindFloat64, nil
	case parquet.Boolean:
		return KindBool, nil
	default:
		return KindString, fmt.Errorf("unsupported physical type %s", k)
	}
}

func goValue(k Kind, v parquet.Value) any {
	switch k {
	case KindInt64:
		if v.Kind() == parquet.Int32 {
			return int64(v.Int32())
		}
		return v.Int64()
	case KindFloat64:
		if v.Kind() == parquet.Float {
			return float64(v.Float())
		}
		return v.Double()
	case KindBool:
		return v.Boolean()
	default:
		return string(v.ByteArray())
	}
}
