package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferKinds(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"1", "1.5", "true", "abc", ""},
		{"2", "2", "FALSE", "12", ""},
		{"", "3e2", "", "x", ""},
	}
	got := InferKinds(5, rows)
	want := []Kind{KindInt64, KindFloat64, KindBool, KindString, KindString}
	assert.Equal(t, want, got)
}

func TestInferKinds_ZeroOneStaysInteger(t *testing.T) {
	t.Parallel()

	got := InferKinds(1, [][]string{{"0"}, {"1"}})
	assert.Equal(t, []Kind{KindInt64}, got)
}

func TestInferKinds_FlagLettersStayText(t *testing.T) {
	t.Parallel()

	got := InferKinds(3, [][]string{{"Y", "yes", "t"}, {"N", "no", "f"}})
	assert.Equal(t, []Kind{KindString, KindString, KindString}, got)

	_, err := Coerce(KindBool, "y")
	assert.Error(t, err)
	v, err := Coerce(KindBool, " True ")
	require.NoError(t, err)
	assert.Equal(t, true, v)
}

func TestFromStrings(t *testing.T) {
	t.Parallel()

	f, err := FromStrings([]string{"x", "name"}, [][]string{{"1", "a"}, {"", "b"}, {"3"}})
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, []Column{{Name: "x", Kind: KindInt64}, {Name: "name", Kind: KindString}}, f.Columns)
	assert.Equal(t, [][]any{{int64(1), "a"}, {nil, "b"}, {int64(3), nil}}, f.Rows)
}

func TestFromStrings_RowTooWide(t *testing.T) {
	t.Parallel()

	_, err := FromStrings([]string{"x"}, [][]string{{"1", "2"}})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   *Frame
		wantErr bool
	}{
		{name: "ok", frame: &Frame{Columns: []Column{{Name: "a", Kind: KindInt64}}, Rows: [][]any{{int64(1)}, {nil}}}},
		{name: "no_columns", frame: &Frame{}, wantErr: true},
		{name: "duplicate", frame: &Frame{Columns: []Column{{Name: "a"}, {Name: "a"}}}, wantErr: true},
		{name: "width", frame: &Frame{Columns: []Column{{Name: "a"}}, Rows: [][]any{{"x", "y"}}}, wantErr: true},
		{name: "type", frame: &Frame{Columns: []Column{{Name: "a", Kind: KindInt64}}, Rows: [][]any{{"x"}}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	cols := []Column{{Name: "a", Kind: KindString}}
	a := &Frame{Columns: cols, Rows: [][]any{{"1"}}}
	b := &Frame{Columns: cols, Rows: [][]any{{"2"}, {"3"}}}

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())

	_, err = Concat(a, &Frame{Columns: []Column{{Name: "b"}}})
	require.Error(t, err)
}

func TestParquetRoundTrip(t *testing.T) {
	t.Parallel()

	in := &Frame{
		Columns: []Column{
			{Name: "zeta", Kind: KindString},
			{Name: "alpha", Kind: KindInt64},
			{Name: "mid", Kind: KindFloat64},
			{Name: "flag", Kind: KindBool},
		},
		Rows: [][]any{
			{"a", int64(1), 1.5, true},
			{nil, int64(-2), nil, false},
			{"c", nil, 3.25, nil},
		},
	}

	path := filepath.Join(t.TempDir(), "out.parquet")
	require.NoError(t, WriteParquet(path, in))

	out, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, in.Columns, out.Columns, "column order and kinds survive")
	assert.Equal(t, in.Rows, out.Rows)
}

func TestWriteParquet_Overwrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.parquet")
	cols := []Column{{Name: "x", Kind: KindInt64}}

	require.NoError(t, WriteParquet(path, &Frame{Columns: cols, Rows: [][]any{{int64(1)}, {int64(2)}}}))
	require.NoError(t, WriteParquet(path, &Frame{Columns: cols, Rows: [][]any{{int64(9)}}}))

	out, err := ReadParquet(path)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(9)}}, out.Rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteParquet_RejectsInvalidFrame(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.parquet")
	err := WriteParquet(path, &Frame{})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadParquet_NotParquet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "a.parquet")
	require.NoError(t, os.WriteFile(path, []byte("x\n1\n"), 0o644))

	_, err := ReadParquet(path)
	require.Error(t, err)
}
