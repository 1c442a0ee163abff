package transforms

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pipeline/internal/registry"
	"pipeline/internal/tabular"
)

func writeFile(t *testing.T, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

func TestCSV_InfersKindsAndNulls(t *testing.T) {
	t.Parallel()

	fn, err := CSV(CSVOptions{})
	require.NoError(t, err)

	p := writeFile(t, "els_metrics.csv", []byte("\xEF\xBB\xBFarea, score ,flag\nE01,1.5,true\nE02,,false\n"))
	f, err := fn(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"area", "score", "flag"}, f.Names())
	assert.Equal(t, tabular.KindString, f.Columns[0].Kind)
	assert.Equal(t, tabular.KindFloat64, f.Columns[1].Kind)
	assert.Equal(t, tabular.KindBool, f.Columns[2].Kind)
	require.Equal(t, 2, f.Len())
	assert.Nil(t, f.Rows[1][1])
	assert.Equal(t, false, f.Rows[1][2])
}

func TestCSV_DecodesLegacyEncoding(t *testing.T) {
	t.Parallel()

	fn, err := CSV(CSVOptions{Encoding: "windows-1252"})
	require.NoError(t, err)

	p := writeFile(t, "a.csv", []byte("name;n\ncaf\xe9;1\n"))
	fn2, err := CSV(CSVOptions{Encoding: "windows-1252", Comma: ';'})
	require.NoError(t, err)

	f, err := fn2(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "café", f.Rows[0][0])
	assert.Equal(t, int64(1), f.Rows[0][1])

	// Wrong delimiter gives a single column but still decodes.
	f, err = fn(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"name;n"}, f.Names())
}

func TestCSV_Errors(t *testing.T) {
	t.Parallel()

	_, err := CSV(CSVOptions{Encoding: "klingon-8"})
	require.Error(t, err)

	fn, err := CSV(CSVOptions{})
	require.NoError(t, err)

	_, err = fn(context.Background(), writeFile(t, "empty.csv", nil))
	require.Error(t, err)

	_, err = fn(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	_, err = fn(context.Background(), writeFile(t, "wide.csv", []byte("a\n1,2\n")))
	require.Error(t, err)
}

func writeWorkbook(t *testing.T, sheets map[string][][]any, order []string) string {
	t.Helper()

	wb := excelize.NewFile()
	defer wb.Close()

	for i, name := range order {
		if i == 0 {
			require.NoError(t, wb.SetSheetName("Sheet1", name))
		} else {
			_, err := wb.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range sheets[name] {
			cellRef, err := excelize.CoordinatesToCellName(1, r+1)
			require.NoError(t, err)
			vals := row
			require.NoError(t, wb.SetSheetRow(name, cellRef, &vals))
		}
	}

	p := filepath.Join(t.TempDir(), "els.xlsx")
	require.NoError(t, wb.SaveAs(p))
	return p
}

func TestELS_CleansDataSheets(t *testing.T) {
	t.Parallel()

	p := writeWorkbook(t, map[string][][]any{
		"Cover_sheet": {{"Employment land statistics"}},
		"Notes":       {{"Note 1"}},
		"Table_1": {
			{"Table 1: floorspace"},
			{"Source: survey"},
			{"Area code", "Area name", "Period", "Value"},
			{"E06000001", "Hartlepool", "2019/20", 12.5},
			{"E06000002", "Middlesbrough", "2020/21", "[x]"},
			{"", "Unknown", "2020/21", 3},
			{"E06000003", "Redcar", "n/a", 4},
		},
		"Table_2": {
			{"Area code", "Area name", "Period", "Value"},
			{"E06000004", "Stockton", "2021", 7},
		},
	}, []string{"Cover_sheet", "Table_1", "Table_2", "Notes"})

	f, err := ELS(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{"local_authority_district", "year", "value", "sheet_id"}, f.Names())
	require.Equal(t, 2, f.Len())
	assert.Equal(t, []any{"E06000001", int64(2019), 12.5, "Table_1"}, f.Rows[0])
	assert.Equal(t, []any{"E06000004", int64(2021), float64(7), "Table_2"}, f.Rows[1])
	require.NoError(t, f.Validate())
}

func TestELS_MissingHeaderRow(t *testing.T) {
	t.Parallel()

	p := writeWorkbook(t, map[string][][]any{
		"Table_1": {{"no header here"}, {"E1", "x", "2020", 1}},
	}, []string{"Table_1"})

	_, err := ELS(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `header row not found in sheet "Table_1"`)
}

func TestELS_OnlyNonDataSheets(t *testing.T) {
	t.Parallel()

	p := writeWorkbook(t, map[string][][]any{
		"Cover_sheet": {{"cover"}},
	}, []string{"Cover_sheet"})

	_, err := ELS(context.Background(), p)
	require.Error(t, err)
}

func TestDefinitions_PopulateRegistry(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := registry.New()
	n, err := registry.Populate(r, Definitions(Options{CSVEncoding: "utf-8"}), slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, ok := r.Get("els_metrics.csv")
	require.True(t, ok)
	assert.Equal(t, "transforms/csv", e.Module)
	_, ok = r.Get("els.xlsx")
	assert.True(t, ok)
}

func TestDefinitions_BadEncodingSkipsCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := registry.New()
	n, err := registry.Populate(r, Definitions(Options{CSVEncoding: "nope"}), slog.New(slog.NewTextHandler(&buf, nil)))
	require.Error(t, err)
	assert.Equal(t, 1, n)
	_, ok := r.Get("els_metrics.csv")
	assert.False(t, ok)
}
