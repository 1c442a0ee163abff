package transforms

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"pipeline/internal/tabular"
)

// Sheets in the workbook that carry no data.
var elsSkipSheets = map[string]bool{
	"Cover_sheet":       true,
	"Table_of_contents": true,
	"Notes":             true,
}

const elsHeaderMarker = "Area code"

var leadingYear = regexp.MustCompile(`^(\d{4})`)

var elsColumns = []tabular.Column{
	{Name: "local_authority_district", Kind: tabular.KindString},
	{Name: "year", Kind: tabular.KindInt64},
	{Name: "value", Kind: tabular.KindFloat64},
	{Name: "sheet_id", Kind: tabular.KindString},
}

// ELS reads the employment-land statistics workbook. Every data sheet has
// free text above a header row starting with "Area code"; rows below it are
// projected to district, year, value and the sheet name. Rows missing any of
// those are dropped. A data sheet without a header row is an error.
func ELS(ctx context.Context, path string) (*tabular.Frame, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("xlsx: open %s: %w", path, err)
	}
	defer wb.Close()

	var frames []*tabular.Frame
	for _, sheet := range wb.GetSheetList() {
		if elsSkipSheets[sheet] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rows, err := wb.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("xlsx: read sheet %q: %w", sheet, err)
		}
		fr, err := cleanELSSheet(sheet, rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, fr)
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("xlsx: %s has no data sheets", path)
	}
	return tabular.Concat(frames...)
}

func cleanELSSheet(sheet string, rows [][]string) (*tabular.Frame, error) {
	header := -1
	for i, r := range rows {
		if len(r) > 0 && strings.TrimSpace(r[0]) == elsHeaderMarker {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("header row not found in sheet %q", sheet)
	}

	out := &tabular.Frame{Columns: append([]tabular.Column(nil), elsColumns...)}
	for _, r := range rows[header+1:] {
		district := strings.TrimSpace(cell(r, 0))
		if district == "" {
			continue
		}
		m := leadingYear.FindStringSubmatch(strings.TrimSpace(cell(r, 2)))
		if m == nil {
			continue
		}
		year, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(cell(r, 3)), 64)
		if err != nil {
			continue
		}
		out.Rows = append(out.Rows, []any{district, year, value, sheet})
	}
	return out, nil
}

func cell(r []string, i int) string {
	if i < len(r) {
		return r[i]
	}
	return ""
}
