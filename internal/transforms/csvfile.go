// Package transforms holds the staging transforms the pipeline ships with
// and the definitions that register them under their raw file names.
package transforms

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"pipeline/internal/registry"
	"pipeline/internal/tabular"
)

// CSVOptions controls how delimited files are read.
type CSVOptions struct {
	// Encoding is a WHATWG label ("utf-8", "windows-1252", "iso-8859-2"...).
	// Empty means UTF-8.
	Encoding string

	// Comma is the field delimiter; zero means ','.
	Comma rune
}

// CSV returns a transform that reads a headed CSV file into a frame with
// inferred column kinds. Blank cells become nulls.
func CSV(opt CSVOptions) (registry.Transform, error) {
	enc, err := lookupEncoding(opt.Encoding)
	if err != nil {
		return nil, err
	}
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	return func(ctx context.Context, path string) (*tabular.Frame, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		return readCSV(ctx, decode(f, enc), comma)
	}, nil
}

func lookupEncoding(label string) (encoding.Encoding, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return unicode.UTF8, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("csv: unsupported encoding %q: %w", label, err)
	}
	return enc, nil
}

// decode converts r to UTF-8. A leading byte order mark wins over the
// configured encoding and is stripped.
func decode(r io.Reader, enc encoding.Encoding) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder()))
}

func readCSV(ctx context.Context, r io.Reader, comma rune) (*tabular.Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("csv: empty file")
		}
		return nil, fmt.Errorf("csv: read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	var rows [][]string
	for line := 2; ; line++ {
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
		rows = append(rows, rec)
	}

	return tabular.FromStrings(header, rows)
}
