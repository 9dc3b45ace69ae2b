package table

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Loader obtains a raw table for a logical source name. Implementations
// return *LoadError when the source cannot be read or parsed.
type Loader interface {
	Load(ctx context.Context, source string) (*Table, error)
}

// naValues are the cell spellings read as missing.
var naValues = map[string]struct{}{
	"":       {},
	"NA":     {},
	"N/A":    {},
	"n/a":    {},
	"#N/A":   {},
	"NaN":    {},
	"nan":    {},
	"-NaN":   {},
	"NULL":   {},
	"null":   {},
	"None":   {},
	"<NA>":   {},
	"#NA":    {},
	"-nan":   {},
	"1.#IND": {},
}

// CSVLoader reads comma separated extracts from Dir. The domain of the
// resulting table is the file name without extension.
type CSVLoader struct {
	Dir string
}

func NewCSVLoader(dir string) *CSVLoader {
	return &CSVLoader{Dir: dir}
}

func (l *CSVLoader) Load(ctx context.Context, source string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}

	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.Dir, source)
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	defer f.Close()

	domain := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	t, err := ReadCSV(domain, f)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	return t, nil
}

// ReadCSV parses a header row followed by records. A column becomes numeric
// (float64) only when every non-missing cell parses as a number; otherwise
// its cells stay strings.
func ReadCSV(domain string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("no columns to parse from file")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("column %d has an empty header", i)
		}
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = struct{}{}
		header[i] = h
	}

	var raw [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		raw = append(raw, rec)
	}

	numeric := make([]bool, len(header))
	for i := range header {
		numeric[i] = isNumericColumn(raw, i)
	}

	t := New(domain, header...)
	t.Rows = make([]Row, 0, len(raw))
	for _, rec := range raw {
		row := make(Row, len(header))
		for i, col := range header {
			cell := rec[i]
			if _, na := naValues[strings.TrimSpace(cell)]; na {
				row[col] = nil
				continue
			}
			if numeric[i] {
				f, _ := strconv.ParseFloat(strings.TrimSpace(cell), 64)
				row[col] = f
				continue
			}
			row[col] = cell
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func isNumericColumn(raw [][]string, idx int) bool {
	seenValue := false
	for _, rec := range raw {
		cell := strings.TrimSpace(rec[idx])
		if _, na := naValues[cell]; na {
			continue
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			return false
		}
		seenValue = true
	}
	return seenValue
}
