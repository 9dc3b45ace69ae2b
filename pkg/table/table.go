package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row maps column name to a cell value. A nil cell is missing.
type Row map[string]interface{}

// Table is an ordered set of rows sharing one column schema. Column order is
// preserved from the source so duplicate detection and persistence are stable.
type Table struct {
	Domain  string
	Columns []string
	Rows    []Row
}

// InvalidDate marks a date cell that could not be parsed during cleaning.
type InvalidDate struct {
	Raw string
}

func (d InvalidDate) String() string {
	return "invalid date: " + d.Raw
}

func New(domain string, columns ...string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Domain: domain, Columns: cols}
}

// FromRecords builds a table from query results. Columns are sorted because
// map rows carry no order.
func FromRecords(domain string, records []map[string]interface{}) *Table {
	seen := make(map[string]struct{})
	t := New(domain)
	for _, rec := range records {
		for col := range rec {
			if _, ok := seen[col]; !ok {
				seen[col] = struct{}{}
				t.Columns = append(t.Columns, col)
			}
		}
	}
	sort.Strings(t.Columns)
	for _, rec := range records {
		row := make(Row, len(t.Columns))
		for _, col := range t.Columns {
			row[col] = rec[col]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

func (t *Table) HasColumn(name string) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// AddColumn registers a column name if absent. Existing rows are not touched;
// a row without the key reads as missing.
func (t *Table) AddColumn(name string) {
	if !t.HasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

func (t *Table) Append(row Row) {
	for col := range row {
		t.AddColumn(col)
	}
	t.Rows = append(t.Rows, row)
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := New(t.Domain, t.Columns...)
	out.Rows = make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		cp := make(Row, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out.Rows = append(out.Rows, cp)
	}
	return out
}

// Filter returns a table sharing the matching rows with t.
func (t *Table) Filter(keep func(Row) bool) *Table {
	if t == nil {
		return New("")
	}
	out := New(t.Domain, t.Columns...)
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// FilterEq keeps rows whose column renders exactly as value.
func (t *Table) FilterEq(column, value string) *Table {
	return t.Filter(func(r Row) bool {
		s, ok := String(r[column])
		return ok && s == value
	})
}

// GroupBy splits rows by the rendered value of column. Keys are returned in
// first-seen order; rows with a missing key are dropped.
func (t *Table) GroupBy(column string) (map[string]*Table, []string) {
	groups := make(map[string]*Table)
	var keys []string
	if t == nil {
		return groups, keys
	}
	for _, r := range t.Rows {
		key, ok := String(r[column])
		if !ok {
			continue
		}
		g, exists := groups[key]
		if !exists {
			g = New(t.Domain, t.Columns...)
			groups[key] = g
			keys = append(keys, key)
		}
		g.Rows = append(g.Rows, r)
	}
	return groups, keys
}

// Records renders rows for storage or JSON: invalid dates and NaN become nil
// and every declared column is present.
func (t *Table) Records() []map[string]interface{} {
	if t == nil {
		return []map[string]interface{}{}
	}
	out := make([]map[string]interface{}, 0, len(t.Rows))
	for _, r := range t.Rows {
		rec := make(map[string]interface{}, len(t.Columns))
		for _, col := range t.Columns {
			rec[col] = exportValue(r[col])
		}
		out = append(out, rec)
	}
	return out
}

func exportValue(v interface{}) interface{} {
	switch val := v.(type) {
	case InvalidDate:
		return nil
	case float64:
		if math.IsNaN(val) {
			return nil
		}
	}
	return v
}

// IsMissing reports whether a cell counts as missing: nil or NaN.
func IsMissing(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case float64:
		return math.IsNaN(val)
	case float32:
		return math.IsNaN(float64(val))
	}
	return false
}

// Float reads a numeric cell. NaN, missing and non-numeric cells report false.
func Float(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, !math.IsNaN(val)
	case float32:
		return float64(val), !math.IsNaN(float64(val))
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Date reads a date cell. Strings are parsed with ParseDate so query results
// that have not been standardized still work.
func Date(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case *time.Time:
		if val == nil {
			return time.Time{}, false
		}
		return *val, !val.IsZero()
	case string:
		return ParseDate(val)
	}
	return time.Time{}, false
}

// String renders a non-missing cell as text. Whole floats render without a
// fractional part so numeric ids group the same as their text form.
func String(v interface{}) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		if math.IsNaN(val) {
			return "", false
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case time.Time:
		return val.Format(time.RFC3339), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}
