package cleaner

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

// MissingSuffix names the indicator column added next to a column that had
// missing cells.
const MissingSuffix = "_missing"

// Report is the audit trail of one clean pass.
type Report struct {
	Domain            string              `json:"domain"`
	RowsIn            int                 `json:"rows_in"`
	RowsOut           int                 `json:"rows_out"`
	DuplicatesRemoved int                 `json:"duplicates_removed"`
	MissingFlagged    []string            `json:"missing_flagged,omitempty"`
	InvalidDates      int                 `json:"invalid_dates"`
	NonNumeric        int                 `json:"non_numeric_values"`
	Issues            []*table.ParseError `json:"-"`
}

func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"domain":             r.Domain,
		"rows_in":            r.RowsIn,
		"rows_out":           r.RowsOut,
		"duplicates_removed": r.DuplicatesRemoved,
		"missing_flagged":    strings.Join(r.MissingFlagged, ","),
		"invalid_dates":      r.InvalidDates,
		"non_numeric_values": r.NonNumeric,
	}
}

// Deduplicate drops rows identical to an earlier row across every column,
// keeping the first occurrence. It returns how many rows were removed.
func Deduplicate(t *table.Table) int {
	if t.Len() == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(t.Rows))
	kept := t.Rows[:0]
	removed := 0
	for _, row := range t.Rows {
		key := rowKey(t.Columns, row)
		if _, dup := seen[key]; dup {
			removed++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, row)
	}
	for i := len(kept); i < len(t.Rows); i++ {
		t.Rows[i] = nil
	}
	t.Rows = kept
	return removed
}

func rowKey(columns []string, row table.Row) string {
	var b strings.Builder
	for _, col := range columns {
		v := row[col]
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			v = nil
		}
		// %#v quotes strings, so a separator inside a cell cannot shift columns.
		fmt.Fprintf(&b, "%T=%#v\x1f", v, v)
	}
	return b.String()
}

// FlagMissing adds a <column>_missing indicator (1 missing, 0 present) for
// every column with at least one missing cell. Source values are untouched.
// It returns the flagged columns in schema order.
//
// Indicators are always derived: a column that is itself the indicator of
// another column is never flagged, and an indicator already present in the
// input (stored rows being cleaned again) is recomputed from its column.
func FlagMissing(t *table.Table) []string {
	if t.Len() == 0 {
		return nil
	}
	columns := make([]string, len(t.Columns))
	copy(columns, t.Columns)

	var flagged []string
	for _, col := range columns {
		if isIndicator(t, col) {
			continue
		}
		indicator := col + MissingSuffix
		missing := 0
		for _, row := range t.Rows {
			if table.IsMissing(row[col]) {
				missing++
			}
		}
		existing := t.HasColumn(indicator)
		if missing == 0 && !existing {
			continue
		}
		if existing {
			logger.Log.WithFields(map[string]interface{}{
				"domain": t.Domain,
				"column": indicator,
			}).Debug("recomputing existing missing indicator")
		} else {
			t.AddColumn(indicator)
		}
		for _, row := range t.Rows {
			if table.IsMissing(row[col]) {
				row[indicator] = int64(1)
			} else {
				row[indicator] = int64(0)
			}
		}
		if missing > 0 {
			flagged = append(flagged, col)
		}
	}
	return flagged
}

func isIndicator(t *table.Table, col string) bool {
	base, ok := strings.CutSuffix(col, MissingSuffix)
	return ok && base != "" && t.HasColumn(base)
}

// StandardizeDates converts column to time.Time. Missing cells stay missing;
// cells that do not parse become table.InvalidDate and are returned as
// parse errors. A table without the column is left as is.
func StandardizeDates(t *table.Table, column string) []*table.ParseError {
	if t.Len() == 0 || !t.HasColumn(column) {
		return nil
	}
	var issues []*table.ParseError
	for i, row := range t.Rows {
		v, present := row[column]
		if !present || table.IsMissing(v) {
			continue
		}
		if _, already := v.(table.InvalidDate); already {
			issues = append(issues, &table.ParseError{Column: column, Row: i, Raw: v, Kind: "date"})
			continue
		}
		parsed, ok := table.ParseDateValue(v)
		if !ok {
			issues = append(issues, &table.ParseError{Column: column, Row: i, Raw: v, Kind: "date"})
			row[column] = table.InvalidDate{Raw: fmt.Sprint(v)}
			continue
		}
		row[column] = parsed
	}
	return issues
}

// Clean runs the shared pass: duplicate removal then missing-value flagging.
func Clean(t *table.Table) Report {
	r := Report{RowsIn: t.Len()}
	if t != nil {
		r.Domain = t.Domain
	}
	logger.Log.WithField("domain", r.Domain).Info("Starting cleaning process")

	r.DuplicatesRemoved = Deduplicate(t)
	logger.Log.WithFields(logrus.Fields{
		"domain":  r.Domain,
		"removed": r.DuplicatesRemoved,
	}).Debug("Removed duplicates")

	r.MissingFlagged = FlagMissing(t)
	r.RowsOut = t.Len()
	return r
}
