package features

import (
	"strings"
	"time"

	"github.com/synaptica-ai/medrecords/pkg/table"
)

// Column names shared by the domain extracts.
const (
	ColPersonID    = "person_id"
	ColFeature     = "feature"
	ColValue       = "value"
	ColFeatureDate = "feature_date"
	ColReportDate  = "report_date"
	ColRxDate      = "rx_date"
)

// IsTakingAlphaBlockers reports whether any drug name column of any row
// matches the policy's alpha-blocker list. No rows means not prescribed.
func IsTakingAlphaBlockers(rx *table.Table, p Policy) bool {
	names := p.alphaBlockerSet()
	for _, row := range rxRows(rx) {
		for _, col := range p.DrugNameColumns {
			s, ok := row[col].(string)
			if !ok {
				continue
			}
			if _, hit := names[NormalizeDrugName(s)]; hit {
				return true
			}
		}
	}
	return false
}

func rxRows(rx *table.Table) []table.Row {
	if rx == nil {
		return nil
	}
	return rx.Rows
}

// MostRecent returns the value of the latest dated row whose feature column
// equals name. Rows without a usable feature_date are not candidates. When
// several rows share the latest date the last one in input order wins.
func MostRecent(labs *table.Table, name string) Value {
	var (
		best     table.Row
		bestDate time.Time
	)
	for _, row := range labs.FilterEq(ColFeature, name).Rows {
		d, ok := table.Date(row[ColFeatureDate])
		if !ok {
			continue
		}
		if best == nil || !d.Before(bestDate) {
			best, bestDate = row, d
		}
	}
	if best == nil {
		return NotAvailable()
	}
	f, ok := table.Float(best[ColValue])
	if !ok {
		return NotAvailable()
	}
	return Number(f)
}

// HighCholesterolEvents counts LDL rows above the policy threshold. Rows
// whose value is not numeric are ignored; no LDL rows means zero events.
func HighCholesterolEvents(labs *table.Table, p Policy) int64 {
	var n int64
	for _, row := range labs.FilterEq(ColFeature, p.LDLFeature).Rows {
		f, ok := table.Float(row[ColValue])
		if ok && f > p.CholesterolThreshold {
			n++
		}
	}
	return n
}

type BloodPressure struct {
	Systolic  Value
	Diastolic Value
	// Readings is how many rows parsed as systolic/diastolic.
	Readings int
}

// AverageBloodPressure averages "<systolic>/<diastolic>" readings. A row
// that does not split into exactly two numbers is skipped.
func AverageBloodPressure(tests *table.Table, p Policy) BloodPressure {
	var sys, dia float64
	n := 0
	for _, row := range tests.FilterEq(ColFeature, p.BloodPressureFeature).Rows {
		s, d, ok := ParseBloodPressure(row[ColValue])
		if !ok {
			continue
		}
		sys += s
		dia += d
		n++
	}
	if n == 0 {
		return BloodPressure{Systolic: NotAvailable(), Diastolic: NotAvailable()}
	}
	return BloodPressure{
		Systolic:  Number(sys / float64(n)),
		Diastolic: Number(dia / float64(n)),
		Readings:  n,
	}
}

func ParseBloodPressure(v interface{}) (float64, float64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, 0, false
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	systolic, ok := table.Float(parts[0])
	if !ok {
		return 0, 0, false
	}
	diastolic, ok := table.Float(parts[1])
	if !ok {
		return 0, 0, false
	}
	return systolic, diastolic, true
}

// UniqueEncounterCount counts distinct encounter days in the window of
// months ending at the latest date in dateColumn. The window start is
// exclusive. Rows without a usable date are ignored.
func UniqueEncounterCount(t *table.Table, dateColumn string, months int) int64 {
	if t.Len() == 0 {
		return 0
	}
	dates := make([]time.Time, 0, t.Len())
	var latest time.Time
	for _, row := range t.Rows {
		d, ok := table.Date(row[dateColumn])
		if !ok {
			continue
		}
		dates = append(dates, d)
		if d.After(latest) {
			latest = d
		}
	}
	if len(dates) == 0 {
		return 0
	}
	cutoff := table.SubMonths(latest, months)
	days := make(map[string]struct{})
	for _, d := range dates {
		if d.After(cutoff) {
			days[d.Format("2006-01-02")] = struct{}{}
		}
	}
	return int64(len(days))
}
