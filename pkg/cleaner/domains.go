package cleaner

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

// Step is a domain specific normalization applied after the shared pass and
// before date standardization.
type Step func(t *table.Table, r *Report)

// Domain configures the clean and derive sequence for one record type.
type Domain struct {
	Name       string
	DateColumn string
	Normalize  []Step
	Derive     features.Deriver
}

// Clean runs the shared pass, the domain's normalization steps and date
// standardization on t in place.
func (d Domain) Clean(t *table.Table) Report {
	if t != nil {
		t.Domain = d.Name
	}
	r := Clean(t)
	r.Domain = d.Name

	for _, step := range d.Normalize {
		step(t, &r)
	}

	if t.Len() > 0 && !t.HasColumn(d.DateColumn) {
		logger.Log.WithFields(logrus.Fields{
			"domain": d.Name,
			"column": d.DateColumn,
		}).Warn("date column not present, skipping standardization")
	}
	dateIssues := StandardizeDates(t, d.DateColumn)
	r.InvalidDates = len(dateIssues)
	r.Issues = append(r.Issues, dateIssues...)
	for _, issue := range r.Issues {
		logger.Log.WithField("domain", d.Name).Debug(issue.Error())
	}

	logger.Log.WithFields(logrus.Fields{
		"domain":        d.Name,
		"column":        d.DateColumn,
		"invalid_dates": r.InvalidDates,
	}).Debug("Standardized dates")
	return r
}

// DeriveFeatures computes the domain's features for one patient's cleaned
// rows. Empty tables yield the domain defaults.
func (d Domain) DeriveFeatures(t *table.Table) features.Mapping {
	if t.Len() == 0 || d.Derive == nil {
		return features.Defaults(d.Name)
	}
	return d.Derive(t)
}

// Domains returns the five record types in pipeline order.
func Domains(p features.Policy) []Domain {
	derive := features.Derivers(p)
	return []Domain{
		{
			Name:       features.DomainLifestyle,
			DateColumn: features.ColReportDate,
			Derive:     derive[features.DomainLifestyle],
		},
		{
			Name:       features.DomainRx,
			DateColumn: features.ColRxDate,
			Normalize:  []Step{NormalizeDrugNames(p.DrugNameColumns...)},
			Derive:     derive[features.DomainRx],
		},
		{
			Name:       features.DomainConditions,
			DateColumn: features.ColReportDate,
			Derive:     derive[features.DomainConditions],
		},
		{
			Name:       features.DomainLabs,
			DateColumn: features.ColFeatureDate,
			Normalize:  []Step{CoerceNumeric(features.ColValue)},
			Derive:     derive[features.DomainLabs],
		},
		{
			Name:       features.DomainTests,
			DateColumn: features.ColReportDate,
			Derive:     derive[features.DomainTests],
		},
	}
}

// Lookup finds a domain by name.
func Lookup(domains []Domain, name string) (Domain, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, d := range domains {
		if d.Name == key {
			return d, nil
		}
	}
	return Domain{}, fmt.Errorf("unknown domain %q", name)
}

// NormalizeDrugNames upper-cases and trims the named columns. Missing cells
// stay missing and non-text cells are rendered as text first.
func NormalizeDrugNames(columns ...string) Step {
	return func(t *table.Table, _ *Report) {
		if t.Len() == 0 {
			return
		}
		for _, col := range columns {
			if !t.HasColumn(col) {
				continue
			}
			for _, row := range t.Rows {
				if table.IsMissing(row[col]) {
					continue
				}
				s, _ := table.String(row[col])
				row[col] = features.NormalizeDrugName(s)
			}
		}
	}
}

// CoerceNumeric converts column to float64. Cells that are not numbers
// become NaN and are recorded on the report.
func CoerceNumeric(column string) Step {
	return func(t *table.Table, r *Report) {
		if t.Len() == 0 || !t.HasColumn(column) {
			return
		}
		for i, row := range t.Rows {
			v := row[column]
			if table.IsMissing(v) {
				row[column] = math.NaN()
				continue
			}
			f, ok := table.Float(v)
			if !ok {
				r.NonNumeric++
				r.Issues = append(r.Issues, &table.ParseError{Column: column, Row: i, Raw: v, Kind: "number"})
				row[column] = math.NaN()
				continue
			}
			row[column] = f
		}
	}
}
