package features

import (
	"sort"

	"github.com/synaptica-ai/medrecords/pkg/table"
)

const (
	DomainLifestyle  = "lifestyle"
	DomainRx         = "rx"
	DomainConditions = "conditions"
	DomainLabs       = "labs"
	DomainTests      = "tests"
)

// DomainNames lists the domains in pipeline order.
var DomainNames = []string{DomainLifestyle, DomainRx, DomainConditions, DomainLabs, DomainTests}

const (
	TakingAlphaBlockers        = "taking_alpha_blockers"
	MostRecentHGB              = "most_recent_hgb"
	MostRecentA1c              = "most_recent_a1c"
	HighCholesterolEventCount  = "high_cholesterol_events"
	AverageSystolicBP          = "average_systolic_bp"
	AverageDiastolicBP         = "average_diastolic_bp"
	UniqueEncountersLifestyle  = "unique_encounters_lifestyle"
	UniqueEncountersConditions = "unique_encounters_conditions"
	UniqueEncountersTests      = "unique_encounters_tests"
)

// EmptyPolicy is what a feature reports when its domain has no rows.
type EmptyPolicy int

const (
	EmptyNotAvailable EmptyPolicy = iota
	EmptyFalse
	EmptyZero
)

type Definition struct {
	Name   string
	Domain string
	Empty  EmptyPolicy
}

// Default is the value reported for a patient with no rows in the domain.
func (d Definition) Default() Value {
	switch d.Empty {
	case EmptyFalse:
		return Bool(false)
	case EmptyZero:
		return Count(0)
	}
	return NotAvailable()
}

// Catalog declares every derived feature. An absent prescription record
// means not prescribed and absent LDL or encounter rows mean zero, while a
// missing measurement stays not-available.
var Catalog = []Definition{
	{Name: UniqueEncountersLifestyle, Domain: DomainLifestyle, Empty: EmptyZero},
	{Name: TakingAlphaBlockers, Domain: DomainRx, Empty: EmptyFalse},
	{Name: UniqueEncountersConditions, Domain: DomainConditions, Empty: EmptyZero},
	{Name: MostRecentHGB, Domain: DomainLabs, Empty: EmptyNotAvailable},
	{Name: MostRecentA1c, Domain: DomainLabs, Empty: EmptyNotAvailable},
	{Name: HighCholesterolEventCount, Domain: DomainLabs, Empty: EmptyZero},
	{Name: AverageSystolicBP, Domain: DomainTests, Empty: EmptyNotAvailable},
	{Name: AverageDiastolicBP, Domain: DomainTests, Empty: EmptyNotAvailable},
	{Name: UniqueEncountersTests, Domain: DomainTests, Empty: EmptyZero},
}

// Defaults returns the empty-domain mapping for domain.
func Defaults(domain string) Mapping {
	m := make(Mapping)
	for _, def := range Catalog {
		if def.Domain == domain {
			m[def.Name] = def.Default()
		}
	}
	return m
}

// Names returns every catalogued feature name, sorted.
func Names() []string {
	out := make([]string, 0, len(Catalog))
	for _, def := range Catalog {
		out = append(out, def.Name)
	}
	sort.Strings(out)
	return out
}

// Deriver computes a domain's features from one patient's cleaned rows.
type Deriver func(t *table.Table) Mapping

// Derivers returns the per-domain feature derivations under policy p.
func Derivers(p Policy) map[string]Deriver {
	return map[string]Deriver{
		DomainLifestyle: func(t *table.Table) Mapping {
			return Mapping{
				UniqueEncountersLifestyle: Count(UniqueEncounterCount(t, ColReportDate, p.EncounterWindowMonths)),
			}
		},
		DomainRx: func(t *table.Table) Mapping {
			return Mapping{TakingAlphaBlockers: Bool(IsTakingAlphaBlockers(t, p))}
		},
		DomainConditions: func(t *table.Table) Mapping {
			return Mapping{
				UniqueEncountersConditions: Count(UniqueEncounterCount(t, ColReportDate, p.EncounterWindowMonths)),
			}
		},
		DomainLabs: func(t *table.Table) Mapping {
			return Mapping{
				MostRecentHGB:             MostRecent(t, p.HemoglobinFeature),
				MostRecentA1c:             MostRecent(t, p.A1cFeature),
				HighCholesterolEventCount: Count(HighCholesterolEvents(t, p)),
			}
		},
		DomainTests: func(t *table.Table) Mapping {
			bp := AverageBloodPressure(t, p)
			return Mapping{
				AverageSystolicBP:     bp.Systolic,
				AverageDiastolicBP:    bp.Diastolic,
				UniqueEncountersTests: Count(UniqueEncounterCount(t, ColReportDate, p.EncounterWindowMonths)),
			}
		},
	}
}
