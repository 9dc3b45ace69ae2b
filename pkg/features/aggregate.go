package features

import "github.com/synaptica-ai/medrecords/pkg/table"

type PersonFeatures struct {
	PersonID     string   `json:"person_id"`
	Features     Mapping  `json:"features"`
	EmptyDomains []string `json:"empty_domains,omitempty"`
}

// Aggregator merges per-domain features into one mapping per patient.
type Aggregator struct {
	derivers map[string]Deriver
}

func NewAggregator(p Policy) *Aggregator {
	return &Aggregator{derivers: Derivers(p)}
}

// Aggregate derives every domain's features from one patient's cleaned
// tables. A nil or empty table contributes its domain defaults; the other
// domains are still derived.
func (a *Aggregator) Aggregate(personID string, tables map[string]*table.Table) PersonFeatures {
	out := PersonFeatures{PersonID: personID, Features: make(Mapping)}
	for _, domain := range DomainNames {
		t := tables[domain]
		if t.Len() == 0 {
			out.EmptyDomains = append(out.EmptyDomains, domain)
			out.Features.Merge(Defaults(domain))
			continue
		}
		out.Features.Merge(a.derivers[domain](t))
	}
	return out
}

// Derive runs a single domain's derivation; unknown domains yield nothing.
func (a *Aggregator) Derive(domain string, t *table.Table) Mapping {
	if t.Len() == 0 {
		return Defaults(domain)
	}
	derive, ok := a.derivers[domain]
	if !ok {
		return Mapping{}
	}
	return derive(t)
}
