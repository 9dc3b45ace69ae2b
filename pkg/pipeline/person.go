package pipeline

import (
	"context"

	"github.com/synaptica-ai/medrecords/pkg/cleaner"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

// PersonLoader reads one patient's stored rows for a domain. It is
// satisfied by storage.QueryLoader.
type PersonLoader interface {
	LoadPerson(ctx context.Context, domain, personID string) (*table.Table, error)
}

// PersonService derives features for a single patient from stored rows.
type PersonService struct {
	loader     PersonLoader
	domains    []cleaner.Domain
	aggregator *features.Aggregator
}

func NewPersonService(loader PersonLoader, policy features.Policy) *PersonService {
	return &PersonService{
		loader:     loader,
		domains:    cleaner.Domains(policy),
		aggregator: features.NewAggregator(policy),
	}
}

// Tables loads every domain for the patient. A domain that fails to load is
// returned as an empty table and listed in failed.
func (s *PersonService) Tables(ctx context.Context, personID string) (map[string]*table.Table, []string) {
	tables := make(map[string]*table.Table, len(s.domains))
	var failed []string
	for _, d := range s.domains {
		t, err := s.loader.LoadPerson(ctx, d.Name, personID)
		if err != nil {
			logger.Log.WithError(err).WithFields(map[string]interface{}{
				"domain":    d.Name,
				"person_id": personID,
			}).Error("Error fetching data")
			failed = append(failed, d.Name)
			t = table.New(d.Name)
		}
		tables[d.Name] = t
	}
	return tables, failed
}

// Records returns the patient's stored rows per domain without cleaning.
func (s *PersonService) Records(ctx context.Context, personID string) (map[string][]map[string]interface{}, []string) {
	tables, failed := s.Tables(ctx, personID)
	out := make(map[string][]map[string]interface{}, len(tables))
	for domain, t := range tables {
		out[domain] = t.Records()
	}
	return out, failed
}

// Features cleans the patient's stored rows and aggregates their features.
func (s *PersonService) Features(ctx context.Context, personID string) features.PersonFeatures {
	tables, _ := s.Tables(ctx, personID)
	for _, d := range s.domains {
		d.Clean(tables[d.Name])
	}
	return s.aggregator.Aggregate(personID, tables)
}
