package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/features"
	"github.com/synaptica-ai/medrecords/pkg/table"
	"gorm.io/gorm"
)

// Sink appends a cleaned domain table to storage.
type Sink interface {
	Append(ctx context.Context, domain string, t *table.Table) error
}

// PersistError carries enough context to retry a failed append.
type PersistError struct {
	Domain string
	Rows   int
	Err    error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %d rows to %s: %v", e.Rows, e.Domain, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

var errUnknownDomain = errors.New("unknown domain")

// domainTables maps domain names to their storage tables. Only these names
// are ever interpolated into SQL.
var domainTables = map[string]string{
	features.DomainLifestyle:  "lifestyle",
	features.DomainRx:         "rx",
	features.DomainConditions: "conditions",
	features.DomainLabs:       "labs",
	features.DomainTests:      "tests",
}

func tableFor(domain string) (string, error) {
	name, ok := domainTables[domain]
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnknownDomain, domain)
	}
	return name, nil
}

// TableSink appends rows to the existing postgres table of each domain.
type TableSink struct {
	db        *gorm.DB
	batchSize int
}

func NewTableSink(db *gorm.DB, batchSize int) *TableSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &TableSink{db: db, batchSize: batchSize}
}

func (s *TableSink) Append(ctx context.Context, domain string, t *table.Table) error {
	rows := t.Records()
	name, err := tableFor(domain)
	if err != nil {
		return &PersistError{Domain: domain, Rows: len(rows), Err: err}
	}
	if len(rows) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Table(name).CreateInBatches(rows, s.batchSize).Error; err != nil {
		return &PersistError{Domain: domain, Rows: len(rows), Err: err}
	}

	logger.Log.WithFields(map[string]interface{}{
		"table": name,
		"rows":  len(rows),
	}).Info("Loaded data into table")
	return nil
}
