package storage

import (
	"context"
	"strconv"

	"github.com/synaptica-ai/medrecords/pkg/table"
	"gorm.io/gorm"
)

// QueryLoader reads domain tables back out of postgres.
type QueryLoader struct {
	db    *gorm.DB
	limit int
}

func NewQueryLoader(db *gorm.DB, limit int) *QueryLoader {
	return &QueryLoader{db: db, limit: limit}
}

// Load reads a whole domain table. The source is the domain name.
func (l *QueryLoader) Load(ctx context.Context, source string) (*table.Table, error) {
	name, err := tableFor(source)
	if err != nil {
		return nil, &table.LoadError{Source: source, Err: err}
	}
	var rows []map[string]interface{}
	tx := l.db.WithContext(ctx).Table(name)
	if l.limit > 0 {
		tx = tx.Limit(l.limit)
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, &table.LoadError{Source: source, Err: err}
	}
	return table.FromRecords(source, rows), nil
}

// LoadPerson reads one patient's rows for a domain.
func (l *QueryLoader) LoadPerson(ctx context.Context, domain, personID string) (*table.Table, error) {
	name, err := tableFor(domain)
	if err != nil {
		return nil, &table.LoadError{Source: domain, Err: err}
	}
	var rows []map[string]interface{}
	if err := l.db.WithContext(ctx).Table(name).Where("person_id = ?", personKey(personID)).Find(&rows).Error; err != nil {
		return nil, &table.LoadError{Source: domain, Err: err}
	}
	return table.FromRecords(domain, rows), nil
}

// personKey passes numeric ids as integers so they compare against integer
// person_id columns without a text cast.
func personKey(personID string) interface{} {
	if n, err := strconv.ParseInt(personID, 10, 64); err == nil {
		return n
	}
	return personID
}
