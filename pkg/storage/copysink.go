package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
	"github.com/synaptica-ai/medrecords/pkg/table"
)

// CopyFromer is satisfied by *pgxpool.Pool and *pgx.Conn.
type CopyFromer interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// CopySink appends with the postgres COPY protocol. It expects the same
// existing tables as TableSink.
type CopySink struct {
	conn CopyFromer
}

func NewCopySink(conn CopyFromer) *CopySink {
	return &CopySink{conn: conn}
}

func (s *CopySink) Append(ctx context.Context, domain string, t *table.Table) error {
	name, err := tableFor(domain)
	if err != nil {
		return &PersistError{Domain: domain, Rows: t.Len(), Err: err}
	}
	if t.Len() == 0 {
		return nil
	}

	n, err := s.conn.CopyFrom(ctx, pgx.Identifier{name}, t.Columns, pgx.CopyFromRows(copyRows(t)))
	if err != nil {
		return &PersistError{Domain: domain, Rows: t.Len(), Err: err}
	}

	logger.Log.WithFields(map[string]interface{}{
		"table": name,
		"rows":  n,
	}).Info("Copied data into table")
	return nil
}

// copyRows lays records out positionally in column order.
func copyRows(t *table.Table) [][]interface{} {
	records := t.Records()
	out := make([][]interface{}, len(records))
	for i, rec := range records {
		row := make([]interface{}, len(t.Columns))
		for j, col := range t.Columns {
			row[j] = rec[col]
		}
		out[i] = row
	}
	return out
}
