package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/synaptica-ai/medrecords/pkg/common/config"
	"github.com/synaptica-ai/medrecords/pkg/common/logger"
)

// NewPool opens a pgx pool for bulk COPY loads.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Workers + 1)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Log.WithField("max_conns", poolCfg.MaxConns).Info("Opened PostgreSQL copy pool")
	return pool, nil
}
