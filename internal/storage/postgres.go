package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pendergraft/matchstore/internal/config"
)

// PostgresStore implements Backend using PostgreSQL
type PostgresStore struct {
	*sqlStore
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres store backed by a bounded pool
func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig, opts Options, logger *slog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetimeSeconds > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("postgres pool ready",
		"max_conns", poolCfg.MaxConns,
		"min_conns", poolCfg.MinConns,
	)

	return &PostgresStore{
		sqlStore: &sqlStore{
			id:     BackendPostgres,
			db:     newPgxDatabase(pool, logger),
			schema: postgresSchema,
			opts:   opts,
			logger: logger,
		},
		pool: pool,
	}, nil
}

// Stats reports pool usage.
func (s *PostgresStore) Stats() *pgxpool.Stat {
	return s.pool.Stat()
}
