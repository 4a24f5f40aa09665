// Package postgres provides a Postgres-backed result sink.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

const defaultTable = "site_summaries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ResultStore inserts one row per persisted result. The table is expected to
// look like:
//
//	CREATE TABLE site_summaries (
//		source_url    TEXT        NOT NULL,
//		summary_count INT         NOT NULL,
//		data          JSONB       NOT NULL,
//		persisted_at  TIMESTAMPTZ NOT NULL
//	);
type ResultStore struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewResultStore connects to Postgres using the provided config.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewResultStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool execCloser, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{
		pool:  pool,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Write inserts result as a JSONB row.
func (s *ResultStore) Write(ctx context.Context, result scrape.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	data := result.Data
	if data == nil {
		data = []scrape.Summary{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal summaries: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	source_url,
	summary_count,
	data,
	persisted_at
) VALUES (
	$1,$2,$3,$4
)`, s.table)

	if _, err := s.pool.Exec(ctx, query, result.SourceURL, len(data), dataJSON, s.now()); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}
