package tracker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prebidwatch/scout/internal/scan"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig controls the connection pool used for URL records.
type PostgresConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Postgres stores URL records in a Postgres table.
//
// Expected schema:
//
//	CREATE TABLE scan_urls (
//	    url TEXT PRIMARY KEY,
//	    status TEXT NOT NULL,
//	    has_prebid BOOLEAN NOT NULL DEFAULT FALSE,
//	    prebid_version TEXT,
//	    attempts INT NOT NULL DEFAULT 0,
//	    last_error TEXT,
//	    updated_at TIMESTAMPTZ NOT NULL
//	);
type Postgres struct {
	pool  pgxPool
	table string
}

// NewPostgres creates a Postgres-backed tracker from the given config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("tracker.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "scan_urls"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &Postgres{pool: pool, table: table}, nil
}

// NewPostgresWithPool constructs a tracker from an existing pool
// (primarily for testing).
func NewPostgresWithPool(pool pgxPool, table string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scan_urls"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Postgres{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Get loads the record for a URL, returning scan.ErrNotFound when absent.
func (p *Postgres) Get(ctx context.Context, url string) (scan.URLRecord, error) {
	if p == nil || p.pool == nil {
		return scan.URLRecord{}, fmt.Errorf("tracker is not configured")
	}
	query := fmt.Sprintf(`
SELECT url, status, has_prebid, COALESCE(prebid_version, ''), attempts, COALESCE(last_error, ''), updated_at
FROM %s WHERE url = $1`, p.table)

	var rec scan.URLRecord
	var status string
	err := p.pool.QueryRow(ctx, query, url).Scan(
		&rec.URL,
		&status,
		&rec.HasPrebid,
		&rec.PrebidVersion,
		&rec.Attempts,
		&rec.LastError,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scan.URLRecord{}, scan.ErrNotFound
	}
	if err != nil {
		return scan.URLRecord{}, fmt.Errorf("select url record: %w", err)
	}
	rec.Status = scan.URLStatus(status)
	return rec, nil
}

// Upsert inserts or replaces the record keyed by URL.
func (p *Postgres) Upsert(ctx context.Context, rec scan.URLRecord) error {
	if p == nil || p.pool == nil {
		return fmt.Errorf("tracker is not configured")
	}
	if rec.URL == "" {
		return fmt.Errorf("record url is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (url, status, has_prebid, prebid_version, attempts, last_error, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO UPDATE SET
	status = EXCLUDED.status,
	has_prebid = EXCLUDED.has_prebid,
	prebid_version = EXCLUDED.prebid_version,
	attempts = EXCLUDED.attempts,
	last_error = EXCLUDED.last_error,
	updated_at = EXCLUDED.updated_at`, p.table)

	args := []any{
		rec.URL,
		string(rec.Status),
		rec.HasPrebid,
		rec.PrebidVersion,
		rec.Attempts,
		rec.LastError,
		rec.UpdatedAt,
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert url record: %w", err)
	}
	return nil
}
