package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Backend = (*PostgresBackend)(nil)

// PostgresBackend keeps the snapshot in a single row that each Save
// replaces with an upsert.
type PostgresBackend struct {
	pool *pgxpool.Pool
	name string
}

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

func NewPostgresBackend(pool *pgxpool.Pool, name string) *PostgresBackend {
	if name == "" {
		name = "registry"
	}
	return &PostgresBackend{pool: pool, name: name}
}

// EnsureSchema creates the snapshots table if needed.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS snapshots (
	name TEXT PRIMARY KEY,
	data BYTEA NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL
);`
	if _, err := p.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Save(ctx context.Context, data []byte) error {
	const stmt = `
INSERT INTO snapshots (name, data, saved_at) VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, saved_at = EXCLUDED.saved_at`
	if _, err := p.pool.Exec(ctx, stmt, p.name, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE name = $1`, p.name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return data, nil
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
