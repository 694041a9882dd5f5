package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig tunes the connection pool behind the Postgres driver.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
}

// NewPostgresStorage opens a Postgres-backed document store. The schema is
// created on first use; each logical document occupies one row and is
// rewritten wholesale on mutation, matching the JSON driver's semantics.
func NewPostgresStorage(cfg PostgresConfig, opts ...Option) (*Storage, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	be := &postgresBackend{pool: pool}
	if err := be.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	store, err := newStorage(be, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// postgresBackend keeps one row per logical document in mf_documents.
type postgresBackend struct {
	pool *pgxpool.Pool
}

const documentsSchema = `
CREATE TABLE IF NOT EXISTS mf_documents (
    name       text PRIMARY KEY,
    body       jsonb NOT NULL,
    updated_at timestamptz NOT NULL DEFAULT now()
)`

func (b *postgresBackend) ensureSchema(ctx context.Context) error {
	if _, err := b.pool.Exec(ctx, documentsSchema); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

var documentNames = []string{"users", "codes", "referrals", "feedback", "maintenance", "banned"}

func (b *postgresBackend) load() (documents, error) {
	ctx := context.Background()
	data := newDocuments()

	rows, err := b.pool.Query(ctx, `SELECT name, body FROM mf_documents`)
	if err != nil {
		return documents{}, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var body []byte
		if err := rows.Scan(&name, &body); err != nil {
			return documents{}, fmt.Errorf("scan document row: %w", err)
		}
		var target any
		switch name {
		case "users":
			target = &data.Users
		case "codes":
			target = &data.Codes
		case "referrals":
			target = &data.Referrals
		case "feedback":
			target = &data.Feedback
		case "maintenance":
			target = &data.Maintenance
		case "banned":
			target = &data.Banned
		default:
			continue
		}
		if err := json.Unmarshal(body, target); err != nil {
			return documents{}, fmt.Errorf("decode document %s: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return documents{}, fmt.Errorf("load documents: %w", err)
	}
	return data, nil
}

func (b *postgresBackend) save(data documents) error {
	bodies := make(map[string]any, len(documentNames))
	bodies["users"] = data.Users
	bodies["codes"] = data.Codes
	bodies["referrals"] = data.Referrals
	bodies["feedback"] = data.Feedback
	bodies["maintenance"] = data.Maintenance
	bodies["banned"] = data.Banned

	ctx := context.Background()
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, name := range documentNames {
		body, err := json.Marshal(bodies[name])
		if err != nil {
			return fmt.Errorf("encode document %s: %w", name, err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO mf_documents (name, body, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
			name, body); err != nil {
			return fmt.Errorf("save document %s: %w", name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (b *postgresBackend) ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *postgresBackend) close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
