// Package postgres mirrors roster records into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable receives mirrored records when no table is configured.
const DefaultTable = "roster_accounts"

// Config controls the Postgres connection pool used by the mirror.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// RecordMirror upserts records keyed by account ID.
type RecordMirror struct {
	pool  pool
	table string
	now   func() time.Time
}

// New connects a pool for cfg and returns a RecordMirror.
func New(ctx context.Context, cfg Config) (*RecordMirror, error) {
	if cfg.DSN == "" {
		return nil, errors.New("mirror.postgres.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	m, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return m, nil
}

// NewWithPool builds a mirror over an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*RecordMirror, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordMirror{pool: p, table: table, now: time.Now}, nil
}

// Close releases the pool.
func (m *RecordMirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

// EnsureSchema creates the mirror table when it does not exist.
func (m *RecordMirror) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           BIGINT PRIMARY KEY,
	display_name TEXT NOT NULL,
	registered   TEXT,
	games        JSONB NOT NULL DEFAULT '[]',
	updated_at   TIMESTAMPTZ NOT NULL
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create mirror table: %w", err)
	}
	return nil
}

// UpsertRecords writes records in one transaction. A later record for the
// same ID overwrites the earlier one.
func (m *RecordMirror) UpsertRecords(ctx context.Context, records []crawler.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, display_name, registered, games, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	registered = EXCLUDED.registered,
	games = EXCLUDED.games,
	updated_at = EXCLUDED.updated_at`, m.table)

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mirror transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	now := m.now().UTC()
	for _, rec := range records {
		if rec.ID > math.MaxInt64 {
			return fmt.Errorf("record id %d exceeds bigint range", rec.ID)
		}
		games := rec.Games
		if games == nil {
			games = []crawler.GameAccounts{}
		}
		gamesJSON, err := json.Marshal(games)
		if err != nil {
			return fmt.Errorf("marshal games for %d: %w", rec.ID, err)
		}
		if _, err := tx.Exec(ctx, query, int64(rec.ID), rec.DisplayName, nullable(rec.Registered), gamesJSON, now); err != nil {
			return fmt.Errorf("upsert record %d: %w", rec.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mirror transaction: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
