package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres writes auth events to the vault_auth_events table.
type Postgres struct {
	conn dbConn
	raw  *sql.DB
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig keeps the pool small; audit writes are infrequent.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

var openDB = sql.Open

func NewPostgres(dsn string) (*Postgres, error) {
	return NewPostgresWithPool(dsn, DefaultPoolConfig())
}

func NewPostgresWithPool(dsn string, pool PoolConfig) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn required")
	}
	conn, err := openDB("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return &Postgres{conn: conn, raw: conn}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.raw == nil {
		return nil
	}
	return p.raw.Close()
}

func (p *Postgres) Conn() *sql.DB {
	if p == nil {
		return nil
	}
	return p.raw
}

const insertAuthEvent = `INSERT INTO vault_auth_events
	(event_id, occurred_at, method, action, outcome, accessor, ttl_seconds, attempts, detail)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (p *Postgres) InsertAuthEvent(ctx context.Context, ev Event) (string, error) {
	if p == nil || p.conn == nil {
		return "", errors.New("postgres not configured")
	}
	id := ev.EventID
	if id == "" {
		id = newID("authevt")
	}
	_, err := p.conn.ExecContext(ctx, insertAuthEvent,
		id,
		ev.OccurredAt.UTC(),
		ev.Method,
		ev.Action,
		ev.Outcome,
		nullString(ev.Accessor),
		int64(ev.TTL/time.Second),
		ev.Attempts,
		nullString(ev.Detail),
	)
	if err != nil {
		return "", fmt.Errorf("insert auth event: %w", err)
	}
	return id, nil
}

func newID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
