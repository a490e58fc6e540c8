// Package postgres is a PostgreSQL-backed [history.Recorder].
//
// The schema is a single voice_sessions table created by [Migrate], which is
// idempotent and runs on every [NewStore].
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumen-devotional/lumen/internal/history"
)

var _ history.Recorder = (*Store)(nil)

const ddlVoiceSessions = `
CREATE TABLE IF NOT EXISTS voice_sessions (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL DEFAULT '',
    character   TEXT         NOT NULL DEFAULT '',
    room_name   TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    outcome     TEXT         NOT NULL,
    error       TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_voice_sessions_ended_at
    ON voice_sessions (ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_voice_sessions_character
    ON voice_sessions (character);
`

// Migrate creates the history schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlVoiceSessions); err != nil {
		return fmt.Errorf("history postgres: migrate: %w", err)
	}
	return nil
}

// Store writes session entries to PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping checks the connection. It is used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Record implements [history.Recorder]. Re-recording an ID overwrites it.
func (s *Store) Record(ctx context.Context, e history.Entry) error {
	if e.ID == "" {
		e.ID = history.NewID()
	}
	const q = `
		INSERT INTO voice_sessions
		    (id, session_id, character, room_name, started_at, ended_at, outcome, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		    ended_at = EXCLUDED.ended_at,
		    outcome  = EXCLUDED.outcome,
		    error    = EXCLUDED.error`

	_, err := s.pool.Exec(ctx, q,
		e.ID,
		e.SessionID,
		e.Character,
		e.RoomName,
		e.StartedAt,
		e.EndedAt,
		string(e.Outcome),
		e.Error,
	)
	if err != nil {
		return fmt.Errorf("history postgres: record: %w", err)
	}
	return nil
}

// Recent implements [history.Recorder].
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	q := `
		SELECT id, session_id, character, room_name, started_at, ended_at, outcome, error
		FROM   voice_sessions
		ORDER  BY ended_at DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e       history.Entry
			outcome string
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.Character,
			&e.RoomName,
			&e.StartedAt,
			&e.EndedAt,
			&outcome,
			&e.Error,
		); err != nil {
			return history.Entry{}, err
		}
		e.Outcome = history.Outcome(outcome)
		e.StartedAt = e.StartedAt.In(time.UTC)
		e.EndedAt = e.EndedAt.In(time.UTC)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
