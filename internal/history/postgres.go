package history

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the DDL for the turns table. [PostgresStore.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id          BIGSERIAL PRIMARY KEY,
    input       TEXT NOT NULL,
    corrected   TEXT NOT NULL DEFAULT '',
    reply       TEXT NOT NULL DEFAULT '',
    failed      BOOLEAN NOT NULL DEFAULT false,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_finished ON conversation_turns(finished_at);
`

// DB is the subset of *pgxpool.Pool used by [PostgresStore].
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection pool. Call
// [PostgresStore.Migrate] before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool for dsn, verifies it and applies the schema. Close
// releases the pool.
func Connect(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the turns table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}

// Close releases a pool opened by [Connect]. It is a no-op for stores
// created with [NewPostgresStore].
func (s *PostgresStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, t *Turn) error {
	const query = `
		INSERT INTO conversation_turns (input, corrected, reply, failed, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := s.db.QueryRow(ctx, query,
		t.Input, t.Corrected, t.Reply, t.Failed, t.StartedAt, t.FinishedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	const query = `
		SELECT id, input, corrected, reply, failed, started_at, finished_at
		FROM conversation_turns
		ORDER BY id DESC
		LIMIT $1`
	rows, err := s.db.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Input, &t.Corrected, &t.Reply, &t.Failed, &t.StartedAt, &t.FinishedAt); err != nil {
			return nil, fmt.Errorf("history: scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	slices.Reverse(turns)
	return turns, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id int64) (*Turn, error) {
	const query = `
		SELECT id, input, corrected, reply, failed, started_at, finished_at
		FROM conversation_turns
		WHERE id = $1`
	var t Turn
	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Input, &t.Corrected, &t.Reply, &t.Failed, &t.StartedAt, &t.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("history: get %d: %w", id, err)
	}
	return &t, nil
}
