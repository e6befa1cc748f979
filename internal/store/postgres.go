package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/refpulse/refpulse/internal/scrape"
)

// DBPool abstracts the pgx pool so tests can substitute a mock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps snapshot history and run state in Postgres.
type PostgresStore struct {
	pool   DBPool
	logger *zap.Logger
}

// NewPostgresStore verifies connectivity and returns a store backed by pool.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool, logger: logger.Named("postgres_store")}, nil
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			account_name TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			received JSONB NOT NULL,
			sent JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_account_time
			ON snapshots (account_name, captured_at DESC)`,
		`CREATE TABLE IF NOT EXISTS run_state (
			run_date DATE PRIMARY KEY,
			pending_accounts TEXT[] NOT NULL,
			successful_accounts TEXT[] NOT NULL,
			last_run TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	s.logger.Info("Database schema ready")
	return nil
}

// SaveSnapshot appends one snapshot row. History is never updated in place.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap scrape.Snapshot) error {
	received, err := json.Marshal(snap.Received)
	if err != nil {
		return fmt.Errorf("failed to encode received records: %w", err)
	}
	sent, err := json.Marshal(snap.Sent)
	if err != nil {
		return fmt.Errorf("failed to encode sent records: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO snapshots (account_name, captured_at, received, sent) VALUES ($1, $2, $3, $4)`,
		snap.Account, snap.Timestamp, received, sent)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot for %s: %w", snap.Account, err)
	}
	return nil
}

// LatestSnapshot returns the newest snapshot for the account captured before
// the given time, or nil when there is no history.
func (s *PostgresStore) LatestSnapshot(ctx context.Context, account string, before time.Time) (*scrape.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account_name, captured_at, received, sent
		 FROM snapshots
		 WHERE account_name = $1 AND captured_at < $2
		 ORDER BY captured_at DESC
		 LIMIT 1`,
		account, before)

	var snap scrape.Snapshot
	var received, sent []byte
	err := row.Scan(&snap.Account, &snap.Timestamp, &received, &sent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshot for %s: %w", account, err)
	}
	if err := json.Unmarshal(received, &snap.Received); err != nil {
		return nil, fmt.Errorf("failed to decode received records: %w", err)
	}
	if err := json.Unmarshal(sent, &snap.Sent); err != nil {
		return nil, fmt.Errorf("failed to decode sent records: %w", err)
	}
	return &snap, nil
}

// LoadRunState returns the state saved for date, or nil if none exists.
func (s *PostgresStore) LoadRunState(ctx context.Context, date string) (*RunState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_date::TEXT, pending_accounts, successful_accounts, last_run
		 FROM run_state WHERE run_date = $1`, date)

	var state RunState
	err := row.Scan(&state.RunDate, &state.Pending, &state.Successful, &state.LastRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run state for %s: %w", date, err)
	}
	return &state, nil
}

// SaveRunState overwrites the day's document. Last writer wins.
func (s *PostgresStore) SaveRunState(ctx context.Context, state RunState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_state (run_date, pending_accounts, successful_accounts, last_run)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (run_date) DO UPDATE SET
			pending_accounts = EXCLUDED.pending_accounts,
			successful_accounts = EXCLUDED.successful_accounts,
			last_run = EXCLUDED.last_run`,
		state.RunDate, state.Pending, state.Successful, state.LastRun)
	if err != nil {
		return fmt.Errorf("failed to save run state for %s: %w", state.RunDate, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
