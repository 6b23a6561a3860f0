// Package audit persists an optional run ledger to Postgres, grounded on
// infrastructure/db/connection.go's sqlx.Open/Ping bootstrap and
// persistence/postgres/regime_repo.go's upsert-by-primary-key query
// shape.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/fednorm/fednorm/internal/protocol"
)

// Config controls whether and how the ledger connects.
type Config struct {
	DSN             string        `yaml:"dsn"`
	Enabled         bool          `yaml:"enabled"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig mirrors db/connection.go's DefaultConfig: disabled unless
// explicitly turned on.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    10 * time.Second,
		Enabled:         false,
	}
}

// RunRecord is one row of the run ledger: one participant's view of one
// run's lifecycle.
type RunRecord struct {
	RunID         string    `db:"run_id"`
	ParticipantID string    `db:"participant_id"`
	Role          string    `db:"role"`
	Mode          string    `db:"mode"`
	State         string    `db:"state"`
	ErrorKind     string    `db:"error_kind"`
	ErrorMessage  string    `db:"error_message"`
	StartedAt     time.Time `db:"started_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Ledger records protocol.Driver state transitions to Postgres. A
// disabled Ledger is a safe no-op so callers don't have to branch on
// whether audit logging is configured.
type Ledger struct {
	db      *sqlx.DB
	timeout time.Duration
	enabled bool
}

// Open connects to cfg.DSN, or returns a no-op Ledger if cfg.Enabled is
// false.
func Open(cfg Config) (*Ledger, error) {
	if !cfg.Enabled {
		return &Ledger{enabled: false}, nil
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit: dsn is required when enabled")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	return &Ledger{db: db, timeout: cfg.QueryTimeout, enabled: true}, nil
}

// RecordTransition upserts the run's current state. cmd/fednorm calls it
// once, after Driver.Run returns, with the driver's last state.
func (l *Ledger) RecordTransition(ctx context.Context, runID, participantID string, role protocol.Role, mode protocol.Mode, state protocol.State) error {
	if !l.enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	query := `
		INSERT INTO run_ledger (run_id, participant_id, role, mode, state, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (run_id, participant_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = now()`

	_, err := l.db.ExecContext(ctx, query, runID, participantID, string(role), string(mode), string(state))
	if err != nil {
		return fmt.Errorf("audit: record transition: %w", err)
	}
	return nil
}

// RecordFailure marks a run as failed with an error kind/message.
func (l *Ledger) RecordFailure(ctx context.Context, runID, participantID string, kind, message string) error {
	if !l.enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	query := `
		UPDATE run_ledger
		SET error_kind = $3, error_message = $4, updated_at = now()
		WHERE run_id = $1 AND participant_id = $2`

	_, err := l.db.ExecContext(ctx, query, runID, participantID, kind, message)
	if err != nil {
		return fmt.Errorf("audit: record failure: %w", err)
	}
	return nil
}

// Latest returns the most recent ledger row for a run/participant pair,
// or nil if none exists.
func (l *Ledger) Latest(ctx context.Context, runID, participantID string) (*RunRecord, error) {
	if !l.enabled {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	query := `
		SELECT run_id, participant_id, role, mode, state,
		       coalesce(error_kind, '') AS error_kind,
		       coalesce(error_message, '') AS error_message,
		       started_at, updated_at
		FROM run_ledger
		WHERE run_id = $1 AND participant_id = $2`

	var rec RunRecord
	if err := l.db.GetContext(ctx, &rec, query, runID, participantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: query latest: %w", err)
	}
	return &rec, nil
}

// Enabled reports whether the ledger is backed by a live connection.
func (l *Ledger) Enabled() bool { return l.enabled }

// Close releases the underlying connection pool.
func (l *Ledger) Close() error {
	if !l.enabled {
		return nil
	}
	return l.db.Close()
}
