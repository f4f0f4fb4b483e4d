// Package pgstore implements state.Store on top of a single-row Postgres
// table, for deployments that already run Postgres for other services and
// would rather not manage a separate state file. The whole document is
// kept as one JSONB column; the transaction locks that row with
// SELECT ... FOR UPDATE inside a begin/defer-rollback/commit shape so a
// failed body leaves the row untouched.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ottojung/volodyslav-sub000/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS scheduler_state (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	document JSONB NOT NULL
);
`

// Store persists state.Document in a single row of a Postgres table.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps an existing pool. The backing table is created (if absent) by
// EnsureSchema, which callers should invoke once at startup.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "state.pgstore")}
}

// EnsureSchema creates the backing table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Ping reports whether the underlying pool is reachable. Used by
// internal/health to back the "storage" readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Transaction locks the single state row for the duration of body: begin,
// defer a rollback that is a no-op after a successful commit, mutate,
// commit.
func (s *Store) Transaction(ctx context.Context, body func(state.Txn) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var raw []byte
	row := tx.QueryRow(ctx, `SELECT document FROM scheduler_state WHERE id = 1 FOR UPDATE`)
	err = row.Scan(&raw)

	var existing state.Document
	hasExisting := false
	switch {
	case err == nil:
		existing, err = state.Decode(raw, s.logger)
		if err != nil {
			s.logger.Warn("StateReadFailed", "error", err)
		} else {
			hasExisting = true
		}
	case errors.Is(err, pgx.ErrNoRows):
		// first run: no row yet, proceed with an empty document
	default:
		s.logger.Warn("StateReadFailed", "error", err)
	}

	txn := state.NewTxn(existing, hasExisting)
	if err := body(txn); err != nil {
		return err
	}

	encoded, err := state.Encode(txn.CurrentState())
	if err != nil {
		return fmt.Errorf("pgstore: encode state: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO scheduler_state (id, document) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document`,
		encoded)
	if err != nil {
		s.logger.Error("StateWriteFailed", "error", err)
		return fmt.Errorf("pgstore: write state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("StateWriteFailed", "error", err)
		return fmt.Errorf("pgstore: commit tx: %w", err)
	}
	committed = true

	s.logger.Info("StatePersisted", "taskCount", len(txn.CurrentState().Tasks))
	return nil
}
