package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProcessingStateStore = (*StateStore)(nil)

// StateStore keeps the last full reindex report in the single-row
// processing_state table.
type StateStore struct {
	db *DB
}

// NewStateStore creates a new PostgreSQL-backed ProcessingStateStore
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Set replaces the stored report
func (s *StateStore) Set(ctx context.Context, state *domain.ProcessingState) error {
	query := `
		INSERT INTO processing_state (id, status, message, success_count, error_count, elapsed_ms, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count,
			elapsed_ms = EXCLUDED.elapsed_ms,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		state.Status,
		state.Message,
		state.SuccessCount,
		state.ErrorCount,
		state.Elapsed.Milliseconds(),
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert processing state: %w", err)
	}
	return nil
}

// Get returns the stored report
func (s *StateStore) Get(ctx context.Context) (*domain.ProcessingState, error) {
	query := `
		SELECT status, message, success_count, error_count, elapsed_ms, updated_at
		FROM processing_state
		WHERE id = 1
	`

	var state domain.ProcessingState
	var elapsedMs int64
	err := s.db.QueryRowContext(ctx, query).Scan(
		&state.Status,
		&state.Message,
		&state.SuccessCount,
		&state.ErrorCount,
		&elapsedMs,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query processing state: %w", err)
	}

	state.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return &state, nil
}
