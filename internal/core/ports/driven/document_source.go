package driven

import (
	"context"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// DocumentSource reads the synchronized collection (PostgreSQL)
type DocumentSource interface {
	// Get re-reads the current state of a document. A document that no
	// longer exists is returned as a snapshot with Exists == false.
	Get(ctx context.Context, ref domain.DocumentRef) (*domain.Snapshot, error)

	// List returns up to limit documents in a stable order starting at offset
	List(ctx context.Context, offset, limit int) ([]*domain.Snapshot, error)

	// Ping checks the database is reachable
	Ping(ctx context.Context) error
}

// ProcessingStateStore persists the operator-facing report of the last
// full reindex run
type ProcessingStateStore interface {
	// Set replaces the current report
	Set(ctx context.Context, state *domain.ProcessingState) error

	// Get returns the current report, or domain.ErrNotFound if no run has
	// finished yet
	Get(ctx context.Context) (*domain.ProcessingState, error)
}
