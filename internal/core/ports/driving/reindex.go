package driving

import (
	"context"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// Reindexer drives full reindex runs
type Reindexer interface {
	// Trigger enqueues the first page of a new run. Returns
	// domain.ErrReindexInProgress if a run is already active.
	Trigger(ctx context.Context) (*domain.Task, error)

	// RunTask processes the page described by a full_reindex task
	RunTask(ctx context.Context, task *domain.Task) error

	// Status returns the report of the last finished run
	Status(ctx context.Context) (*domain.ProcessingState, error)
}
