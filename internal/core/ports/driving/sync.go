package driving

import (
	"context"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// ChangeHandler applies a single document change event to the search index
type ChangeHandler interface {
	// HandleChange indexes, merges, replaces or deletes the record for the
	// changed document. Index failures are logged, not returned; only a
	// malformed event (domain.ErrInvalidChange) is an error.
	HandleChange(ctx context.Context, event *domain.ChangeEvent) error
}
