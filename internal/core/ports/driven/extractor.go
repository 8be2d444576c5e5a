package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// Extractor converts a document snapshot into an index record.
// The record must carry the snapshot ID as objectID. A zero timestamp
// omits the _updatedAt field.
type Extractor interface {
	Extract(ctx context.Context, snapshot *domain.Snapshot, timestamp time.Time) (domain.IndexRecord, error)
}
