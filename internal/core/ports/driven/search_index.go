package driven

import (
	"context"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// CopyScope limits an index copy to part of the source index
type CopyScope string

const (
	CopyScopeSettings CopyScope = "settings"
	CopyScopeSynonyms CopyScope = "synonyms"
	CopyScopeRules    CopyScope = "rules"
)

// SearchClient is the hosted search service (Algolia)
type SearchClient interface {
	// InitIndex returns a handle on the named index. No request is made.
	InitIndex(name string) SearchIndex

	// CopyIndex copies source onto destination, replacing destination.
	// With no scopes the records are copied as well as the configuration.
	CopyIndex(ctx context.Context, source, destination string, scopes ...CopyScope) error

	// HealthCheck verifies the search service is reachable
	HealthCheck(ctx context.Context) error
}

// SearchIndex is a single index of the hosted search service
type SearchIndex interface {
	// Name returns the index name
	Name() string

	// PartialUpdateObject merges the record's fields into the indexed entry.
	// It cannot remove fields. With createIfNotExists a missing entry is created.
	PartialUpdateObject(ctx context.Context, record domain.IndexRecord, createIfNotExists bool) error

	// SaveObject replaces the indexed entry with exactly the record's fields
	SaveObject(ctx context.Context, record domain.IndexRecord) error

	// SaveObjects replaces entries in one batch. When autoGenerateObjectID is
	// set, records without an objectID are added under a generated one;
	// otherwise such a record fails the batch.
	SaveObjects(ctx context.Context, records []domain.IndexRecord, autoGenerateObjectID bool) error

	// DeleteObject removes the entry. Deleting a missing entry is not an error.
	DeleteObject(ctx context.Context, objectID string) error

	// Delete removes the whole index
	Delete(ctx context.Context) error
}
