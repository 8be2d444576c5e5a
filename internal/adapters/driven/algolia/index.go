package algolia

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

// Index implements driven.SearchIndex for one Algolia index
type Index struct {
	client *Client
	name   string
}

// Name returns the index name
func (i *Index) Name() string {
	return i.name
}

// PartialUpdateObject merges the record into the indexed entry
func (i *Index) PartialUpdateObject(ctx context.Context, record domain.IndexRecord, createIfNotExists bool) error {
	id, err := requireObjectID(record)
	if err != nil {
		return err
	}

	query := url.Values{}
	query.Set("createIfNotExists", fmt.Sprint(createIfNotExists))

	if err := i.client.do(ctx, http.MethodPost, indexPath(i.name, id, "partial"), query, record, nil); err != nil {
		return fmt.Errorf("partial update %s/%s: %w", i.name, id, err)
	}
	return nil
}

// SaveObject replaces the indexed entry
func (i *Index) SaveObject(ctx context.Context, record domain.IndexRecord) error {
	id, err := requireObjectID(record)
	if err != nil {
		return err
	}

	if err := i.client.do(ctx, http.MethodPut, indexPath(i.name, id), nil, record, nil); err != nil {
		return fmt.Errorf("save object %s/%s: %w", i.name, id, err)
	}
	return nil
}

type batchOperation struct {
	Action string             `json:"action"`
	Body   domain.IndexRecord `json:"body"`
}

type batchRequest struct {
	Requests []batchOperation `json:"requests"`
}

// SaveObjects replaces entries in batches. Records without an objectID are
// added under a generated one when autoGenerateObjectID is set.
func (i *Index) SaveObjects(ctx context.Context, records []domain.IndexRecord, autoGenerateObjectID bool) error {
	ops := make([]batchOperation, 0, len(records))
	for _, rec := range records {
		action := "updateObject"
		if !rec.HasObjectID() {
			if !autoGenerateObjectID {
				return fmt.Errorf("%w: record without objectID", domain.ErrInvalidInput)
			}
			action = "addObject"
		}
		ops = append(ops, batchOperation{Action: action, Body: rec})
	}

	for start := 0; start < len(ops); start += maxBatchSize {
		end := min(start+maxBatchSize, len(ops))
		if err := i.client.do(ctx, http.MethodPost, indexPath(i.name, "batch"), nil, batchRequest{Requests: ops[start:end]}, nil); err != nil {
			return fmt.Errorf("batch save %d records to %s: %w", end-start, i.name, err)
		}
	}
	return nil
}

// DeleteObject removes an entry. A missing entry is not an error.
func (i *Index) DeleteObject(ctx context.Context, objectID string) error {
	err := i.client.do(ctx, http.MethodDelete, indexPath(i.name, objectID), nil, nil, nil)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete object %s/%s: %w", i.name, objectID, err)
	}
	return nil
}

// Delete removes the whole index. A missing index is not an error.
func (i *Index) Delete(ctx context.Context) error {
	err := i.client.do(ctx, http.MethodDelete, indexPath(i.name), nil, nil, nil)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete index %s: %w", i.name, err)
	}
	return nil
}

func requireObjectID(record domain.IndexRecord) (string, error) {
	id := record.ObjectID()
	if id == "" {
		return "", fmt.Errorf("%w: record without objectID", domain.ErrInvalidInput)
	}
	return id, nil
}
