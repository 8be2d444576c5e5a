package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/indexsync/internal/core/domain"
	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProcessingStateStore = (*StateStore)(nil)

const processingStateKey = "indexsync:processing_state"

// StateStore keeps the last full reindex report as a JSON string.
type StateStore struct {
	client *redis.Client
}

// NewStateStore creates a new Redis-backed ProcessingStateStore
func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client}
}

// Set replaces the stored report
func (s *StateStore) Set(ctx context.Context, state *domain.ProcessingState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal processing state: %w", err)
	}
	if err := s.client.Set(ctx, processingStateKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store processing state: %w", err)
	}
	return nil
}

// Get returns the stored report
func (s *StateStore) Get(ctx context.Context) (*domain.ProcessingState, error) {
	data, err := s.client.Get(ctx, processingStateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing state: %w", err)
	}

	var state domain.ProcessingState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processing state: %w", err)
	}
	return &state, nil
}
