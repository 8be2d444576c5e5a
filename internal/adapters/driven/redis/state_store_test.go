package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

func TestStateStore_GetEmpty(t *testing.T) {
	client, _ := setupTestRedis(t)

	_, err := NewStateStore(client).Get(context.Background())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStateStore_SetGet(t *testing.T) {
	client, _ := setupTestRedis(t)
	store := NewStateStore(client)
	ctx := context.Background()

	first := &domain.ProcessingState{
		Status:       domain.ProcessingStatusWarning,
		Message:      "Successfully indexed 8 documents, 2 errors in 15ms. See function logs for specific error messages.",
		SuccessCount: 8,
		ErrorCount:   2,
		Elapsed:      15 * time.Millisecond,
		UpdatedAt:    time.UnixMilli(1_700_000_000_000).UTC(),
	}
	if err := store.Set(ctx, first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != first.Status || got.Message != first.Message {
		t.Errorf("expected %+v, got %+v", first, got)
	}
	if got.SuccessCount != 8 || got.ErrorCount != 2 || got.Elapsed != first.Elapsed {
		t.Errorf("unexpected counts: %+v", got)
	}
	if !got.UpdatedAt.Equal(first.UpdatedAt) {
		t.Errorf("expected updated at %v, got %v", first.UpdatedAt, got.UpdatedAt)
	}

	second := domain.DisabledReindexState(time.Now())
	if err := store.Set(ctx, second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = store.Get(ctx)
	if got.Message != second.Message {
		t.Errorf("expected report to be replaced, got %q", got.Message)
	}
}

func TestStateStore_InvalidJSON(t *testing.T) {
	client, mr := setupTestRedis(t)
	_ = mr.Set(processingStateKey, "{not json")

	if _, err := NewStateStore(client).Get(context.Background()); err == nil {
		t.Error("expected error for corrupt report")
	}
}
