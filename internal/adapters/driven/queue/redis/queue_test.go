package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/indexsync/internal/core/domain"
)

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(context.Background(), client, "worker-test")
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}
	return q, mr
}

func newReindexTask(offset int) *domain.Task {
	state := domain.NewReindexState(time.UnixMilli(1_000))
	state.Offset = offset
	return domain.NewFullReindexTask(state)
}

func TestNewQueue_RequiresClient(t *testing.T) {
	if _, err := NewQueue(context.Background(), nil, ""); err == nil {
		t.Error("expected error without client")
	}
}

func TestNewQueue_ExistingGroup(t *testing.T) {
	q, _ := setupTestQueue(t)

	if _, err := NewQueue(context.Background(), q.client, "worker-2"); err != nil {
		t.Errorf("expected existing group to be reused, got %v", err)
	}
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := newReindexTask(250)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Errorf("expected 1 pending, got %d", stats.PendingCount)
	}

	got, err := q.DequeueWithTimeout(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected a task")
	}
	if got.ID != task.ID || got.Queue != domain.DefaultTaskQueue {
		t.Errorf("unexpected task: %+v", got)
	}
	if got.Status != domain.TaskStatusProcessing || got.Attempts != 1 {
		t.Errorf("expected processing with 1 attempt, got %s/%d", got.Status, got.Attempts)
	}
	if got.Payload["offset"] != "250" {
		t.Errorf("expected payload to survive, got %v", got.Payload)
	}

	if err := q.Ack(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, err := q.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored.Status != domain.TaskStatusCompleted {
		t.Errorf("expected completed, got %s", stored.Status)
	}

	stats, _ = q.Stats(ctx)
	if stats.PendingCount != 0 || stats.FailedCount != 0 {
		t.Errorf("expected empty queue, got %+v", stats)
	}
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, _ := setupTestQueue(t)

	got, err := q.DequeueWithTimeout(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected no task, got %+v", got)
	}
}

func TestQueue_DelayedTaskWaits(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	task := newReindexTask(0)
	task.ScheduledFor = time.Now().Add(time.Hour)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := q.DequeueWithTimeout(ctx, 0)
	if err != nil || got != nil {
		t.Fatalf("expected delayed task to wait, got %+v %v", got, err)
	}

	// Make it due
	if _, err := mr.ZAdd(scheduledTasks, 0, task.ID); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	got, err = q.DequeueWithTimeout(ctx, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.ID != task.ID {
		t.Fatalf("expected promoted task, got %+v", got)
	}
}

func TestQueue_NackRetries(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := newReindexTask(0)
	_ = q.Enqueue(ctx, task)
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := time.Now()
	if err := q.Nack(ctx, task.ID, "copy index: 503"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := q.GetTask(ctx, task.ID)
	if stored.Status != domain.TaskStatusPending {
		t.Errorf("expected pending for retry, got %s", stored.Status)
	}
	if stored.Error != "copy index: 503" {
		t.Errorf("expected error reason, got %q", stored.Error)
	}
	if !stored.ScheduledFor.After(before) {
		t.Error("expected retry to be scheduled in the future")
	}

	stats, _ := q.Stats(ctx)
	if stats.PendingCount != 1 {
		t.Errorf("expected retry to be pending, got %+v", stats)
	}

	got, _ := q.DequeueWithTimeout(ctx, 0)
	if got != nil {
		t.Error("expected retry to wait for its backoff")
	}
}

func TestQueue_NackExhausted(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := newReindexTask(0)
	task.MaxAttempts = 1
	_ = q.Enqueue(ctx, task)
	if _, err := q.DequeueWithTimeout(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := q.Nack(ctx, task.ID, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := q.GetTask(ctx, task.ID)
	if stored.Status != domain.TaskStatusFailed {
		t.Errorf("expected failed, got %s", stored.Status)
	}

	stats, _ := q.Stats(ctx)
	if stats.FailedCount != 1 || stats.PendingCount != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestQueue_UnknownTask(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	if _, err := q.GetTask(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound from GetTask, got %v", err)
	}
	if err := q.Ack(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Ack, got %v", err)
	}
	if err := q.Nack(ctx, "missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Nack, got %v", err)
	}
}

func TestQueue_Ping(t *testing.T) {
	q, _ := setupTestQueue(t)

	if err := q.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
