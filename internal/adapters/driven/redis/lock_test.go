package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestLock_OwnerID_Unique(t *testing.T) {
	client, _ := setupTestRedis(t)

	lock1 := NewLock(client)
	lock2 := NewLock(client)

	if lock1.OwnerID() == "" {
		t.Error("expected non-empty owner ID")
	}
	if lock1.OwnerID() == lock2.OwnerID() {
		t.Errorf("expected unique owner IDs, got same: %s", lock1.OwnerID())
	}
}

func TestLock_Acquire(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	lock := NewLock(client)
	acquired, err := lock.Acquire(ctx, "full-reindex", 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire lock")
	}

	got, err := mr.Get(lockPrefix + "full-reindex")
	if err != nil {
		t.Fatalf("expected lock key: %v", err)
	}
	if got != lock.OwnerID() {
		t.Errorf("expected owner %s, got %s", lock.OwnerID(), got)
	}
	if ttl := mr.TTL(lockPrefix + "full-reindex"); ttl != 10*time.Second {
		t.Errorf("expected 10s TTL, got %v", ttl)
	}
}

func TestLock_Acquire_HeldByOther(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	holder := NewLock(client)
	other := NewLock(client)

	if ok, _ := holder.Acquire(ctx, "full-reindex", time.Minute); !ok {
		t.Fatal("expected first acquire to succeed")
	}

	acquired, err := other.Acquire(ctx, "full-reindex", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acquired {
		t.Error("expected second owner to be rejected")
	}

	// The same owner is rejected too; the lock is not reentrant.
	if ok, _ := holder.Acquire(ctx, "full-reindex", time.Minute); ok {
		t.Error("expected reacquire to be rejected")
	}
}

func TestLock_Acquire_AfterExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	holder := NewLock(client)
	other := NewLock(client)

	if ok, _ := holder.Acquire(ctx, "full-reindex", time.Second); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	mr.FastForward(2 * time.Second)

	acquired, err := other.Acquire(ctx, "full-reindex", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acquired {
		t.Error("expected acquire after expiry to succeed")
	}
}

func TestLock_Release(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	lock := NewLock(client)
	if ok, _ := lock.Acquire(ctx, "full-reindex", time.Minute); !ok {
		t.Fatal("expected acquire to succeed")
	}

	if err := lock.Release(ctx, "full-reindex"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists(lockPrefix + "full-reindex") {
		t.Error("expected lock key to be deleted")
	}

	// Releasing again is a no-op
	if err := lock.Release(ctx, "full-reindex"); err != nil {
		t.Errorf("expected no error releasing unheld lock, got %v", err)
	}
}

func TestLock_Release_ByDifferentOwner(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	holder := NewLock(client)
	other := NewLock(client)

	if ok, _ := holder.Acquire(ctx, "full-reindex", time.Minute); !ok {
		t.Fatal("expected acquire to succeed")
	}
	if err := other.Release(ctx, "full-reindex"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := mr.Get(lockPrefix + "full-reindex")
	if got != holder.OwnerID() {
		t.Error("expected lock to remain with its holder")
	}
}

func TestLock_Extend(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	lock := NewLock(client)
	if ok, _ := lock.Acquire(ctx, "full-reindex", time.Second); !ok {
		t.Fatal("expected acquire to succeed")
	}

	if err := lock.Extend(ctx, "full-reindex", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL(lockPrefix + "full-reindex"); ttl != time.Minute {
		t.Errorf("expected 1m TTL after extend, got %v", ttl)
	}
}

func TestLock_Extend_NotHeld(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	holder := NewLock(client)
	other := NewLock(client)

	if err := holder.Extend(ctx, "full-reindex", time.Minute); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld for missing lock, got %v", err)
	}

	if ok, _ := holder.Acquire(ctx, "full-reindex", time.Minute); !ok {
		t.Fatal("expected acquire to succeed")
	}
	if err := other.Extend(ctx, "full-reindex", time.Minute); !errors.Is(err, ErrLockNotHeld) {
		t.Errorf("expected ErrLockNotHeld for other owner, got %v", err)
	}
}

func TestLock_DifferentNames(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	lock := NewLock(client)
	for _, name := range []string{"full-reindex", "other"} {
		acquired, err := lock.Acquire(ctx, name, time.Minute)
		if err != nil || !acquired {
			t.Errorf("expected to acquire %s, got %v %v", name, acquired, err)
		}
	}
}

func TestLock_Ping(t *testing.T) {
	client, _ := setupTestRedis(t)

	if err := NewLock(client).Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLock_SharedOwnerHandsOver(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	api := NewLockWithOwner(client, "indexsync:products")
	worker := NewLockWithOwner(client, "indexsync:products")

	if ok, _ := api.Acquire(ctx, "full-reindex", time.Minute); !ok {
		t.Fatal("expected acquire to succeed")
	}
	if err := worker.Extend(ctx, "full-reindex", time.Minute); err != nil {
		t.Errorf("expected shared owner to extend, got %v", err)
	}
	if err := worker.Release(ctx, "full-reindex"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists(lockPrefix + "full-reindex") {
		t.Error("expected shared owner to release the lock")
	}
}
