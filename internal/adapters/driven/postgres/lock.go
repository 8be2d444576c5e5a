package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*LeaseLock)(nil)

// ErrLeaseNotHeld is returned by Extend when the lease expired or belongs to
// another owner.
var ErrLeaseNotHeld = errors.New("lease not held by this owner")

// LeaseLock implements DistributedLock with rows in the locks table.
//
// A lease belongs to an owner string rather than a connection, so processes
// sharing the owner can hand a lock over: the API process acquires the
// reindex lease and the worker finishing the run releases it. An expired
// lease can be taken by anyone.
type LeaseLock struct {
	db    *DB
	owner string
}

// NewLeaseLock creates a lease lock acting on behalf of owner.
func NewLeaseLock(db *DB, owner string) *LeaseLock {
	return &LeaseLock{db: db, owner: owner}
}

// Acquire inserts the lease, or takes it over once expired.
func (l *LeaseLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO locks (name, owner, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at < NOW()
		RETURNING name
	`

	var got string
	err := l.db.QueryRowContext(ctx, query, name, l.owner, ttl.Milliseconds()).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return true, nil
}

// Release deletes the lease if this owner holds it.
func (l *LeaseLock) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM locks WHERE name = $1 AND owner = $2`, name, l.owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Extend pushes the expiry of a live lease held by this owner.
func (l *LeaseLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	query := `
		UPDATE locks
		SET expires_at = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE name = $1 AND owner = $2 AND expires_at >= NOW()
	`
	result, err := l.db.ExecContext(ctx, query, name, l.owner, ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", name, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("extend lease %s: %w", name, ErrLeaseNotHeld)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *LeaseLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
