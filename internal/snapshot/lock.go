package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// BatchLock guards the snapshot batch against overlapping runs. TryAcquire
// returning false means a batch is already running somewhere; callers skip
// the tick, they never spin on it.
type BatchLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// FlagLock is a single-process BatchLock: a boolean flag behind a mutex.
// Sufficient when exactly one process owns the schedule tick.
type FlagLock struct {
	mu   sync.Mutex
	held bool
}

// NewFlagLock creates a new in-process batch lock.
func NewFlagLock() *FlagLock {
	return &FlagLock{}
}

// TryAcquire takes the flag if free.
func (l *FlagLock) TryAcquire(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

// Release frees the flag.
func (l *FlagLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}

// AdvisoryLockKey identifies the snapshot batch in pg_try_advisory_lock.
// All instances sharing a database must use the same key.
const AdvisoryLockKey int64 = 0x7472656e64666431 // "trendfd1"

// AdvisoryLock is a multi-instance BatchLock backed by a Postgres
// session-scoped advisory lock. The lock is held on a dedicated connection
// for the duration of one batch and released with the connection.
type AdvisoryLock struct {
	db  *sql.DB
	key int64

	mu   sync.Mutex
	conn *sql.Conn
}

// NewAdvisoryLock creates an advisory batch lock on the shared database.
func NewAdvisoryLock(db *sql.DB) *AdvisoryLock {
	return &AdvisoryLock{
		db:  db,
		key: AdvisoryLockKey,
	}
}

// TryAcquire pins a connection and attempts the advisory lock on it.
// Returns false without error when another session holds the lock.
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return false, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to pin lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks and returns the pinned connection to the pool.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	_, err := l.conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key)
	closeErr := l.conn.Close()
	l.conn = nil

	if err != nil {
		return fmt.Errorf("failed to release advisory lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close lock connection: %w", closeErr)
	}
	return nil
}
