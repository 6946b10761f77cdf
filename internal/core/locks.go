package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// LockTable hands out one exclusive lock per scope (purchase order number).
// Waiters block without spinning until the lock frees, the timeout elapses, or the
// caller's context is cancelled.
type LockTable struct {
	mu      sync.Mutex
	locks   map[string]*scopeLock
	timeout time.Duration
}

type scopeLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLockTable returns a lock table whose acquisitions give up after timeout.
// A zero timeout waits for as long as the context allows.
func NewLockTable(timeout time.Duration) *LockTable {
	return &LockTable{locks: make(map[string]*scopeLock), timeout: timeout}
}

// Acquire locks scope and returns the release func. It returns ErrBusy if the lock could
// not be obtained in time.
func (t *LockTable) Acquire(ctx context.Context, scope string) (func(), error) {
	t.mu.Lock()
	l, ok := t.locks[scope]
	if !ok {
		l = &scopeLock{sem: semaphore.NewWeighted(1)}
		t.locks[scope] = l
	}
	l.refs++
	t.mu.Unlock()

	waitCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		t.drop(scope, l)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("lock purchase order %q: %w", scope, ErrBusy)
		}
		return nil, fmt.Errorf("lock purchase order %q: %w", scope, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.sem.Release(1)
			t.drop(scope, l)
		})
	}, nil
}

// drop forgets the scope's lock once nobody holds or waits for it.
func (t *LockTable) drop(scope string, l *scopeLock) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, scope)
	}
}
