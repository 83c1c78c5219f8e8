package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// contextLease grants exclusive use of the inference context. Only one
// lease is outstanding at a time; waiters queue in arrival order.
type contextLease struct {
	sem *semaphore.Weighted
}

func newContextLease() *contextLease {
	return &contextLease{sem: semaphore.NewWeighted(1)}
}

// acquire blocks until the context is free or ctx is done. The returned
// release is idempotent.
func (l *contextLease) acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(1) }) }, nil
}

// busy reports whether a lease is currently held.
func (l *contextLease) busy() bool {
	if l.sem.TryAcquire(1) {
		l.sem.Release(1)
		return false
	}
	return true
}
