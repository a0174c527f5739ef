package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired in time
var ErrTimeout = errors.New("lock acquire timed out")

// Locker is a mutual-exclusion lock with a bounded acquire
type Locker interface {
	// Acquire blocks until the lock is held, timeout elapses or ctx is done.
	// The returned release func must be called exactly once.
	Acquire(ctx context.Context, timeout time.Duration) (release func(), err error)
}

// LocalLocker is an in-process Locker
type LocalLocker struct {
	ch chan struct{}
}

// NewLocal creates an unlocked in-process lock
func NewLocal() *LocalLocker {
	return &LocalLocker{ch: make(chan struct{}, 1)}
}

func (l *LocalLocker) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.ch <- struct{}{}:
		return func() { <-l.ch }, nil
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
