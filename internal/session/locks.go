package session

import (
	"context"
	"sync"
)

// Locks hands out one exclusive slot per session name. Waiting honors the
// caller's context.
type Locks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocks() *Locks {
	return &Locks{slots: make(map[string]chan struct{})}
}

func (l *Locks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire blocks until the session is free or ctx is done. The returned
// release func must be called exactly once.
func (l *Locks) Acquire(ctx context.Context, key string) (func(), error) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the slot only if it is free right now.
func (l *Locks) TryAcquire(key string) (func(), bool) {
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, true
	default:
		return nil, false
	}
}
