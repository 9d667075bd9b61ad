// Package keylock provides in-process advisory locks keyed by string.
//
// The orchestrator holds a device's lock for the duration of a scan-result
// rotation so two concurrent scans of the same device can't interleave their
// slot writes. Locks are advisory: nothing stops a caller from skipping the
// lock and writing anyway.
package keylock

import (
	"context"
	"sync"
)

// Set is a collection of named locks. The zero value is not usable; use
// [New].
type Set struct {
	mu sync.Mutex
	m  map[string]*waiter
}

type waiter struct {
	sem  chan struct{}
	refs int
}

// New returns an empty Set.
func New() *Set {
	return &Set{m: make(map[string]*waiter)}
}

// Lock acquires the named lock, blocking until it's free or the context is
// done. On success the caller must call Unlock with the same key.
func (s *Set) Lock(ctx context.Context, key string) error {
	s.mu.Lock()
	w, ok := s.m[key]
	if !ok {
		w = &waiter{sem: make(chan struct{}, 1)}
		s.m[key] = w
	}
	w.refs++
	s.mu.Unlock()

	select {
	case w.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		s.release(key, w)
		return context.Cause(ctx)
	}
}

// TryLock acquires the named lock only if it's immediately free.
func (s *Set) TryLock(key string) bool {
	s.mu.Lock()
	w, ok := s.m[key]
	if !ok {
		w = &waiter{sem: make(chan struct{}, 1)}
		s.m[key] = w
	}
	w.refs++
	s.mu.Unlock()

	select {
	case w.sem <- struct{}{}:
		return true
	default:
		s.release(key, w)
		return false
	}
}

// Unlock releases the named lock. Unlocking a key that isn't held panics,
// like sync.Mutex does.
func (s *Set) Unlock(key string) {
	s.mu.Lock()
	w, ok := s.m[key]
	s.mu.Unlock()
	if !ok {
		panic("keylock: unlock of unheld key: " + key)
	}
	select {
	case <-w.sem:
	default:
		panic("keylock: unlock of unheld key: " + key)
	}
	s.release(key, w)
}

// Release drops a reference, removing the bookkeeping entry once nothing
// holds or waits on the key.
func (s *Set) release(key string, w *waiter) {
	s.mu.Lock()
	w.refs--
	if w.refs == 0 {
		delete(s.m, key)
	}
	s.mu.Unlock()
}
