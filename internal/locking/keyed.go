// Package locking serializes mutations per aggregate id.
package locking

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// KeyedLock is a table of mutexes keyed by aggregate id. Entries are created
// on first use and dropped as soon as no caller holds or waits for them.
type KeyedLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders plus waiters
}

// New creates an empty lock table.
func New() *KeyedLock {
	return &KeyedLock{entries: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held or ctx is done.
// On success the returned release func must be called; extra
// calls are no-ops.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.drop(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.drop(key, e)
		})
	}, nil
}

func (l *KeyedLock) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 && l.entries[key] == e {
		delete(l.entries, key)
	}
}

// Len returns the number of live entries.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
