/*
Package lock serializes transitions on a single claim or quittance.

PURPOSE:
  Two operators acting on the same entity must not interleave their
  load-decide-persist cycles. Locks are per key ("quittance:<id>"), so
  quittances under the same claim are still approved fully in parallel.

  The store's version check stays the source of truth: a lock narrows the
  race window, a lost compare-and-swap still fails with AlreadyTransitioned.

IMPLEMENTATIONS:
  - Keyed: in-process, for a single server instance
  - Redis: SET NX PX with a token-checked release, for several instances
*/
package lock

import (
	"context"
	"sync"
)

// Locker acquires an exclusive lock on key. The returned function releases
// it and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// =============================================================================
// KEYED MUTEX
// =============================================================================

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// Keyed is an in-process lock per key. Entries are dropped once no goroutine
// holds or waits on them.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[string]*keyedEntry)}
}

func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { k.release(key, e, true) })
	}, nil
}

func (k *Keyed) release(key string, e *keyedEntry, held bool) {
	if held {
		<-e.sem
	}
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()
}

// size is the number of live entries, for tests.
func (k *Keyed) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
