package locks

import (
	"context"
	"sync"
)

// LocalLocker serializes access per key within a single process. Entries
// are reference-counted and removed once the last holder releases.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

type localEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		entries: make(map[string]*localEntry),
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &localEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = entry
	}

	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		return func() { l.release(key, entry) }, nil
	case <-ctx.Done():
		l.mu.Lock()
		entry.refs--

		if entry.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()

		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, entry *localEntry) {
	<-entry.ch

	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}
