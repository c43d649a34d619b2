// Package locks provides keyed mutual exclusion used to serialize
// concurrent submissions for the same transaction reference.
package locks

import "context"

// Locker acquires an exclusive lock for a key. Acquire blocks until the
// lock is held or the context is done; the returned function releases it.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
