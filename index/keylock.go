package index

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// KeyLocker hands out one mutex per key; entries are dropped once no holder
// or waiter references them.
type KeyLocker struct {
	locks *xsync.MapOf[string, *keyLock]
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLocker creates an empty locker.
func NewKeyLocker() *KeyLocker {
	return &KeyLocker{locks: xsync.NewMapOf[string, *keyLock]()}
}

// Lock blocks until key is held and returns the matching unlock function.
func (l *KeyLocker) Lock(key string) (unlock func()) {
	entry, _ := l.locks.Compute(key, func(old *keyLock, loaded bool) (*keyLock, bool) {
		if !loaded {
			old = &keyLock{}
		}
		old.refs++
		return old, false
	})
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.locks.Compute(key, func(old *keyLock, loaded bool) (*keyLock, bool) {
			if !loaded {
				return old, true
			}
			old.refs--
			return old, old.refs == 0
		})
	}
}

// Len returns the number of keys currently locked or waited on.
func (l *KeyLocker) Len() int { return l.locks.Size() }

// Key joins the parts of a (definition, record) key.
func Key(definition, recordID string) string { return definition + "\x00" + recordID }
