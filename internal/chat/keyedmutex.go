package chat

import (
	"fmt"
	"sync"
)

// KeyedMutex provides mutual exclusion scoped to a logical key. Lock
// entries are created on demand and evicted once the last holder or waiter
// releases, so the map does not grow with keys no longer in use.
//
// Eviction is driven by a reference count: the count is incremented under
// the map lock before the per-key lock is acquired and decremented after it
// is released, so an entry can never be evicted while another caller still
// holds a reference to it. Operations sharing a key observe a total order;
// operations on different keys are fully concurrent.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until the lock for key is held. Every Lock must be paired
// with an Unlock for the same key. A caller holding the lock must not
// re-enter an operation that locks the same key.
func (km *KeyedMutex) Lock(key string) {
	km.mu.Lock()
	e, ok := km.entries[key]
	if !ok {
		e = &keyedEntry{}
		km.entries[key] = e
	}
	e.refs++
	km.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the lock for key and evicts the entry once no holder or
// waiter references it anymore.
func (km *KeyedMutex) Unlock(key string) {
	km.mu.Lock()
	defer km.mu.Unlock()

	e, ok := km.entries[key]
	if !ok {
		panic("chat: unlock of unheld keyed mutex " + key)
	}
	e.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(km.entries, key)
	}
}

// WithLock runs fn while holding the lock for key.
func (km *KeyedMutex) WithLock(key string, fn func() error) error {
	km.Lock(key)
	defer km.Unlock(key)
	return fn()
}

// Len returns the number of live lock entries.
func (km *KeyedMutex) Len() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.entries)
}

// PairKey canonicalizes a two-party key: both participants compute the same
// key regardless of argument order.
func PairKey(user1ID, user2ID int) string {
	if user1ID > user2ID {
		user1ID, user2ID = user2ID, user1ID
	}
	return fmt.Sprintf("%d-%d", user1ID, user2ID)
}
