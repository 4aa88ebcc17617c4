package apikeys

import "sync"

// keyLocks hands out one mutex per key id. Entries are never removed;
// the set is bounded by the number of keys.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for id and returns its release func
func (k *keyLocks) lock(id string) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
