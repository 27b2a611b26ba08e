package utils

import "sync"

// KeyedRWMutex hands out one RWMutex per key. Entries are reference counted and dropped
// once the last holder releases, so the map only grows with the number of keys in use.
type KeyedRWMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*keyedEntry
}

type keyedEntry struct {
	mu   sync.RWMutex
	refs int
}

func NewKeyedRWMutex[K comparable]() *KeyedRWMutex[K] {
	return &KeyedRWMutex[K]{locks: make(map[K]*keyedEntry)}
}

func (k *KeyedRWMutex[K]) acquire(key K) *keyedEntry {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()
	return e
}

func (k *KeyedRWMutex[K]) release(key K, e *keyedEntry) {
	k.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Lock takes the exclusive lock for key and returns the matching unlock func.
func (k *KeyedRWMutex[K]) Lock(key K) func() {
	e := k.acquire(key)
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.release(key, e)
	}
}

// RLock takes the shared lock for key and returns the matching unlock func.
func (k *KeyedRWMutex[K]) RLock(key K) func() {
	e := k.acquire(key)
	e.mu.RLock()
	return func() {
		e.mu.RUnlock()
		k.release(key, e)
	}
}

// Len reports how many keys currently have holders or waiters.
func (k *KeyedRWMutex[K]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
