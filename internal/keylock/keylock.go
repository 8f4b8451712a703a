// Package keylock provides in-process mutual exclusion keyed by string.
// Engines take the lock for a market id around their storage transaction so
// operations on the same market are linearizable; operations on different
// markets proceed concurrently.
package keylock

import "sync"

// KeyLock hands out one mutex per key. Mutexes are created lazily and kept
// for the lifetime of the KeyLock; the key space here (market ids) is small
// and bounded.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, blocking until it is available, and
// returns the unlock function.
func (kl *KeyLock) Lock(key string) (unlock func()) {
	kl.mu.Lock()
	m, ok := kl.locks[key]
	if !ok {
		m = &sync.Mutex{}
		kl.locks[key] = m
	}
	kl.mu.Unlock()

	m.Lock()
	return m.Unlock
}
