// Package keylock serializes operations per entity key. Each spending policy
// and each subscription must behave as if guarded by its own mutex while
// operations on different keys proceed independently.
package keylock

import "sync"

// KeyLock hands out one mutex per string key, created lazily.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns the unlock function.
func (k *KeyLock) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
