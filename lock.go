package strata

import (
	"context"
	"sync"
)

// KeyedMutex serializes operations that share a string key while letting
// operations on distinct keys proceed in parallel. Idle keys hold no memory:
// an entry is dropped once its last holder or waiter is gone.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock acquires the lock for key, blocking until it is free or ctx is done.
// On success it returns a release function that must be called exactly once;
// calling it more than once is a no-op. Callers should defer it immediately
// so the lock is released on every exit path.
func (km *KeyedMutex) Lock(ctx context.Context, key string) (release func(), err error) {
	km.mu.Lock()
	kl, ok := km.locks[key]
	if !ok {
		kl = &keyedLock{sem: make(chan struct{}, 1)}
		km.locks[key] = kl
	}
	kl.refs++
	km.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		km.unref(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.sem
			km.unref(key, kl)
		})
	}, nil
}

func (km *KeyedMutex) unref(key string, kl *keyedLock) {
	km.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()
}
