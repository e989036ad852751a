package service

import "sync"

// providerLocks hands out one mutex per provider id so writers for a provider are serialized
// while different providers proceed in parallel. Idle mutexes are released.
type providerLocks struct {
	mu    sync.Mutex
	locks map[string]*providerLock
}

type providerLock struct {
	mu   sync.Mutex
	refs int
}

func newProviderLocks() *providerLocks {
	return &providerLocks{locks: make(map[string]*providerLock)}
}

// Lock blocks until the provider's mutex is held and returns its release function.
func (p *providerLocks) Lock(providerID string) func() {
	p.mu.Lock()
	lock, ok := p.locks[providerID]
	if !ok {
		lock = &providerLock{}
		p.locks[providerID] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		p.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.locks, providerID)
		}
		p.mu.Unlock()
	}
}

func (p *providerLocks) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
