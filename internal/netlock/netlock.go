// Package netlock serializes all mutations to a single network's aggregates.
//
// Two independent triggers read-modify-write the same rows: snapshot arrival
// (reconciler) and the evaluator tick. The at-most-one-open-alert invariant
// does not survive unserialized concurrent access to active_alert_id, so both
// paths must hold the network's lock for their whole unit of work.
package netlock

import "sync"

// Locker hands out one mutex per network name. Locks are never discarded;
// the set of monitored networks is small and stable.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for the given network name, creating it on first use.
func (l *Locker) Lock(name string) {
	l.get(name).Lock()
}

// Unlock releases the mutex for the given network name.
func (l *Locker) Unlock(name string) {
	l.get(name).Unlock()
}

func (l *Locker) get(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	return m
}
