// Package keyedmutex provides per-key serialization with idle-entry
// cleanup, used everywhere this control plane needs "one in-flight
// operation per tenant at a time": lifecycle transitions, provisioning
// workflows, and backup/restore (§5 Concurrency & Resource Model).
package keyedmutex

import "sync"

type entry struct {
	mu       sync.Mutex
	refCount int
}

// Map is a map of independent mutexes keyed by string, with entries removed
// once no goroutine holds or is waiting on them.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New builds an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, creating it if necessary. The returned
// function must be called exactly once to release it.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.refCount++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		m.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}
