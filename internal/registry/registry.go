// Package registry provides the generic liveness store backing both the
// session and host directories: a mutex-guarded key/value map with
// predicate-driven expiry sweeps that run on their own timers.
//
// TTL policy lives with the caller (the predicate), not the store. Sweep
// intervals are decoupled from TTLs, so an entry may be readable for up to one
// interval past its nominal expiry; callers that need exact liveness must
// check it at read time.
package registry

import (
	"sync"
	"time"
)

type Store[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
}

func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K]V),
	}
}

func (s *Store[K, V]) Put(key K, value V) {
	s.mu.Lock()
	s.entries[key] = value
	s.mu.Unlock()
}

func (s *Store[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns a copy of the map. Values are shared; callers that mutate
// entries must hold their own exclusion.
func (s *Store[K, V]) Snapshot() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[K]V, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Sweep removes every entry for which expired returns true and reports how
// many were removed.
func (s *Store[K, V]) Sweep(now time.Time, expired func(V, time.Time) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, v := range s.entries {
		if expired(v, now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
