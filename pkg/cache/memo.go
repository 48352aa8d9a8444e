package cache

import (
	"sync"
	"time"
)

// Clock returns the current time. Tests substitute a controllable clock.
type Clock func() time.Time

type memoEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ExpiringMemo is a thread-safe memo whose entries are never served at or
// past their expiry. Expired entries are dropped lazily on lookup.
type ExpiringMemo[K comparable, V any] struct {
	ttl   time.Duration
	clock Clock

	mu   sync.Mutex
	data map[K]memoEntry[V]
}

// NewExpiringMemo creates a memo with a fixed time-to-live. A nil clock
// means time.Now.
func NewExpiringMemo[K comparable, V any](ttl time.Duration, clock Clock) *ExpiringMemo[K, V] {
	if clock == nil {
		clock = time.Now
	}
	return &ExpiringMemo[K, V]{
		ttl:   ttl,
		clock: clock,
		data:  make(map[K]memoEntry[V]),
	}
}

// Get returns the value for key if it exists and has not expired.
func (m *ExpiringMemo[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	entry, ok := m.data[key]
	if !ok {
		return zero, false
	}
	if !m.clock().Before(entry.expiresAt) {
		delete(m.data, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value for key, expiring ttl from now.
func (m *ExpiringMemo[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = memoEntry[V]{value: value, expiresAt: m.clock().Add(m.ttl)}
}

// Clear drops every entry immediately.
func (m *ExpiringMemo[K, V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[K]memoEntry[V])
}

// Len returns the number of entries, including any not yet pruned.
func (m *ExpiringMemo[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
