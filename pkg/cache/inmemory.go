package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a thread-safe, in-process Store implementation. It is
// used for single-instance deployments and tests.
type InMemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]*OrderedPartition
	now        func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		partitions: make(map[string]*OrderedPartition),
		now:        time.Now,
	}
}

// Match retrieves a copy of the response stored for key.
func (s *InMemoryStore) Match(_ context.Context, partition string, key RequestKey) (*CachedResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("partition '%s': %w", partition, ErrNotFound)
	}
	resp, ok := p.Get(key)
	if !ok {
		return nil, fmt.Errorf("key '%s' in partition '%s': %w", key, partition, ErrNotFound)
	}
	return resp.Clone(), nil
}

// Put stores a copy of resp at the newest position of the partition.
func (s *InMemoryStore) Put(_ context.Context, partition string, key RequestKey, resp *CachedResponse) error {
	if resp == nil {
		return fmt.Errorf("cannot store nil response for '%s'", key)
	}
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[partition]
	if !ok {
		p = NewOrderedPartition()
		s.partitions[partition] = p
	}
	p.Set(key, stored)
	return nil
}

// Delete removes a single key.
func (s *InMemoryStore) Delete(ctx context.Context, partition string, key RequestKey) (bool, error) {
	n, err := s.DeleteKeys(ctx, partition, key)
	return n > 0, err
}

// DeleteKeys removes all given keys under one lock.
func (s *InMemoryStore) DeleteKeys(_ context.Context, partition string, keys ...RequestKey) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		return 0, nil
	}
	removed := 0
	for _, key := range keys {
		if p.Remove(key) {
			removed++
		}
	}
	return removed, nil
}

// EvictOverflow trims partition to maxEntries under a single lock, so a
// concurrent Put cannot slip between listing and deleting.
func (s *InMemoryStore) EvictOverflow(_ context.Context, partition string, maxEntries int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.partitions[partition]
	if !ok {
		return 0, nil
	}
	return len(p.EvictOverflow(maxEntries)), nil
}

// Keys lists keys oldest first.
func (s *InMemoryStore) Keys(_ context.Context, partition string) ([]RequestKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.partitions[partition]
	if !ok {
		return nil, nil
	}
	return p.Keys(), nil
}

// Partitions lists partition names in lexical order.
func (s *InMemoryStore) Partitions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeletePartition drops a partition.
func (s *InMemoryStore) DeletePartition(_ context.Context, partition string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.partitions[partition]; !ok {
		return false, nil
	}
	delete(s.partitions, partition)
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
