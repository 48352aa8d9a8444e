package cache

import (
	"container/list"
	"fmt"
	"sync"
)

// lruCacheItem is the internal structure stored in the linked list.
type lruCacheItem[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a generic, thread-safe, in-memory memo with a fixed size and a
// Least Recently Used eviction policy.
type LRU[K comparable, V any] struct {
	maxSize int

	mu    sync.Mutex
	ll    *list.List          // Used to track the order of items (recency).
	cache map[K]*list.Element // Used for fast key lookups.
}

// NewLRU creates a new size-limited LRU memo. maxSize must be > 0.
func NewLRU[K comparable, V any](maxSize int) (*LRU[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &LRU[K, V]{
		maxSize: maxSize,
		ll:      list.New(),
		cache:   make(map[K]*list.Element),
	}, nil
}

// Get returns the value for key and marks it as most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*lruCacheItem[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key, evicting the least recently used item when
// the memo is over capacity.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.cache[key]; ok {
		elem.Value.(*lruCacheItem[K, V]).value = value
		c.ll.MoveToFront(elem)
		return
	}
	c.cache[key] = c.ll.PushFront(&lruCacheItem[K, V]{key: key, value: value})
	if c.ll.Len() > c.maxSize {
		c.evict()
	}
}

// GetOrCompute returns the memoized value for key, computing and storing it
// on a miss. compute must be deterministic for a given key.
func (c *LRU[K, V]) GetOrCompute(key K, compute func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := compute()
	c.Put(key, v)
	return v
}

// Len returns the number of memoized items.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Clear drops every item.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.cache = make(map[K]*list.Element)
}

// evict removes the least recently used item from the cache.
// This method is unexported and must be called within a locked mutex.
func (c *LRU[K, V]) evict() {
	elementToRemove := c.ll.Back()
	if elementToRemove != nil {
		itemToRemove := c.ll.Remove(elementToRemove).(*lruCacheItem[K, V])
		delete(c.cache, itemToRemove.key)
	}
}
