package cache

import (
	"container/list"
)

// partitionItem is the internal structure stored in the linked list.
type partitionItem struct {
	key  RequestKey
	resp *CachedResponse
}

// OrderedPartition is an insertion-ordered map of responses. It is not safe
// for concurrent use; InMemoryStore guards it with its own lock.
type OrderedPartition struct {
	ll    *list.List                   // Front is the oldest insertion.
	index map[RequestKey]*list.Element // Used for fast key lookups.
}

// NewOrderedPartition creates an empty partition.
func NewOrderedPartition() *OrderedPartition {
	return &OrderedPartition{
		ll:    list.New(),
		index: make(map[RequestKey]*list.Element),
	}
}

// Get returns the response stored under key. Reads never change order.
func (p *OrderedPartition) Get(key RequestKey) (*CachedResponse, bool) {
	elem, ok := p.index[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*partitionItem).resp, true
}

// Set stores resp under key at the newest position, replacing any previous
// entry for the same key.
func (p *OrderedPartition) Set(key RequestKey, resp *CachedResponse) {
	if elem, ok := p.index[key]; ok {
		p.ll.Remove(elem)
	}
	p.index[key] = p.ll.PushBack(&partitionItem{key: key, resp: resp})
}

// Remove deletes key and reports whether it was present.
func (p *OrderedPartition) Remove(key RequestKey) bool {
	elem, ok := p.index[key]
	if !ok {
		return false
	}
	p.ll.Remove(elem)
	delete(p.index, key)
	return true
}

// Keys returns all keys, oldest first.
func (p *OrderedPartition) Keys() []RequestKey {
	keys := make([]RequestKey, 0, p.ll.Len())
	for e := p.ll.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*partitionItem).key)
	}
	return keys
}

// Len returns the number of entries.
func (p *OrderedPartition) Len() int {
	return p.ll.Len()
}

// EvictOverflow removes the oldest entries until at most maxEntries remain
// and returns the evicted keys, oldest first.
func (p *OrderedPartition) EvictOverflow(maxEntries int) []RequestKey {
	if maxEntries < 0 {
		maxEntries = 0
	}
	var evicted []RequestKey
	for p.ll.Len() > maxEntries {
		front := p.ll.Front()
		item := p.ll.Remove(front).(*partitionItem)
		delete(p.index, item.key)
		evicted = append(evicted, item.key)
	}
	return evicted
}
