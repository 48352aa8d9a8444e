// Package cache provides the partitioned response store used by the asset
// worker, its FIFO eviction policy, and the small in-process memos used by
// the media service.
package cache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when a key or partition is absent from a store.
var ErrNotFound = errors.New("cache: not found")

// RequestKey is the stable identity of a cached item.
type RequestKey struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// NewRequestKey builds a key from a method and URL. The URL is canonicalised
// by dropping its fragment; an empty method means GET.
func NewRequestKey(method string, u *url.URL) RequestKey {
	if method == "" {
		method = http.MethodGet
	}
	canonical := *u
	canonical.Fragment = ""
	canonical.RawFragment = ""
	return RequestKey{Method: method, URL: canonical.String()}
}

// String renders the key as "METHOD URL".
func (k RequestKey) String() string {
	return k.Method + " " + k.URL
}

// Cacheable reports whether responses for this key may be persisted.
func (k RequestKey) Cacheable() bool {
	return k.Method == http.MethodGet
}

// CachedResponse is a fully buffered response. Stores hold their own copy;
// callers always receive a clone so a body can be consumed more than once.
type CachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// OK reports whether the status is in the 2xx range.
func (r *CachedResponse) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Storable reports whether the response may be kept in a cache shared by
// every client: a 2xx other than 206, without Set-Cookie, and not marked
// private or no-store.
func (r *CachedResponse) Storable() bool {
	if !r.OK() || r.Status == http.StatusPartialContent {
		return false
	}
	if len(r.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range r.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			switch strings.ToLower(strings.TrimSpace(directive)) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy of the response.
func (r *CachedResponse) Clone() *CachedResponse {
	if r == nil {
		return nil
	}
	return &CachedResponse{
		Status:   r.Status,
		Header:   r.Header.Clone(),
		Body:     bytes.Clone(r.Body),
		StoredAt: r.StoredAt,
	}
}

// Store is a collection of named partitions, each mapping request keys to
// responses in insertion order. Writing an existing key replaces it and
// moves it to the newest position.
type Store interface {
	// Match returns the response stored for key in partition, or ErrNotFound.
	Match(ctx context.Context, partition string, key RequestKey) (*CachedResponse, error)
	// Put stores a copy of resp, creating the partition if needed.
	Put(ctx context.Context, partition string, key RequestKey, resp *CachedResponse) error
	// Delete removes a single key and reports whether it existed.
	Delete(ctx context.Context, partition string, key RequestKey) (bool, error)
	// DeleteKeys removes several keys at once and returns how many existed.
	DeleteKeys(ctx context.Context, partition string, keys ...RequestKey) (int, error)
	// Keys lists the keys of a partition, oldest insertion first.
	Keys(ctx context.Context, partition string) ([]RequestKey, error)
	// Partitions lists the names of every partition in the store.
	Partitions(ctx context.Context) ([]string, error)
	// DeletePartition drops a partition with all of its entries.
	DeletePartition(ctx context.Context, partition string) (bool, error)
	// Close releases any connection held by the store.
	Close() error
}
