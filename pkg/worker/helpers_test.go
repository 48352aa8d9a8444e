package worker_test

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/illmade-knight/go-assetedge/pkg/worker"
	"github.com/stretchr/testify/require"
)

const testOrigin = "https://site.example"

// mockNetwork is a test double for the network Fetcher. Responses are keyed
// by URL; unknown URLs fail as unreachable unless FetchFunc is set.
type mockNetwork struct {
	calls     atomic.Int32
	mu        sync.Mutex
	responses map[string]*cache.CachedResponse
	offline   bool
	FetchFunc func(ctx context.Context, req *worker.Request) (*cache.CachedResponse, error)
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{responses: make(map[string]*cache.CachedResponse)}
}

func (m *mockNetwork) Fetch(ctx context.Context, req *worker.Request) (*cache.CachedResponse, error) {
	m.calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, fmt.Errorf("%w: offline", worker.ErrNetwork)
	}
	resp, ok := m.responses[req.URL.String()]
	if !ok {
		return nil, fmt.Errorf("%w: unreachable %s", worker.ErrNetwork, req.URL)
	}
	return resp.Clone(), nil
}

func (m *mockNetwork) serve(rawURL string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[rawURL] = &cache.CachedResponse{
		Status: status,
		Header: http.Header{"Content-Type": []string{"application/octet-stream"}},
		Body:   []byte(body),
	}
}

func (m *mockNetwork) setOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func getRequest(t *testing.T, raw string) *worker.Request {
	t.Helper()
	return worker.NewRequest(mustURL(t, raw))
}

func testStrategies() worker.Strategies {
	s := worker.DefaultStrategies("edge", "v1")
	img := s[worker.ClassImage]
	img.MaxEntries = 3
	s[worker.ClassImage] = img
	return s
}
