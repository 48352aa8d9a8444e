package worker_test

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/illmade-knight/go-assetedge/pkg/worker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeProxy(t *testing.T, store cache.Store, network *mockNetwork) *worker.Proxy {
	t.Helper()
	serveSeeds(network)
	w := newWorker(t, store, network)
	require.NoError(t, w.Start(context.Background()))
	return worker.NewProxy(w, zerolog.Nop())
}

func TestProxy_ServeHTTP(t *testing.T) {
	t.Run("Relative request is resolved against the origin", func(t *testing.T) {
		// Arrange
		network := newMockNetwork()
		network.serve(testOrigin+"/img/a.png", http.StatusOK, "png")
		proxy := activeProxy(t, cache.NewInMemoryStore(), network)
		req := httptest.NewRequest(http.MethodGet, "/img/a.png", nil)
		rec := httptest.NewRecorder()

		// Act
		proxy.ServeHTTP(rec, req)

		// Assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "png", rec.Body.String())
		assert.Equal(t, "3", rec.Header().Get("Content-Length"))
	})

	t.Run("Offline image becomes the placeholder", func(t *testing.T) {
		network := newMockNetwork()
		proxy := activeProxy(t, cache.NewInMemoryStore(), network)
		network.setOffline(true)
		req := httptest.NewRequest(http.MethodGet, "/photos/cover", nil)
		req.Header.Set("Sec-Fetch-Dest", "image")
		rec := httptest.NewRecorder()

		proxy.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	})

	t.Run("Static failure is a bad gateway", func(t *testing.T) {
		network := newMockNetwork()
		proxy := activeProxy(t, cache.NewInMemoryStore(), network)
		network.setOffline(true)
		rec := httptest.NewRecorder()

		proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("Seeded shell is served offline", func(t *testing.T) {
		network := newMockNetwork()
		proxy := activeProxy(t, cache.NewInMemoryStore(), network)
		network.setOffline(true)
		req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
		req.Header.Set("Sec-Fetch-Dest", "document")
		rec := httptest.NewRecorder()

		proxy.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "seed /index.html", rec.Body.String())
	})

	t.Run("HEAD writes no body", func(t *testing.T) {
		network := newMockNetwork()
		network.serve(testOrigin+"/robots.txt", http.StatusOK, "User-agent: *")
		proxy := activeProxy(t, cache.NewInMemoryStore(), network)
		rec := httptest.NewRecorder()

		proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/robots.txt", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

// newUpstreamProxy wires an active proxy to a real upstream through the
// HTTP fetcher, with no seeds to install.
func newUpstreamProxy(t *testing.T, upstream *httptest.Server, store cache.Store) *worker.Proxy {
	t.Helper()
	origin := mustURL(t, testOrigin)
	network := worker.NewHTTPFetcher(worker.HTTPFetcherConfig{
		Origin:   origin,
		Upstream: mustURL(t, upstream.URL),
		Timeout:  5 * time.Second,
	}, nil)
	w, err := worker.New(worker.Config{
		Origin:     origin,
		Strategies: testStrategies(),
		ShellCache: worker.ShellCacheName("edge", "v1.0.0"),
		Seeds:      []string{},
	}, store, network, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NoError(t, w.Start(context.Background()))
	return worker.NewProxy(w, zerolog.Nop())
}

func TestProxy_SharedCacheIsolation(t *testing.T) {
	const script = "console.log('app')"

	t.Run("One client's credentials and encoding never reach another", func(t *testing.T) {
		// Arrange: an upstream that renews sessions, honours ranges and
		// compresses whenever asked to.
		var sawCredentials atomic.Int32
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Cookie") != "" || r.Header.Get("Authorization") != "" {
				sawCredentials.Add(1)
				w.Header().Set("Set-Cookie", "session=alice-secret-renewed")
			}
			w.Header().Set("Content-Type", "application/javascript")
			if r.Header.Get("Range") != "" {
				w.Header().Set("Content-Range", "bytes 0-3/18")
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write([]byte(script[:4]))
				return
			}
			if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				w.Header().Set("Content-Encoding", "gzip")
				gz := gzip.NewWriter(w)
				_, _ = gz.Write([]byte(script))
				_ = gz.Close()
				return
			}
			_, _ = w.Write([]byte(script))
		}))
		t.Cleanup(upstream.Close)
		proxy := newUpstreamProxy(t, upstream, cache.NewInMemoryStore())

		alice := httptest.NewRequest(http.MethodGet, "/app.js", nil)
		alice.Header.Set("Cookie", "session=alice-secret")
		alice.Header.Set("Authorization", "Bearer alice")
		alice.Header.Set("Accept-Encoding", "gzip")
		alice.Header.Set("Range", "bytes=0-3")
		bob := httptest.NewRequest(http.MethodGet, "/app.js", nil)

		// Act
		aliceRec := httptest.NewRecorder()
		proxy.ServeHTTP(aliceRec, alice)
		bobRec := httptest.NewRecorder()
		proxy.ServeHTTP(bobRec, bob)

		// Assert
		assert.Equal(t, int32(0), sawCredentials.Load(), "credentials must not be forwarded for shared responses")
		assert.Equal(t, http.StatusOK, aliceRec.Code)
		assert.Equal(t, script, aliceRec.Body.String())
		assert.Equal(t, http.StatusOK, bobRec.Code)
		assert.Equal(t, script, bobRec.Body.String())
		assert.Empty(t, bobRec.Header().Get("Set-Cookie"))
		assert.Empty(t, bobRec.Header().Get("Content-Encoding"))
	})

	t.Run("Private responses are never replayed", func(t *testing.T) {
		// Arrange
		var calls atomic.Int32
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Set-Cookie", "visitor=1")
			w.Header().Set("Cache-Control", "private")
			_, _ = w.Write([]byte(script))
		}))
		t.Cleanup(upstream.Close)
		store := cache.NewInMemoryStore()
		proxy := newUpstreamProxy(t, upstream, store)

		// Act
		for i := 0; i < 2; i++ {
			rec := httptest.NewRecorder()
			proxy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}

		// Assert
		assert.Equal(t, int32(2), calls.Load(), "an unstorable response must be fetched again")
		_, err := store.Match(context.Background(), testStrategies()[worker.ClassStatic].Name,
			cache.RequestKey{Method: http.MethodGet, URL: testOrigin + "/app.js"})
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})
}

func TestProxy_MessageHandler(t *testing.T) {
	t.Run("Preload message is accepted", func(t *testing.T) {
		// Arrange
		store := cache.NewInMemoryStore()
		network := newMockNetwork()
		network.serve(testOrigin+"/img/hero.jpg", http.StatusOK, "hero")
		proxy := activeProxy(t, store, network)
		body := `{"type":"PRELOAD_IMAGES","urls":["/img/hero.jpg"]}`
		rec := httptest.NewRecorder()

		// Act
		proxy.MessageHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_worker/messages", strings.NewReader(body)))

		// Assert
		assert.Equal(t, http.StatusAccepted, rec.Code)
		require.Eventually(t, func() bool {
			keys, err := store.Keys(context.Background(), testStrategies()[worker.ClassImage].Name)
			return err == nil && len(keys) == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("Sender's connection paces a non-priority preload", func(t *testing.T) {
		testCases := []struct {
			name        string
			body        string
			ect         string
			wantMaxBusy int32
		}{
			{"2g sender without priority is sequential", `{"type":"PRELOAD_IMAGES","urls":["/img/1.jpg","/img/2.jpg","/img/3.jpg"]}`, "2g", 1},
			{"priority on 2g is concurrent", `{"type":"PRELOAD_IMAGES","priority":true,"urls":["/img/1.jpg","/img/2.jpg","/img/3.jpg"]}`, "2g", 3},
			{"4g sender is concurrent", `{"type":"PRELOAD_IMAGES","urls":["/img/1.jpg","/img/2.jpg","/img/3.jpg"]}`, "4g", 3},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				// Arrange
				store := cache.NewInMemoryStore()
				network := newMockNetwork()
				proxy := activeProxy(t, store, network)
				var busy, maxBusy atomic.Int32
				network.FetchFunc = func(ctx context.Context, req *worker.Request) (*cache.CachedResponse, error) {
					n := busy.Add(1)
					defer busy.Add(-1)
					for {
						seen := maxBusy.Load()
						if n <= seen || maxBusy.CompareAndSwap(seen, n) {
							break
						}
					}
					time.Sleep(50 * time.Millisecond)
					return &cache.CachedResponse{Status: http.StatusOK, Header: http.Header{}, Body: []byte("jpg")}, nil
				}
				req := httptest.NewRequest(http.MethodPost, "/_worker/messages", strings.NewReader(tc.body))
				req.Header.Set("ECT", tc.ect)
				rec := httptest.NewRecorder()

				// Act
				proxy.MessageHandler().ServeHTTP(rec, req)

				// Assert
				require.Equal(t, http.StatusAccepted, rec.Code)
				require.Eventually(t, func() bool {
					keys, err := store.Keys(context.Background(), testStrategies()[worker.ClassImage].Name)
					return err == nil && len(keys) == 3
				}, 2*time.Second, 10*time.Millisecond)
				assert.Equal(t, tc.wantMaxBusy, maxBusy.Load())
			})
		}
	})

	t.Run("Unknown type is a bad request", func(t *testing.T) {
		proxy := activeProxy(t, cache.NewInMemoryStore(), newMockNetwork())
		rec := httptest.NewRecorder()

		proxy.MessageHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_worker/messages", strings.NewReader(`{"type":"NOPE"}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Malformed JSON is a bad request", func(t *testing.T) {
		proxy := activeProxy(t, cache.NewInMemoryStore(), newMockNetwork())
		rec := httptest.NewRecorder()

		proxy.MessageHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_worker/messages", strings.NewReader(`{`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		proxy := activeProxy(t, cache.NewInMemoryStore(), newMockNetwork())
		rec := httptest.NewRecorder()

		proxy.MessageHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_worker/messages", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	})
}
