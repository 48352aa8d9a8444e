package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
)

// ErrNetwork marks a failed network fetch. Any HTTP status, including 4xx
// and 5xx, is a successful fetch and is not wrapped in ErrNetwork.
var ErrNetwork = errors.New("worker: network failure")

// Fetcher performs the network leg of a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.CachedResponse, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*cache.CachedResponse, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	return f(ctx, req)
}

// defaultMaxBodyBytes caps buffered bodies when no limit is configured.
const defaultMaxBodyBytes = 32 << 20

// hopHeaders are connection-level headers that must not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// HTTPFetcherConfig holds configuration for the HTTP fetcher.
type HTTPFetcherConfig struct {
	// Origin is the public origin of the site. Requests to it are sent to
	// Upstream instead when Upstream is set.
	Origin   *url.URL
	Upstream *url.URL
	Timeout  time.Duration
	// MaxBodyBytes caps buffered response bodies. Zero means 32 MiB.
	MaxBodyBytes int64
}

// HTTPFetcher fetches over HTTP and fully buffers the response.
type HTTPFetcher struct {
	client  *http.Client
	cfg     HTTPFetcherConfig
	maxBody int64
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a default one
// with the configured timeout.
func NewHTTPFetcher(cfg HTTPFetcherConfig, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &HTTPFetcher{client: client, cfg: cfg, maxBody: maxBody}
}

// Fetch sends req and buffers the response.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	target := f.target(req.URL)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", target, err)
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
		stripHopHeaders(httpReq.Header)
	}
	if target.Host != req.URL.Host {
		// Keep the public host visible to the upstream.
		httpReq.Host = req.URL.Host
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, req.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %v", ErrNetwork, req.URL, err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("%w: body of %s exceeds %d bytes", ErrNetwork, req.URL, f.maxBody)
	}

	header := resp.Header.Clone()
	stripHopHeaders(header)
	header.Del("Content-Length")
	return &cache.CachedResponse{
		Status: resp.StatusCode,
		Header: header,
		Body:   data,
	}, nil
}

func (f *HTTPFetcher) target(u *url.URL) *url.URL {
	if f.cfg.Origin == nil || f.cfg.Upstream == nil {
		return u
	}
	if !strings.EqualFold(u.Scheme, f.cfg.Origin.Scheme) || !strings.EqualFold(u.Host, f.cfg.Origin.Host) {
		return u
	}
	rewritten := *u
	rewritten.Scheme = f.cfg.Upstream.Scheme
	rewritten.Host = f.cfg.Upstream.Host
	return &rewritten
}

// Route sends requests whose URL starts with Prefix to Fetcher. When Match
// is set the request must also satisfy it.
type Route struct {
	Prefix  string
	Match   func(*Request) bool
	Fetcher Fetcher
}

// Untransformed matches requests for an asset as stored, without any
// rendition parameters in the query.
func Untransformed(req *Request) bool {
	return req.URL.RawQuery == ""
}

// RoutingFetcher picks the first matching route, or the fallback.
type RoutingFetcher struct {
	routes   []Route
	fallback Fetcher
}

// NewRoutingFetcher creates a RoutingFetcher.
func NewRoutingFetcher(fallback Fetcher, routes ...Route) *RoutingFetcher {
	return &RoutingFetcher{routes: routes, fallback: fallback}
}

// Fetch dispatches req by URL prefix.
func (f *RoutingFetcher) Fetch(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	raw := req.URL.String()
	for _, r := range f.routes {
		if strings.HasPrefix(raw, r.Prefix) && (r.Match == nil || r.Match(req)) {
			return r.Fetcher.Fetch(ctx, req)
		}
	}
	if f.fallback == nil {
		return nil, fmt.Errorf("%w: no route for %s", ErrNetwork, raw)
	}
	return f.fallback.Fetch(ctx, req)
}
