package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/rs/zerolog"
)

// Handlers implements the fetch-and-cache strategy for each resource class.
type Handlers struct {
	store      cache.Store
	network    Fetcher
	strategies Strategies
	metrics    *Metrics
	logger     zerolog.Logger
}

// NewHandlers creates the strategy handlers. Every handled class must have
// an entry in strategies.
func NewHandlers(store cache.Store, network Fetcher, strategies Strategies, logger zerolog.Logger) (*Handlers, error) {
	if store == nil {
		return nil, errors.New("cache store cannot be nil")
	}
	if network == nil {
		return nil, errors.New("network fetcher cannot be nil")
	}
	for _, class := range []Class{ClassImage, ClassAPI, ClassStatic} {
		st, ok := strategies[class]
		if !ok || st.Name == "" {
			return nil, fmt.Errorf("no strategy configured for %s requests", class)
		}
	}
	return &Handlers{
		store:      store,
		network:    network,
		strategies: strategies,
		logger:     logger.With().Str("component", "Handlers").Logger(),
	}, nil
}

// UseMetrics makes the handlers record request outcomes in m.
func (h *Handlers) UseMetrics(m *Metrics) {
	h.metrics = m
}

// Image is cache-first with a placeholder fallback. It never returns an
// error: a failed fetch yields Placeholder().
func (h *Handlers) Image(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	strategy := h.strategies[ClassImage]
	key := req.Key()

	if key.Cacheable() {
		if cached, ok := h.lookup(ctx, strategy.Name, key); ok {
			h.logger.Debug().Str("url", key.URL).Msg("Image served from cache.")
			h.metrics.request(ClassImage, OutcomeHit)
			return cached, nil
		}
	}

	resp, err := h.network.Fetch(ctx, forShared(req))
	if err != nil {
		h.logger.Warn().Err(err).Str("url", key.URL).Msg("Image request failed, serving placeholder.")
		h.metrics.request(ClassImage, OutcomePlaceholder)
		return Placeholder(), nil
	}
	if key.Cacheable() && resp.Storable() {
		h.storeAndEvict(ctx, strategy, key, resp)
	}
	h.metrics.request(ClassImage, OutcomeMiss)
	return resp, nil
}

// API is network-first. The live response is always returned when the
// network answers; only on a network failure is a cached GET response used.
func (h *Handlers) API(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	strategy := h.strategies[ClassAPI]
	key := req.Key()

	resp, err := h.network.Fetch(ctx, forShared(req))
	if err == nil {
		if key.Cacheable() && resp.Storable() {
			h.storeAndEvict(ctx, strategy, key, resp)
		}
		h.metrics.request(ClassAPI, OutcomeNetwork)
		return resp, nil
	}

	if key.Cacheable() {
		if cached, ok := h.lookup(ctx, strategy.Name, key); ok {
			h.logger.Warn().Err(err).Str("url", key.URL).Msg("API served from cache while offline.")
			h.metrics.request(ClassAPI, OutcomeStale)
			return cached, nil
		}
	}
	h.logger.Error().Err(err).Str("url", key.URL).Msg("API request failed with no cached fallback.")
	h.metrics.request(ClassAPI, OutcomeError)
	return nil, err
}

// Static is strictly cache-first: a hit never touches the network, and a
// failed fetch is always surfaced.
func (h *Handlers) Static(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	strategy := h.strategies[ClassStatic]
	key := req.Key()

	if key.Cacheable() {
		if cached, ok := h.lookup(ctx, strategy.Name, key); ok {
			h.logger.Debug().Str("url", key.URL).Msg("Static resource served from cache.")
			h.metrics.request(ClassStatic, OutcomeHit)
			return cached, nil
		}
	}

	resp, err := h.network.Fetch(ctx, forShared(req))
	if err != nil {
		h.logger.Error().Err(err).Str("url", key.URL).Msg("Static request failed.")
		h.metrics.request(ClassStatic, OutcomeError)
		return nil, err
	}
	if key.Cacheable() && resp.Storable() {
		h.storeAndEvict(ctx, strategy, key, resp)
	}
	h.metrics.request(ClassStatic, OutcomeMiss)
	return resp, nil
}

// clientHeaders tie a response to one client. They are not forwarded for
// requests whose responses may be shared.
var clientHeaders = []string{"Cookie", "Authorization", "Range", "Accept-Encoding"}

// forShared returns req without client-specific headers when its response
// may be cached. Dropping Accept-Encoding leaves compression to the
// transport, which then hands back decoded bodies.
func forShared(req *Request) *Request {
	if !req.Key().Cacheable() || req.Header == nil {
		return req
	}
	shared := *req
	shared.Header = req.Header.Clone()
	for _, name := range clientHeaders {
		shared.Header.Del(name)
	}
	return &shared
}

// lookup treats any store error as a miss.
func (h *Handlers) lookup(ctx context.Context, partition string, key cache.RequestKey) (*cache.CachedResponse, bool) {
	cached, err := h.store.Match(ctx, partition, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			h.logger.Warn().Err(err).Str("partition", partition).Str("url", key.URL).Msg("Cache read failed, treating as miss.")
		}
		return nil, false
	}
	return cached, true
}

// storeAndEvict writes a copy of resp and then trims the partition. Store
// failures are logged and skipped; the caller still returns resp.
func (h *Handlers) storeAndEvict(ctx context.Context, strategy Strategy, key cache.RequestKey, resp *cache.CachedResponse) {
	if err := h.store.Put(ctx, strategy.Name, key, resp.Clone()); err != nil {
		h.logger.Warn().Err(err).Str("partition", strategy.Name).Str("url", key.URL).Msg("Cache write skipped.")
		return
	}
	evicted, err := cache.EvictOverflow(ctx, h.store, strategy.Name, strategy.MaxEntries)
	if err != nil {
		h.logger.Warn().Err(err).Str("partition", strategy.Name).Msg("Eviction failed.")
		return
	}
	h.metrics.evicted(strategy.Name, evicted)
	if evicted > 0 {
		h.logger.Debug().Str("partition", strategy.Name).Int("evicted", evicted).Msg("Cleaned up cache entries.")
	}
}
