// Package preload warms caches for a prioritized set of asset URLs while
// keeping aggregate progress counters. Individual failures are absorbed.
package preload

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-assetedge/pkg/connection"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each individual fetch.
const DefaultTimeout = 10 * time.Second

// CriticalTimeout is used for above-the-fold assets.
const CriticalTimeout = 8 * time.Second

// Loader fetches one asset. It should honour ctx cancellation.
type Loader interface {
	Load(ctx context.Context, url string) error
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, url string) error

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Options control a single Preload call.
type Options struct {
	// Priority forces all fetches to run concurrently.
	Priority bool
	// Timeout applies to each fetch independently. Zero means DefaultTimeout.
	Timeout time.Duration
	// Network decides between concurrent and sequential fetching when
	// Priority is false. Nil is treated as an adequate connection.
	Network connection.Capabilities
	// OnProgress is called after every completion with a snapshot whose
	// Percent never decreases.
	OnProgress func(Progress)
}

// Progress is an aggregate view of a preload batch.
type Progress struct {
	Loaded int
	Failed int
	Total  int
}

// Processed counts assets that finished, successfully or not.
func (p Progress) Processed() int { return p.Loaded + p.Failed }

// Percent is the share of the batch that has finished, successful or not.
// It reaches 100 once every asset resolved, and is zero for an empty batch.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Processed()) / float64(p.Total) * 100
}

// LoadedPercent is Loaded/Total×100, or zero for an empty batch.
func (p Progress) LoadedPercent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Loaded) / float64(p.Total) * 100
}

// AllLoaded reports whether every asset loaded successfully.
func (p Progress) AllLoaded() bool { return p.Loaded == p.Total }

// HasErrors reports whether any asset failed or timed out.
func (p Progress) HasErrors() bool { return p.Failed > 0 }

// Done reports whether every asset has been processed.
func (p Progress) Done() bool { return p.Processed() == p.Total }

// Preloader runs preload batches against a Loader.
type Preloader struct {
	loader Loader
	logger zerolog.Logger
}

// New creates a Preloader.
func New(loader Loader, logger zerolog.Logger) (*Preloader, error) {
	if loader == nil {
		return nil, fmt.Errorf("preload loader cannot be nil")
	}
	return &Preloader{
		loader: loader,
		logger: logger.With().Str("component", "Preloader").Logger(),
	}, nil
}

// tracker serializes progress updates so observers see them in order.
type tracker struct {
	mu       sync.Mutex
	progress Progress
	notify   func(Progress)
}

func (t *tracker) record(loaded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if loaded {
		t.progress.Loaded++
	} else {
		t.progress.Failed++
	}
	if t.notify != nil {
		t.notify(t.progress)
	}
}

func (t *tracker) snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Preload fetches every URL and returns the final progress. It never fails:
// per-asset errors and timeouts are only reflected in the counters.
func (p *Preloader) Preload(ctx context.Context, urls []string, opts Options) Progress {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &tracker{progress: Progress{Total: len(urls)}, notify: opts.OnProgress}
	if len(urls) == 0 {
		return t.snapshot()
	}

	concurrent := opts.Priority || connection.Adequate(opts.Network)
	logger := p.logger.With().
		Str("batch_id", uuid.NewString()).
		Int("total", len(urls)).
		Bool("concurrent", concurrent).
		Logger()
	logger.Debug().Msg("Starting preload batch.")

	if concurrent {
		var g errgroup.Group
		for _, u := range urls {
			u := u
			g.Go(func() error {
				t.record(p.loadOne(ctx, logger, u, timeout))
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for _, u := range urls {
			t.record(p.loadOne(ctx, logger, u, timeout))
		}
	}

	final := t.snapshot()
	logger.Info().
		Int("loaded", final.Loaded).
		Int("failed", final.Failed).
		Msg("Preload batch complete.")
	return final
}

// loadOne runs a single fetch under its own timeout. A loader that ignores
// its context is abandoned once the timeout fires.
func (p *Preloader) loadOne(ctx context.Context, logger zerolog.Logger, url string, timeout time.Duration) bool {
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- p.loader.Load(loadCtx, url)
	}()

	select {
	case err := <-result:
		if err != nil {
			logger.Warn().Err(err).Str("url", url).Msg("Failed to preload asset.")
			return false
		}
		logger.Debug().Str("url", url).Msg("Preloaded asset.")
		return true
	case <-loadCtx.Done():
		logger.Warn().Err(loadCtx.Err()).Str("url", url).Msg("Preload timed out.")
		return false
	}
}
