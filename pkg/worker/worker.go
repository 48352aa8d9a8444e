package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/illmade-knight/go-assetedge/pkg/connection"
	"github.com/illmade-knight/go-assetedge/pkg/preload"
	"github.com/rs/zerolog"
)

// MessagePreloadImages asks the worker to warm the image partition.
const MessagePreloadImages = "PRELOAD_IMAGES"

// ErrUnknownMessage is returned by PostMessage for unsupported types.
var ErrUnknownMessage = errors.New("worker: unknown message type")

// Message is a command posted to the worker by a page.
type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
	// Priority fetches every URL at once regardless of the connection.
	Priority bool `json:"priority,omitempty"`
	// Network describes the sender's connection. Without priority a poor
	// connection is preloaded one URL at a time.
	Network connection.Capabilities `json:"-"`
}

// Config holds the worker configuration.
type Config struct {
	Origin       *url.URL
	BackendHosts []string
	Strategies   Strategies
	ShellCache   string
	Seeds        []string
	Metrics      *Metrics

	// PreloadTimeout bounds each preload fetch. Zero means preload.DefaultTimeout.
	PreloadTimeout time.Duration
}

// Worker intercepts requests once active and routes them to the handler for
// their class.
type Worker struct {
	cfg        Config
	classifier *Classifier
	handlers   *Handlers
	lifecycle  *Lifecycle
	preloader  *preload.Preloader
	store      cache.Store
	network    Fetcher
	logger     zerolog.Logger

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Worker in the lifecycle's new state.
func New(cfg Config, store cache.Store, network Fetcher, logger zerolog.Logger) (*Worker, error) {
	if cfg.Origin == nil {
		return nil, errors.New("worker origin is required")
	}
	handlers, err := NewHandlers(store, network, cfg.Strategies, logger)
	if err != nil {
		return nil, err
	}
	handlers.UseMetrics(cfg.Metrics)
	seeds := cfg.Seeds
	if seeds == nil {
		seeds = DefaultSeedResources
	}
	lifecycle, err := NewLifecycle(LifecycleConfig{
		Origin:     cfg.Origin,
		Strategies: cfg.Strategies,
		ShellCache: cfg.ShellCache,
		Seeds:      seeds,
	}, store, network, logger)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:        cfg,
		classifier: NewClassifier(cfg.Origin, cfg.BackendHosts),
		handlers:   handlers,
		lifecycle:  lifecycle,
		store:      store,
		network:    network,
		logger:     logger.With().Str("component", "Worker").Logger(),
	}
	w.preloader, err = preload.New(preload.LoaderFunc(w.preloadImage), logger)
	if err != nil {
		return nil, err
	}
	w.bgCtx, w.bgCancel = context.WithCancel(context.Background())
	return w, nil
}

// Lifecycle exposes the install/activate controller.
func (w *Worker) Lifecycle() *Lifecycle {
	return w.lifecycle
}

// Classifier exposes the request classifier.
func (w *Worker) Classifier() *Classifier {
	return w.classifier
}

// Start installs and activates the worker. A worker left installed by an
// earlier failed activation is only activated.
func (w *Worker) Start(ctx context.Context) error {
	if w.lifecycle.State() != StateInstalled {
		if err := w.lifecycle.Install(ctx); err != nil {
			return fmt.Errorf("install: %w", err)
		}
	}
	if _, err := w.lifecycle.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	return nil
}

// StartWithRetry calls Start until it succeeds, b gives up or ctx is done.
// A worker that is already past installation is not retried.
func (w *Worker) StartWithRetry(ctx context.Context, b backoff.BackOff) error {
	attempt := 0
	op := func() error {
		attempt++
		err := w.Start(ctx)
		if errors.Is(err, ErrInvalidState) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("Worker start failed, retrying.")
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// Handle routes req to its strategy handler. handled is false when the
// worker is not active or the request is not classified; the caller should
// then fetch it natively.
func (w *Worker) Handle(ctx context.Context, req *Request) (resp *cache.CachedResponse, handled bool, err error) {
	if w.lifecycle.State() != StateActive {
		return nil, false, nil
	}
	switch w.classifier.Classify(req) {
	case ClassImage:
		resp, err = w.handlers.Image(ctx, req)
	case ClassAPI:
		resp, err = w.handlers.API(ctx, req)
	case ClassStatic:
		resp, err = w.handlers.Static(ctx, req)
	default:
		return nil, false, nil
	}
	return resp, true, err
}

// Respond handles req, falling back to a plain network fetch when the
// worker does not intercept it.
func (w *Worker) Respond(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	resp, handled, err := w.Handle(ctx, req)
	if handled {
		return resp, err
	}
	return w.network.Fetch(ctx, req)
}

// PostMessage delivers a message. Preload requests run in the background and
// nothing is sent back.
func (w *Worker) PostMessage(msg Message) error {
	switch msg.Type {
	case MessagePreloadImages:
		msg.URLs = append([]string(nil), msg.URLs...)
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.preload(w.bgCtx, msg)
		}()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
	}
}

// PreloadImages fetches every URL concurrently into the image partition and
// returns the aggregate progress.
func (w *Worker) PreloadImages(ctx context.Context, urls []string) preload.Progress {
	return w.preload(ctx, Message{Type: MessagePreloadImages, URLs: urls, Priority: true})
}

func (w *Worker) preload(ctx context.Context, msg Message) preload.Progress {
	w.logger.Info().Int("count", len(msg.URLs)).Bool("priority", msg.Priority).Msg("Preloading images.")
	progress := w.preloader.Preload(ctx, msg.URLs, preload.Options{
		Priority: msg.Priority,
		Timeout:  w.cfg.PreloadTimeout,
		Network:  msg.Network,
	})
	w.cfg.Metrics.preloaded(progress.Loaded, progress.Failed)
	return progress
}

func (w *Worker) preloadImage(ctx context.Context, rawURL string) error {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid preload url %q: %w", rawURL, err)
	}
	req := NewRequest(w.cfg.Origin.ResolveReference(ref))
	req.Destination = "image"

	resp, err := w.network.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("preload of %s returned status %d", req.URL, resp.Status)
	}
	if !resp.Storable() {
		return fmt.Errorf("preload of %s is not storable", req.URL)
	}
	strategy := w.cfg.Strategies[ClassImage]
	if err := w.store.Put(ctx, strategy.Name, req.Key(), resp); err != nil {
		return fmt.Errorf("storing preloaded image %s: %w", req.URL, err)
	}
	evicted, err := cache.EvictOverflow(ctx, w.store, strategy.Name, strategy.MaxEntries)
	if err != nil {
		w.logger.Warn().Err(err).Str("partition", strategy.Name).Msg("Eviction after preload failed.")
		return nil
	}
	w.cfg.Metrics.evicted(strategy.Name, evicted)
	return nil
}

// Close cancels background preloads and waits for them to finish.
func (w *Worker) Close() error {
	w.bgCancel()
	w.wg.Wait()
	return nil
}
