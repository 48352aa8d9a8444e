package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSeedFailed is returned when installation cannot fetch a seed resource.
var ErrSeedFailed = errors.New("worker: seeding failed")

// ErrInvalidState is returned when a lifecycle step runs out of order.
var ErrInvalidState = errors.New("worker: invalid lifecycle state")

// DefaultSeedResources is the application shell cached at install time.
var DefaultSeedResources = []string{"/", "/index.html", "/manifest.json", "/favicon.ico"}

// State is a lifecycle state.
type State int

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LifecycleConfig holds what install and activate need to know.
type LifecycleConfig struct {
	Origin     *url.URL
	Strategies Strategies
	ShellCache string
	Seeds      []string
}

// Lifecycle seeds the static partition on install and purges partitions of
// previous versions on activate.
type Lifecycle struct {
	cfg     LifecycleConfig
	store   cache.Store
	network Fetcher
	logger  zerolog.Logger

	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a controller in StateNew.
func NewLifecycle(cfg LifecycleConfig, store cache.Store, network Fetcher, logger zerolog.Logger) (*Lifecycle, error) {
	if cfg.Origin == nil {
		return nil, errors.New("lifecycle origin is required")
	}
	if _, ok := cfg.Strategies[ClassStatic]; !ok {
		return nil, errors.New("lifecycle requires a static strategy")
	}
	return &Lifecycle{
		cfg:     cfg,
		store:   store,
		network: network,
		logger:  logger.With().Str("component", "Lifecycle").Logger(),
	}, nil
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *Lifecycle) transition(from []State, to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range from {
		if l.state == s {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, l.state, to)
}

func (l *Lifecycle) set(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// Install fetches every seed resource and, only if all succeed, stores them
// in the static partition. Installation never deletes anything.
func (l *Lifecycle) Install(ctx context.Context) error {
	if err := l.transition([]State{StateNew, StateRedundant}, StateInstalling); err != nil {
		return err
	}
	logger := l.logger.With().Str("install_id", uuid.NewString()).Logger()
	logger.Info().Int("seeds", len(l.cfg.Seeds)).Msg("Installing...")

	requests := make([]*Request, len(l.cfg.Seeds))
	for i, seed := range l.cfg.Seeds {
		ref, err := url.Parse(seed)
		if err != nil {
			l.set(StateRedundant)
			return fmt.Errorf("%w: invalid seed %q: %v", ErrSeedFailed, seed, err)
		}
		requests[i] = NewRequest(l.cfg.Origin.ResolveReference(ref))
	}

	responses := make([]*cache.CachedResponse, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			resp, err := l.network.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrSeedFailed, req.URL, err)
			}
			if !resp.OK() {
				return fmt.Errorf("%w: %s returned status %d", ErrSeedFailed, req.URL, resp.Status)
			}
			if !resp.Storable() {
				return fmt.Errorf("%w: %s is not storable", ErrSeedFailed, req.URL)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		l.set(StateRedundant)
		logger.Error().Err(err).Msg("Installation aborted.")
		return err
	}

	static := l.cfg.Strategies[ClassStatic]
	written := make([]cache.RequestKey, 0, len(requests))
	for i, req := range requests {
		if err := l.store.Put(ctx, static.Name, req.Key(), responses[i]); err != nil {
			// Seeding is all or nothing: drop what this attempt already wrote.
			if _, delErr := l.store.DeleteKeys(context.WithoutCancel(ctx), static.Name, written...); delErr != nil {
				logger.Error().Err(delErr).Int("keys", len(written)).Msg("Failed to roll back partial seeds.")
			}
			l.set(StateRedundant)
			return fmt.Errorf("storing seed %s: %w", req.URL, err)
		}
		written = append(written, req.Key())
	}
	if _, err := cache.EvictOverflow(ctx, l.store, static.Name, static.MaxEntries); err != nil {
		logger.Warn().Err(err).Msg("Eviction after seeding failed.")
	}

	l.set(StateInstalled)
	logger.Info().Msg("Installation complete.")
	return nil
}

// Activate deletes every partition that is neither the shell cache nor a
// live strategy partition, and returns the deleted names.
func (l *Lifecycle) Activate(ctx context.Context) ([]string, error) {
	if err := l.transition([]State{StateInstalled}, StateActivating); err != nil {
		return nil, err
	}
	l.logger.Info().Msg("Activating...")

	names, err := l.store.Partitions(ctx)
	if err != nil {
		l.set(StateInstalled)
		return nil, fmt.Errorf("listing partitions: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if name == l.cfg.ShellCache || l.cfg.Strategies.Has(name) {
			continue
		}
		l.logger.Info().Str("partition", name).Msg("Deleting old cache.")
		if _, err := l.store.DeletePartition(ctx, name); err != nil {
			l.set(StateInstalled)
			return deleted, fmt.Errorf("deleting partition '%s': %w", name, err)
		}
		deleted = append(deleted, name)
	}

	l.set(StateActive)
	l.logger.Info().Int("deleted", len(deleted)).Msg("Activation complete.")
	return deleted, nil
}
