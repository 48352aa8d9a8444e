package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/illmade-knight/go-assetedge/pkg/connection"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrCatalog wraps every failure of the remote catalog.
var ErrCatalog = errors.New("media: catalog query failed")

const (
	// DefaultMemoTTL is how long a query result is served from memory.
	DefaultMemoTTL = 300 * time.Second
	// CriticalPreloadCount is how many leading images are preloaded.
	CriticalPreloadCount = 4
)

// criticalQualities are the renditions warmed for each critical image.
var criticalQualities = []int{QualityModerate, QualityFull}

// ServiceConfig holds configuration for the lookup service.
type ServiceConfig struct {
	MemoTTL time.Duration
	// Clock is injected for tests. Nil means time.Now.
	Clock cache.Clock
}

// Service answers media queries from a memo in front of the catalog and
// keeps every returned URL consistent with its storage path.
type Service struct {
	catalog   Catalog
	urls      *URLBuilder
	optimizer *Optimizer
	memo      *cache.ExpiringMemo[string, []Asset]
	group     singleflight.Group
	logger    zerolog.Logger

	mu sync.Mutex
	// generation increments on every ClearCache so that queries started
	// before a clear never repopulate the memo.
	generation   uint64
	preloadQueue map[string]struct{}
}

// NewService creates a lookup service.
func NewService(cfg ServiceConfig, catalog Catalog, urls *URLBuilder, logger zerolog.Logger) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("media catalog cannot be nil")
	}
	if urls == nil {
		return nil, errors.New("url builder cannot be nil")
	}
	ttl := cfg.MemoTTL
	if ttl <= 0 {
		ttl = DefaultMemoTTL
	}
	return &Service{
		catalog:      catalog,
		urls:         urls,
		optimizer:    NewOptimizer(urls),
		memo:         cache.NewExpiringMemo[string, []Asset](ttl, cfg.Clock),
		logger:       logger.With().Str("component", "MediaService").Logger(),
		preloadQueue: make(map[string]struct{}),
	}, nil
}

// GetMediaFiles returns the assets matching opts, oldest first. A result
// memoized less than the TTL ago is served without querying the catalog.
func (s *Service) GetMediaFiles(ctx context.Context, opts QueryOptions) ([]Asset, error) {
	key := opts.Key()
	if assets, ok := s.memo.Get(key); ok {
		s.logger.Debug().Str("query", key).Msg("Media query served from memo.")
		return cloneAssets(assets), nil
	}

	// The shared query outlives any one caller, so it must not inherit the
	// first caller's cancellation. A caller that gives up stops waiting.
	gen := s.currentGeneration()
	ch := s.group.DoChan(strconv.FormatUint(gen, 10)+"|"+key, func() (interface{}, error) {
		assets, err := s.catalog.Query(context.WithoutCancel(ctx), opts)
		if err != nil {
			return nil, err
		}
		for i := range assets {
			assets[i].URL = s.healURL(assets[i])
		}
		s.mu.Lock()
		if s.generation == gen {
			s.memo.Set(key, assets)
		}
		s.mu.Unlock()
		return assets, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	v, err := res.Val, res.Err
	if err != nil {
		s.logger.Error().Err(err).Str("query", key).Msg("Error fetching media files.")
		return nil, fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	return cloneAssets(v.([]Asset)), nil
}

// GetMediaFileByPath returns the asset stored at storagePath, or nil.
func (s *Service) GetMediaFileByPath(ctx context.Context, storagePath string) (*Asset, error) {
	asset, err := s.catalog.FindByStoragePath(ctx, storagePath)
	if err != nil {
		s.logger.Error().Err(err).Str("storage_path", storagePath).Msg("Error fetching media file.")
		return nil, fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	if asset == nil {
		return nil, nil
	}
	asset.URL = s.healURL(*asset)
	return asset, nil
}

// GetAvatarImages returns the images of one avatar.
func (s *Service) GetAvatarImages(ctx context.Context, avatarName string) ([]Asset, error) {
	return s.GetMediaFiles(ctx, QueryOptions{
		Category:   CategoryAvatar,
		AvatarName: avatarName,
		Type:       TypeImage,
	})
}

// GetHeroVideo returns the oldest hero video, or nil when there is none.
func (s *Service) GetHeroVideo(ctx context.Context) (*Asset, error) {
	assets, err := s.GetMediaFiles(ctx, QueryOptions{Category: CategoryHero, Type: TypeVideo})
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}
	return &assets[0], nil
}

// PublicURL derives the URL of storagePath with an optional transform.
func (s *Service) PublicURL(storagePath string, t *Transform) string {
	return s.urls.PublicURL(storagePath, t)
}

// ResolveURL returns the connection-adapted URL of asset.
func (s *Service) ResolveURL(asset Asset, caps connection.Capabilities, opts ResolveOptions) string {
	return s.optimizer.ResolveURL(asset, caps, opts)
}

// CriticalPreloadURLs returns the renditions worth warming for the leading
// images of assets. Images already queued by an earlier call are skipped.
func (s *Service) CriticalPreloadURLs(assets []Asset) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var urls []string
	taken := 0
	for _, a := range assets {
		if taken == CriticalPreloadCount {
			break
		}
		if a.Type != TypeImage {
			continue
		}
		taken++
		id := s.healURL(a)
		if _, queued := s.preloadQueue[id]; queued {
			continue
		}
		s.preloadQueue[id] = struct{}{}
		for _, q := range criticalQualities {
			urls = append(urls, s.urls.PublicURL(a.StoragePath, &Transform{Quality: q, Format: FormatWebP}))
		}
	}
	return urls
}

// ClearCache drops the query memo, the derived-URL memo and the preload
// queue. Call it whenever the catalog is known to have changed.
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.generation++
	s.memo.Clear()
	s.preloadQueue = make(map[string]struct{})
	s.mu.Unlock()
	s.urls.Clear()
	s.logger.Info().Msg("Media caches cleared.")
}

func (s *Service) currentGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// healURL returns the URL derived from the asset's storage path, logging
// when the catalog's stored URL disagrees.
func (s *Service) healURL(a Asset) string {
	derived := s.urls.PublicURL(a.StoragePath, nil)
	if a.URL != derived {
		s.logger.Warn().
			Str("stored", a.URL).
			Str("derived", derived).
			Str("storage_path", a.StoragePath).
			Msg("URL mismatch detected.")
	}
	return derived
}

func cloneAssets(assets []Asset) []Asset {
	if assets == nil {
		return nil
	}
	return append([]Asset(nil), assets...)
}
