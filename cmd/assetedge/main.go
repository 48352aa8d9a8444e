package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/cenkalti/backoff/v4"
	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/illmade-knight/go-assetedge/pkg/config"
	"github.com/illmade-knight/go-assetedge/pkg/media"
	"github.com/illmade-knight/go-assetedge/pkg/microservice"
	"github.com/illmade-knight/go-assetedge/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.ServiceConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.LogPretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Str("service", "assetedge").Logger()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := newLogger(cfg.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clientOpts []option.ClientOption
	if cfg.Service.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Service.CredentialsFile))
	}

	store, err := newStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	origin := cfg.Origin()
	network := worker.Fetcher(worker.NewHTTPFetcher(worker.HTTPFetcherConfig{
		Origin:   origin,
		Upstream: cfg.Upstream(),
		Timeout:  cfg.Worker.FetchTimeout,
	}, nil))

	var (
		svc      *media.Service
		closeFns []func() error
	)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := worker.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	routes := map[string]http.Handler{
		"/metrics": promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	defer func() {
		for i := len(closeFns) - 1; i >= 0; i-- {
			_ = closeFns[i]()
		}
	}()

	if cfg.Media.Enabled {
		urls, err := media.NewURLBuilder(cfg.Media.AssetBaseURL, cfg.Media.Bucket, media.DefaultURLMemoSize)
		if err != nil {
			return err
		}

		fsClient, err := firestore.NewClient(ctx, cfg.Service.ProjectID, clientOpts...)
		if err != nil {
			return fmt.Errorf("creating firestore client: %w", err)
		}
		closeFns = append(closeFns, fsClient.Close)

		catalog, err := media.NewFirestoreCatalog(&media.FirestoreConfig{
			ProjectID:      cfg.Service.ProjectID,
			CollectionName: cfg.Media.Collection,
		}, fsClient, logger)
		if err != nil {
			return err
		}
		svc, err = media.NewService(media.ServiceConfig{MemoTTL: cfg.Media.MemoTTL}, catalog, urls, logger)
		if err != nil {
			return err
		}
		routes[media.FilesPath] = media.NewFilesHandler(svc, logger)

		if cfg.Media.ServeFromBucket {
			gcsClient, err := storage.NewClient(ctx, clientOpts...)
			if err != nil {
				return fmt.Errorf("creating storage client: %w", err)
			}
			closeFns = append(closeFns, gcsClient.Close)

			gcsCfg := worker.GCSFetcherConfig{BaseURL: cfg.Media.AssetBaseURL, BucketName: cfg.Media.Bucket}
			bucketFetcher, err := worker.NewGCSFetcher(worker.NewGCSClientAdapter(gcsClient), gcsCfg, logger)
			if err != nil {
				return err
			}
			network = worker.NewRoutingFetcher(network, worker.Route{
				Prefix:  gcsCfg.Prefix(),
				Match:   worker.Untransformed,
				Fetcher: bucketFetcher,
			})
		}

		if cfg.Media.ChangesSubscription != "" {
			psClient, err := pubsub.NewClient(ctx, cfg.Service.ProjectID, clientOpts...)
			if err != nil {
				return fmt.Errorf("creating pubsub client: %w", err)
			}
			closeFns = append(closeFns, psClient.Close)

			listener, err := media.NewChangeListener(media.LoadDefaultChangeListenerConfig(cfg.Media.ChangesSubscription), psClient, svc, logger)
			if err != nil {
				return err
			}
			if err := listener.Start(ctx); err != nil {
				return err
			}
			closeFns = append(closeFns, listener.Stop)
		}
	}

	w, err := worker.New(worker.Config{
		Origin:         origin,
		BackendHosts:   cfg.Worker.BackendHosts,
		Strategies:     worker.DefaultStrategies(cfg.Worker.CachePrefix, cfg.Worker.CacheVersion),
		ShellCache:     worker.ShellCacheName(cfg.Worker.CachePrefix, cfg.Worker.Release),
		Seeds:          cfg.Worker.ShellResources,
		PreloadTimeout: cfg.Preload.Timeout,
		Metrics:        metrics,
	}, store, network, logger)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	proxy := worker.NewProxy(w, logger)
	server := microservice.NewEdgeServer(logger, cfg.Service.HTTPPort, proxy, proxy.MessageHandler(), func() bool {
		return w.Lifecycle().State() == worker.StateActive
	})
	for path, h := range routes {
		server.Mux().Handle(path, h)
	}
	if err := server.Start(); err != nil {
		return err
	}

	// Until activation the proxy passes every request through.
	go func() {
		retry := backoff.NewExponentialBackOff()
		retry.MaxInterval = 30 * time.Second
		retry.MaxElapsedTime = 0
		if err := w.StartWithRetry(ctx, retry); err != nil {
			logger.Error().Err(err).Msg("Worker did not activate; serving without cache.")
			return
		}
		if cfg.Preload.WarmOnStart && svc != nil {
			warmCriticalImages(ctx, svc, w, logger)
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		store, err := cache.NewRedisStore(ctx, &cache.RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis store: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		return cache.NewInMemoryStore(), nil
	default:
		return nil, errors.New("unknown cache backend " + cfg.Backend)
	}
}

// warmCriticalImages posts the leading gallery images to the worker.
func warmCriticalImages(ctx context.Context, svc *media.Service, w *worker.Worker, logger zerolog.Logger) {
	assets, err := svc.GetMediaFiles(ctx, media.QueryOptions{Category: media.CategoryGallery, Type: media.TypeImage})
	if err != nil {
		logger.Warn().Err(err).Msg("Could not list gallery images to warm.")
		return
	}
	urls := svc.CriticalPreloadURLs(assets)
	if len(urls) == 0 {
		return
	}
	if err := w.PostMessage(worker.Message{Type: worker.MessagePreloadImages, URLs: urls, Priority: true}); err != nil {
		logger.Warn().Err(err).Msg("Could not post preload message.")
	}
}
