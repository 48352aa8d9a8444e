// Package config loads the edge configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/go-assetedge/pkg/worker"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ServiceConfig holds common service fields.
type ServiceConfig struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty       bool   `env:"LOG_PRETTY" envDefault:"false"`
	HTTPPort        string `env:"HTTP_PORT" envDefault:":8080"`
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
}

// WorkerConfig configures interception and the strategy table.
type WorkerConfig struct {
	// OriginURL is the public origin of the site, e.g. https://www.example.com.
	OriginURL string `env:"ORIGIN_URL,required"`
	// UpstreamURL is where origin requests are really sent. Empty means the
	// origin itself.
	UpstreamURL    string        `env:"UPSTREAM_URL"`
	BackendHosts   []string      `env:"BACKEND_HOSTS" envSeparator:","`
	CachePrefix    string        `env:"CACHE_PREFIX" envDefault:"assetedge"`
	CacheVersion   string        `env:"CACHE_VERSION" envDefault:"v1"`
	Release        string        `env:"RELEASE" envDefault:"v1.0.0"`
	ShellResources []string      `env:"SHELL_RESOURCES" envSeparator:","`
	FetchTimeout   time.Duration `env:"FETCH_TIMEOUT" envDefault:"15s"`
}

// StoreConfig selects and configures the partition store.
type StoreConfig struct {
	Backend       string `env:"CACHE_BACKEND" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_KEY_PREFIX" envDefault:"assetedge"`
}

// MediaConfig configures the media catalog and asset host.
type MediaConfig struct {
	Enabled             bool          `env:"MEDIA_ENABLED" envDefault:"false"`
	Collection          string        `env:"MEDIA_COLLECTION" envDefault:"media_files"`
	Bucket              string        `env:"MEDIA_BUCKET" envDefault:"media"`
	AssetBaseURL        string        `env:"ASSET_BASE_URL" envDefault:"https://storage.googleapis.com"`
	MemoTTL             time.Duration `env:"MEDIA_MEMO_TTL" envDefault:"300s"`
	ChangesSubscription string        `env:"MEDIA_CHANGES_SUBSCRIPTION"`
	// ServeFromBucket reads asset-host URLs straight from the bucket.
	ServeFromBucket bool `env:"MEDIA_SERVE_FROM_BUCKET" envDefault:"false"`
}

// PreloadConfig configures cache warming.
type PreloadConfig struct {
	Timeout time.Duration `env:"PRELOAD_TIMEOUT" envDefault:"8s"`
	// WarmOnStart preloads the critical gallery images once active.
	WarmOnStart bool `env:"PRELOAD_WARM_ON_START" envDefault:"false"`
}

// Config is the full edge configuration.
type Config struct {
	Service ServiceConfig
	Worker  WorkerConfig
	Store   StoreConfig
	Media   MediaConfig
	Preload PreloadConfig
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that the environment parser cannot.
func (c *Config) Validate() error {
	var errs []error

	origin, err := url.Parse(c.Worker.OriginURL)
	originOK := err == nil && origin.Scheme != "" && origin.Host != ""
	if !originOK {
		errs = append(errs, fmt.Errorf("ORIGIN_URL must be an absolute url, got %q", c.Worker.OriginURL))
	}
	if c.Worker.UpstreamURL != "" {
		upstream, err := url.Parse(c.Worker.UpstreamURL)
		if err != nil || upstream.Scheme == "" || upstream.Host == "" {
			errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an absolute url, got %q", c.Worker.UpstreamURL))
		}
	}
	if strings.TrimSpace(c.Worker.CacheVersion) == "" {
		errs = append(errs, errors.New("CACHE_VERSION cannot be empty"))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.Store.Backend))
	}

	if c.Media.Enabled && c.Service.ProjectID == "" {
		errs = append(errs, errors.New("PROJECT_ID is required when MEDIA_ENABLED is set"))
	}
	if c.Media.ChangesSubscription != "" && !c.Media.Enabled {
		errs = append(errs, errors.New("MEDIA_CHANGES_SUBSCRIPTION requires MEDIA_ENABLED"))
	}
	if c.Preload.WarmOnStart && !c.Media.Enabled {
		errs = append(errs, errors.New("PRELOAD_WARM_ON_START requires MEDIA_ENABLED"))
	}
	if c.Preload.WarmOnStart || c.Media.ServeFromBucket {
		// Preloaded and bucket-served assets are only useful when their
		// URLs are intercepted.
		asset, err := url.Parse(c.Media.AssetBaseURL)
		switch {
		case err != nil || asset.Scheme == "" || asset.Host == "":
			errs = append(errs, fmt.Errorf("ASSET_BASE_URL must be an absolute url, got %q", c.Media.AssetBaseURL))
		case originOK && !worker.NewClassifier(origin, c.Worker.BackendHosts).InScope(asset):
			errs = append(errs, fmt.Errorf("ASSET_BASE_URL host %q must be the origin or one of BACKEND_HOSTS when PRELOAD_WARM_ON_START or MEDIA_SERVE_FROM_BUCKET is set", asset.Host))
		}
	}
	if c.Media.MemoTTL <= 0 {
		errs = append(errs, errors.New("MEDIA_MEMO_TTL must be positive"))
	}
	if c.Preload.Timeout <= 0 {
		errs = append(errs, errors.New("PRELOAD_TIMEOUT must be positive"))
	}

	return errors.Join(errs...)
}

// Origin returns the parsed origin. Call only after Validate.
func (c *Config) Origin() *url.URL {
	u, _ := url.Parse(c.Worker.OriginURL)
	return u
}

// Upstream returns the parsed upstream, or nil when unset.
func (c *Config) Upstream() *url.URL {
	if c.Worker.UpstreamURL == "" {
		return nil
	}
	u, _ := url.Parse(c.Worker.UpstreamURL)
	return u
}
