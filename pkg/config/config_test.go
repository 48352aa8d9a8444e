package config_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-assetedge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("ORIGIN_URL", "https://www.example.com")

		cfg, err := config.Load()

		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Service.LogLevel)
		assert.Equal(t, ":8080", cfg.Service.HTTPPort)
		assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
		assert.Equal(t, "v1", cfg.Worker.CacheVersion)
		assert.Nil(t, cfg.Worker.ShellResources)
		assert.Equal(t, 300*time.Second, cfg.Media.MemoTTL)
		assert.Equal(t, "media_files", cfg.Media.Collection)
		assert.Equal(t, 8*time.Second, cfg.Preload.Timeout)
		assert.Equal(t, "www.example.com", cfg.Origin().Host)
		assert.Nil(t, cfg.Upstream())
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("ORIGIN_URL", "https://www.example.com")
		t.Setenv("UPSTREAM_URL", "http://web:3000")
		t.Setenv("BACKEND_HOSTS", "db.example.com,cdn.example.com")
		t.Setenv("SHELL_RESOURCES", "/,/index.html")
		t.Setenv("CACHE_BACKEND", "redis")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("REDIS_DB", "2")
		t.Setenv("MEDIA_ENABLED", "true")
		t.Setenv("PROJECT_ID", "edge-project")
		t.Setenv("MEDIA_MEMO_TTL", "1m")

		cfg, err := config.Load()

		require.NoError(t, err)
		assert.Equal(t, []string{"db.example.com", "cdn.example.com"}, cfg.Worker.BackendHosts)
		assert.Equal(t, []string{"/", "/index.html"}, cfg.Worker.ShellResources)
		assert.Equal(t, "redis:6379", cfg.Store.RedisAddr)
		assert.Equal(t, 2, cfg.Store.RedisDB)
		assert.True(t, cfg.Media.Enabled)
		assert.Equal(t, time.Minute, cfg.Media.MemoTTL)
		assert.Equal(t, "web:3000", cfg.Upstream().Host)
	})

	t.Run("Origin is required", func(t *testing.T) {
		t.Setenv("ORIGIN_URL", "")

		_, err := config.Load()

		require.Error(t, err)
	})
}

// withMedia enables the catalog with the default public asset host.
func withMedia(c *config.Config) {
	c.Service.ProjectID = "edge-project"
	c.Media.Enabled = true
	c.Media.AssetBaseURL = "https://storage.googleapis.com"
}

func TestConfig_ValidateAssetHost(t *testing.T) {
	testCases := []struct {
		name         string
		assetBaseURL string
		backendHosts []string
	}{
		{"asset host is a backend host", "https://storage.googleapis.com", []string{"googleapis.com"}},
		{"asset host is the origin", "https://www.example.com/assets", nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := &config.Config{
				Worker:  config.WorkerConfig{OriginURL: "https://www.example.com", CacheVersion: "v1", BackendHosts: tc.backendHosts},
				Store:   config.StoreConfig{Backend: config.BackendMemory},
				Media:   config.MediaConfig{MemoTTL: time.Minute},
				Preload: config.PreloadConfig{Timeout: time.Second, WarmOnStart: true},
			}
			withMedia(c)
			c.Media.AssetBaseURL = tc.assetBaseURL
			c.Media.ServeFromBucket = true

			assert.NoError(t, c.Validate())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Worker:  config.WorkerConfig{OriginURL: "https://www.example.com", CacheVersion: "v1"},
			Store:   config.StoreConfig{Backend: config.BackendMemory},
			Media:   config.MediaConfig{MemoTTL: time.Minute},
			Preload: config.PreloadConfig{Timeout: time.Second},
		}
	}
	require.NoError(t, valid().Validate())

	testCases := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr string
	}{
		{"relative origin", func(c *config.Config) { c.Worker.OriginURL = "/site" }, "ORIGIN_URL"},
		{"bad upstream", func(c *config.Config) { c.Worker.UpstreamURL = "web:3000" }, "UPSTREAM_URL"},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "disk" }, "CACHE_BACKEND"},
		{"redis without address", func(c *config.Config) { c.Store.Backend = config.BackendRedis }, "REDIS_ADDR"},
		{"media without project", func(c *config.Config) { c.Media.Enabled = true }, "PROJECT_ID"},
		{"subscription without media", func(c *config.Config) { c.Media.ChangesSubscription = "changes" }, "MEDIA_CHANGES_SUBSCRIPTION"},
		{"warm without media", func(c *config.Config) { c.Preload.WarmOnStart = true }, "PRELOAD_WARM_ON_START"},
		{"zero preload timeout", func(c *config.Config) { c.Preload.Timeout = 0 }, "PRELOAD_TIMEOUT"},
		{"warming an unintercepted asset host", func(c *config.Config) {
			withMedia(c)
			c.Preload.WarmOnStart = true
		}, "ASSET_BASE_URL"},
		{"serving an unintercepted bucket", func(c *config.Config) {
			withMedia(c)
			c.Media.ServeFromBucket = true
		}, "ASSET_BASE_URL"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)

			err := c.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
