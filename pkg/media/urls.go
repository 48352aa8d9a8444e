package media

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
)

// DefaultURLMemoSize bounds the derived-URL memo.
const DefaultURLMemoSize = 1024

// Format is an output image format understood by the asset host.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
)

// Transform asks the asset host for a resized or re-encoded rendition.
// Zero fields are omitted from the URL.
type Transform struct {
	Width   int
	Height  int
	Quality int
	Format  Format
}

func (t Transform) values() url.Values {
	v := url.Values{}
	if t.Width > 0 {
		v.Set("width", strconv.Itoa(t.Width))
	}
	if t.Height > 0 {
		v.Set("height", strconv.Itoa(t.Height))
	}
	if t.Quality > 0 {
		v.Set("quality", strconv.Itoa(t.Quality))
	}
	if t.Format != "" {
		v.Set("format", string(t.Format))
	}
	return v
}

// URLBuilder derives public asset URLs from storage paths:
// <base>/<bucket>/<storage path>[?format=&height=&quality=&width=].
type URLBuilder struct {
	base   string
	bucket string
	memo   *cache.LRU[string, string]
}

// NewURLBuilder creates a builder for one bucket on the asset host.
func NewURLBuilder(baseURL, bucket string, memoSize int) (*URLBuilder, error) {
	if _, err := url.Parse(baseURL); err != nil || baseURL == "" {
		return nil, fmt.Errorf("invalid asset base url %q", baseURL)
	}
	if bucket == "" {
		return nil, errors.New("asset bucket is required")
	}
	if memoSize <= 0 {
		memoSize = DefaultURLMemoSize
	}
	memo, err := cache.NewLRU[string, string](memoSize)
	if err != nil {
		return nil, err
	}
	return &URLBuilder{
		base:   strings.TrimRight(baseURL, "/"),
		bucket: bucket,
		memo:   memo,
	}, nil
}

// Prefix is the URL prefix shared by every asset of the bucket.
func (b *URLBuilder) Prefix() string {
	return b.base + "/" + b.bucket + "/"
}

// PublicURL returns the URL for storagePath with an optional transform.
// Identical inputs always yield identical URLs.
func (b *URLBuilder) PublicURL(storagePath string, t *Transform) string {
	key := storagePath
	if t != nil {
		key = fmt.Sprintf("%s|%d|%d|%d|%s", storagePath, t.Width, t.Height, t.Quality, t.Format)
	}
	return b.memo.GetOrCompute(key, func() string {
		return b.build(storagePath, t)
	})
}

func (b *URLBuilder) build(storagePath string, t *Transform) string {
	segments := strings.Split(strings.TrimLeft(storagePath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	raw := b.Prefix() + strings.Join(segments, "/")
	if t == nil {
		return raw
	}
	if q := t.values().Encode(); q != "" {
		raw += "?" + q
	}
	return raw
}

// Clear drops every memoized URL.
func (b *URLBuilder) Clear() {
	b.memo.Clear()
}
