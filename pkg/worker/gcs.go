package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/rs/zerolog"
)

// ====================================================================================
// The interfaces below abstract the Google Cloud Storage client so that the
// bucket-backed fetcher can be tested without a real GCS client.
// ====================================================================================

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (GCSReader, error)
}

// GCSReader abstracts a *storage.Reader.
type GCSReader interface {
	io.ReadCloser
	ContentType() string
	CacheControl() string
}

// gcsClientAdapter wraps a *storage.Client to satisfy the GCSClient interface.
type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter creates an adapter that makes the concrete *storage.Client
// conform to the GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

// Bucket returns an adapter for the underlying bucket handle.
func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

// Object returns an adapter for the underlying object handle.
func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

// NewReader opens the object for reading.
func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (GCSReader, error) {
	r, err := a.handle.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return &gcsReaderAdapter{reader: r}, nil
}

type gcsReaderAdapter struct {
	reader *storage.Reader
}

func (a *gcsReaderAdapter) Read(p []byte) (int, error) { return a.reader.Read(p) }
func (a *gcsReaderAdapter) Close() error               { return a.reader.Close() }
func (a *gcsReaderAdapter) ContentType() string        { return a.reader.Attrs.ContentType }
func (a *gcsReaderAdapter) CacheControl() string       { return a.reader.Attrs.CacheControl }

// GCSFetcherConfig holds configuration for the bucket-backed fetcher.
type GCSFetcherConfig struct {
	// BaseURL is the public asset host, e.g. https://storage.googleapis.com.
	BaseURL    string
	BucketName string
	// MaxBodyBytes caps buffered objects. Zero means 32 MiB.
	MaxBodyBytes int64
}

// Prefix is the URL prefix served by the fetcher: <BaseURL>/<BucketName>/.
func (c GCSFetcherConfig) Prefix() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + c.BucketName + "/"
}

// GCSFetcher serves asset-host URLs by reading objects from the media bucket
// directly. The bucket holds originals only, so URLs asking for a
// transformed rendition are refused; route them with Untransformed.
type GCSFetcher struct {
	client  GCSClient
	config  GCSFetcherConfig
	maxBody int64
	logger  zerolog.Logger
}

// NewGCSFetcher creates a new fetcher for one bucket.
func NewGCSFetcher(
	gcsClient GCSClient,
	config GCSFetcherConfig,
	logger zerolog.Logger,
) (*GCSFetcher, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &GCSFetcher{
		client:  gcsClient,
		config:  config,
		maxBody: maxBody,
		logger:  logger.With().Str("component", "GCSFetcher").Str("bucket", config.BucketName).Logger(),
	}, nil
}

// Fetch reads the object addressed by req. A missing object is a 404
// response, not a network failure.
func (f *GCSFetcher) Fetch(ctx context.Context, req *Request) (*cache.CachedResponse, error) {
	objectName, err := f.objectName(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	r, err := f.client.Bucket(f.config.BucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			f.logger.Debug().Str("object_name", objectName).Msg("Object not found.")
			return &cache.CachedResponse{
				Status: http.StatusNotFound,
				Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
				Body:   []byte("not found"),
			}, nil
		}
		return nil, fmt.Errorf("%w: opening gs://%s/%s: %v", ErrNetwork, f.config.BucketName, objectName, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(io.LimitReader(r, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading gs://%s/%s: %v", ErrNetwork, f.config.BucketName, objectName, err)
	}
	if int64(len(data)) > f.maxBody {
		return nil, fmt.Errorf("%w: gs://%s/%s exceeds %d bytes", ErrNetwork, f.config.BucketName, objectName, f.maxBody)
	}

	header := http.Header{}
	if ct := r.ContentType(); ct != "" {
		header.Set("Content-Type", ct)
	}
	if cc := r.CacheControl(); cc != "" {
		header.Set("Cache-Control", cc)
	}

	f.logger.Debug().Str("object_name", objectName).Int("bytes", len(data)).Msg("Read object from GCS.")
	return &cache.CachedResponse{Status: http.StatusOK, Header: header, Body: data}, nil
}

func (f *GCSFetcher) objectName(u *url.URL) (string, error) {
	if u.RawQuery != "" {
		return "", fmt.Errorf("url %s asks for a transformed rendition", u)
	}
	withoutFragment := *u
	withoutFragment.Fragment = ""
	withoutFragment.RawFragment = ""
	raw := withoutFragment.String()

	prefix := f.config.Prefix()
	if !strings.HasPrefix(raw, prefix) {
		return "", fmt.Errorf("url %s is outside bucket prefix %s", u, prefix)
	}
	name, err := url.PathUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil {
		return "", fmt.Errorf("decoding object name from %s: %w", u, err)
	}
	if name == "" {
		return "", fmt.Errorf("url %s does not name an object", u)
	}
	return name, nil
}
