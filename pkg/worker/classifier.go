package worker

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
)

var (
	imagePathPattern  = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|webp|avif|svg)$`)
	staticPathPattern = regexp.MustCompile(`(?i)\.(js|css|woff|woff2|ttf|eot)$`)
)

// Request is an intercepted outgoing request.
type Request struct {
	Method string
	URL    *url.URL
	// Destination is the fetch destination hint: image, script, style,
	// document, font and so on. Empty when unknown.
	Destination string
	Header      http.Header
	Body        []byte
}

// NewRequest creates a GET request for an absolute URL.
func NewRequest(u *url.URL) *Request {
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}

// Key returns the cache identity of the request.
func (r *Request) Key() cache.RequestKey {
	return cache.NewRequestKey(r.Method, r.URL)
}

// Classifier assigns each request to exactly one Class.
type Classifier struct {
	origin       *url.URL
	backendHosts []string
}

// NewClassifier creates a classifier for a site origin and the hosts of its
// backend services.
func NewClassifier(origin *url.URL, backendHosts []string) *Classifier {
	hosts := make([]string, 0, len(backendHosts))
	for _, h := range backendHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Classifier{origin: origin, backendHosts: hosts}
}

// InScope reports whether requests to u are intercepted at all: only the
// site's own origin and known backend hosts are.
func (c *Classifier) InScope(u *url.URL) bool {
	if c.sameOrigin(u) {
		return true
	}
	return c.isBackendHost(u)
}

// Classify is pure and total.
func (c *Classifier) Classify(r *Request) Class {
	if r == nil || r.URL == nil || !c.InScope(r.URL) {
		return ClassUnhandled
	}
	dest := strings.ToLower(r.Destination)
	path := r.URL.EscapedPath()

	switch {
	case dest == "image" || imagePathPattern.MatchString(path):
		return ClassImage
	case c.isBackendHost(r.URL) || strings.Contains(path, "/api/"):
		return ClassAPI
	case dest == "script" || dest == "style" || dest == "document" || staticPathPattern.MatchString(path):
		return ClassStatic
	default:
		return ClassUnhandled
	}
}

func (c *Classifier) sameOrigin(u *url.URL) bool {
	if c.origin == nil {
		return false
	}
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func (c *Classifier) isBackendHost(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	for _, h := range c.backendHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
