package worker

import (
	"net/http"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
)

const placeholderSVG = `<svg width="400" height="300" xmlns="http://www.w3.org/2000/svg">
  <rect width="100%" height="100%" fill="#f3f4f6"/>
  <text x="50%" y="50%" text-anchor="middle" dy="0.3em" fill="#6b7280" font-family="sans-serif">Image unavailable</text>
</svg>`

// Placeholder returns the stand-in served when an image cannot be fetched.
// It is deliberately a 200 so the page renders a degraded image rather than
// a broken one.
func Placeholder() *cache.CachedResponse {
	return &cache.CachedResponse{
		Status: http.StatusOK,
		Header: http.Header{
			"Content-Type":  []string{"image/svg+xml"},
			"Cache-Control": []string{"no-store"},
		},
		Body: []byte(placeholderSVG),
	}
}
