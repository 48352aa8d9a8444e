package media_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-assetedge/pkg/media"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesHandler(t *testing.T) {
	catalog := &mockCatalog{QueryFunc: func(ctx context.Context, opts media.QueryOptions) ([]media.Asset, error) {
		if opts.Category == media.CategoryOther {
			return nil, errors.New("down")
		}
		return []media.Asset{asset("g1", media.TypeImage, opts.Category, "gallery/1.jpg")}, nil
	}}
	handler := media.NewFilesHandler(newService(t, catalog, nil), zerolog.Nop())

	t.Run("Slow client gets a constrained rendition", func(t *testing.T) {
		// Arrange
		req := httptest.NewRequest(http.MethodGet, "/_media/files?category=gallery&type=image&width=1600", nil)
		req.Header.Set("ECT", "2g")
		req.Header.Set("Accept", "image/webp")
		rec := httptest.NewRecorder()

		// Act
		handler.ServeHTTP(rec, req)

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var got []media.ResolvedAsset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, "g1", got[0].ID)
		assert.Equal(t, testBase+"/media/gallery/1.jpg", got[0].URL)
		assert.Equal(t, testBase+"/media/gallery/1.jpg?format=webp&quality=50&width=800", got[0].OptimizedURL)
		assert.Contains(t, rec.Header().Get("Accept-CH"), "ECT")
	})

	t.Run("Client without hints or webp gets full quality jpeg", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_media/files?category=hero", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var got []media.ResolvedAsset
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got, 1)
		assert.Equal(t, testBase+"/media/gallery/1.jpg?format=jpg&quality=85", got[0].OptimizedURL)
	})

	t.Run("Catalog failure is a bad gateway", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_media/files?category=other", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("Invalid width", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/_media/files?width=wide", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Only GET", func(t *testing.T) {
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_media/files", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}
