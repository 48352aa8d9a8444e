package media

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/illmade-knight/go-assetedge/pkg/connection"
	"github.com/rs/zerolog"
)

// FilesPath is where NewFilesHandler is usually mounted.
const FilesPath = "/_media/files"

// ResolvedAsset is an asset with the rendition URL chosen for the caller.
type ResolvedAsset struct {
	Asset
	OptimizedURL string `json:"optimized_url"`
}

// NewFilesHandler serves catalog queries as JSON. Query parameters:
// category, avatar_name, type, width and webp=false. Every asset carries an
// optimized_url adapted to the caller's Client Hints.
func NewFilesHandler(svc *Service, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "MediaFilesHandler").Logger()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		q := r.URL.Query()
		opts := QueryOptions{
			Category:   Category(q.Get("category")),
			AvatarName: q.Get("avatar_name"),
			Type:       Type(q.Get("type")),
		}
		resolve := ResolveOptions{DisableWebP: q.Get("webp") == "false"}
		if raw := q.Get("width"); raw != "" {
			width, err := strconv.Atoi(raw)
			if err != nil || width < 0 {
				http.Error(w, "width must be a non-negative integer", http.StatusBadRequest)
				return
			}
			resolve.TargetWidth = width
		}

		assets, err := svc.GetMediaFiles(r.Context(), opts)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrCatalog) {
				status = http.StatusBadGateway
			}
			http.Error(w, http.StatusText(status), status)
			return
		}

		caps := connection.FromHeaders(r.Header)
		out := make([]ResolvedAsset, len(assets))
		for i, a := range assets {
			out[i] = ResolvedAsset{Asset: a, OptimizedURL: svc.ResolveURL(a, caps, resolve)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Accept-CH", "ECT, Downlink, Save-Data")
		w.Header().Add("Vary", "ECT, Downlink, Save-Data, Accept")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			logger.Warn().Err(err).Msg("Failed to write media response.")
		}
	})
}
