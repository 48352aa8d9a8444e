package worker

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/illmade-knight/go-assetedge/pkg/cache"
	"github.com/illmade-knight/go-assetedge/pkg/connection"
	"github.com/rs/zerolog"
)

const maxRequestBody = 10 << 20

// Proxy adapts a Worker to net/http: it turns incoming requests into
// intercepted requests against the public origin and writes the worker's
// answer back.
type Proxy struct {
	worker *Worker
	origin *url.URL
	logger zerolog.Logger
}

// NewProxy creates the HTTP adapter.
func NewProxy(w *Worker, logger zerolog.Logger) *Proxy {
	return &Proxy{
		worker: w,
		origin: w.cfg.Origin,
		logger: logger.With().Str("component", "Proxy").Logger(),
	}
}

// ServeHTTP intercepts one request.
func (p *Proxy) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	req, err := p.toRequest(r)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := p.worker.Respond(r.Context(), req)
	if err != nil {
		p.logger.Error().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("Request failed.")
		http.Error(rw, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	writeResponse(rw, r.Method, resp)
}

func (p *Proxy) toRequest(r *http.Request) (*Request, error) {
	target := r.URL
	if !target.IsAbs() {
		ref, err := url.ParseRequestURI(r.URL.RequestURI())
		if err != nil {
			return nil, err
		}
		target = p.origin.ResolveReference(ref)
	}

	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxRequestBody))
		if err != nil {
			return nil, err
		}
		body = data
	}

	return &Request{
		Method:      r.Method,
		URL:         target,
		Destination: r.Header.Get("Sec-Fetch-Dest"),
		Header:      r.Header.Clone(),
		Body:        body,
	}, nil
}

func writeResponse(rw http.ResponseWriter, method string, resp *cache.CachedResponse) {
	h := rw.Header()
	for name, values := range resp.Header {
		h[name] = append([]string(nil), values...)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	rw.WriteHeader(resp.Status)
	if method != http.MethodHead {
		_, _ = rw.Write(resp.Body)
	}
}

// MessageHandler accepts POSTed JSON messages for the worker.
func (p *Proxy) MessageHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Allow", http.MethodPost)
			http.Error(rw, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		var msg Message
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, 1<<20)).Decode(&msg); err != nil {
			http.Error(rw, "invalid message: "+err.Error(), http.StatusBadRequest)
			return
		}
		msg.Network = connection.FromHeaders(r.Header.Clone())
		if err := p.worker.PostMessage(msg); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrUnknownMessage) {
				status = http.StatusBadRequest
			}
			http.Error(rw, err.Error(), status)
			return
		}
		rw.WriteHeader(http.StatusAccepted)
	})
}
