// Package storeapi serves the lottery retailer search endpoint.
package storeapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/store-locator/internal/metrics"
	"github.com/sells-group/store-locator/internal/model"
	"github.com/sells-group/store-locator/internal/storedb"
	"github.com/sells-group/store-locator/pkg/lottoapi"
)

// maxBodyBytes caps the search request body.
const maxBodyBytes = 4 << 10

// Options configures a Handler.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxResults     int
}

// Handler serves store searches from a storedb.Store.
type Handler struct {
	store   storedb.Store
	metrics *metrics.Metrics
	opts    Options
}

// NewHandler creates a Handler.
func NewHandler(st storedb.Store, m *metrics.Metrics, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Handler{store: st, metrics: m, opts: opts}
}

// Router builds the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(h.opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(h.accessLog)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.Post(lottoapi.StoresPath, h.handleStores)

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, status, time.Since(start))

		zap.L().Info("http_request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleStores(w http.ResponseWriter, r *http.Request) {
	var q model.BoundsQuery
	if err := decodeJSONStrict(http.MaxBytesReader(w, r.Body, maxBodyBytes), &q); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a bounds object", map[string]any{"error": err.Error()})
		return
	}
	if !q.Bounds().Valid() {
		writeError(w, http.StatusBadRequest, "invalid_bounds", "north-east corner must be north and east of south-west corner", nil)
		return
	}

	records, err := h.store.StoresInBounds(r.Context(), q, h.opts.MaxResults)
	if err != nil {
		zap.L().Error("store search failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "search_failed", "store search failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	body := map[string]any{"code": code, "message": msg}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func decodeJSONStrict(body io.Reader, dst any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}
