// Package api exposes the HTTP interface for injection and read-only
// access to the filtered feed.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/growsignal/alphafeed/internal/config"
	"github.com/growsignal/alphafeed/internal/feed"
	"github.com/growsignal/alphafeed/internal/metrics"
)

// Injecter accepts side-channel URLs.
type Injecter interface {
	Inject(ctx context.Context, url, categoryHint string) (feed.Item, error)
}

// Server wires HTTP handlers to the injector and item store.
type Server struct {
	router   chi.Router
	injecter Injecter
	items    feed.ItemStore
	logger   *zap.Logger
	cfg      config.ServerConfig
}

// NewServer constructs a Server with middleware and routes.
func NewServer(injecter Injecter, items feed.ItemStore, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		injecter: injecter,
		items:    items,
		logger:   logger,
		cfg:      cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(apiKeyMiddleware(logger, cfg.APIKey))
		}
		r.Post("/inject", s.inject)
		r.Get("/items/news", s.newsItems)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.items.List(r.Context(), feed.StageNewsFiltered); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type injectRequest struct {
	URL          string `json:"url"`
	CategoryHint string `json:"category_hint"`
}

func (s *Server) inject(w http.ResponseWriter, r *http.Request) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(s.logger, w, http.StatusBadRequest, "url required")
		return
	}
	item, err := s.injecter.Inject(r.Context(), req.URL, req.CategoryHint)
	if err != nil {
		s.logger.Warn("injection failed", zap.String("url", req.URL), zap.Error(err))
		writeError(s.logger, w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"item": item})
}

func (s *Server) newsItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.items.List(r.Context(), feed.StageNewsFiltered)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list news items")
		return
	}
	groups := make(map[string][]feed.Item)
	for _, item := range items {
		groups[item.Category] = append(groups[item.Category], item)
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"count": len(items), "groups": groups})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(logger *zap.Logger, expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(logger, w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// requestIDFrom returns the id set by requestIDMiddleware, if any.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
