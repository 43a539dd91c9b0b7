package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/listing"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

const (
	defaultMaxPages = 50
	readyTimeout    = 3 * time.Second
)

// BatchRunner scrapes one keyword and place.
type BatchRunner interface {
	Batch(ctx context.Context, keyword, place string, pages int) listing.BatchResult
}

// Options configures a Server.
type Options struct {
	// APIKey, when set, is required on every /v1 route.
	APIKey       string
	DefaultPages int
	MaxPages     int
}

// Deps are the collaborators behind the routes. Gatherer, HTTPMetrics, Events
// and Ready are optional.
type Deps struct {
	Batches     BatchRunner
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTP
	Events      *RecentEvents
	// Ready reports whether downstream dependencies are usable.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// Server wires HTTP handlers to the scheduler.
type Server struct {
	router chi.Router
	opts   Options
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Batches == nil {
		return nil, errors.New("api requires a batch runner")
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.DefaultPages <= 0 || opts.DefaultPages > opts.MaxPages {
		opts.DefaultPages = min(20, opts.MaxPages)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{opts: opts, deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Middleware)
	}
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Post("/batches", s.runBatch)
		r.Get("/events", s.listEvents)
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type batchRequest struct {
	Keyword string `json:"keyword"`
	Place   string `json:"place"`
	Pages   int    `json:"pages"`
}

func (s *Server) validate(req *batchRequest) error {
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.Place = strings.TrimSpace(req.Place)
	if req.Keyword == "" || req.Place == "" {
		return errors.New("keyword and place are required")
	}
	if req.Pages == 0 {
		req.Pages = s.opts.DefaultPages
	}
	if req.Pages < 1 || req.Pages > s.opts.MaxPages {
		return fmt.Errorf("pages must be between 1 and %d", s.opts.MaxPages)
	}
	return nil
}

// runBatch scrapes synchronously; the response is sent once every page has a
// terminal outcome.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.validate(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res := s.deps.Batches.Batch(r.Context(), req.Keyword, req.Place, req.Pages)
	if r.Context().Err() != nil {
		s.logger.Warn("client went away before batch finished",
			zap.String("keyword", req.Keyword), zap.String("place", req.Place))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("dur", time.Since(start)))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
