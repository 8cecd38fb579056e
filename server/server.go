// Package server exposes the JSON re-export layer over the fetch pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"birdgate/pkg/model"
)

// Querier is the outbound query interface served by the thread package.
type Querier interface {
	GetTweet(ctx context.Context, id, cursor string) (*model.Conversation, error)
	GetTimeline(ctx context.Context, username, cursor string) (model.TimelineSlice, error)
}

// PoolStats reports session counts for health output.
type PoolStats interface {
	Counts() map[string]int
}

// Config holds server configuration.
type Config struct {
	Querier        Querier
	Pool           PoolStats
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

// Server handles HTTP requests.
type Server struct {
	querier Querier
	pool    PoolStats
	logger  *slog.Logger
	timeout time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Server{
		querier: cfg.Querier,
		pool:    cfg.Pool,
		logger:  cfg.Logger,
		timeout: cfg.RequestTimeout,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tweet/", s.handleTweet)
	mux.HandleFunc("/api/timeline/", s.handleTimeline)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe starts the server on port.
func (s *Server) ListenAndServe(port string) error {
	// Timeouts prevent resource exhaustion from slow clients.
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleTweet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/tweet/"), "/")
	cursor := r.URL.Query().Get("cursor")

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	conv, err := s.querier.GetTweet(ctx, id, cursor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// A tombstoned focal tweet is an application-level error object, not
	// the conversation shape.
	if !conv.Tweet.Available() && conv.Tweet.Tombstone != "" {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": conv.Tweet.Tombstone})
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	username := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/timeline/"), "/")
	cursor := r.URL.Query().Get("cursor")

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	slice, err := s.querier.GetTimeline(ctx, username, cursor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, slice)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": s.pool.Counts(),
	})
}

// writeError maps the pipeline error taxonomy onto HTTP. Pool exhaustion is
// a distinct "service temporarily unavailable" condition, never conflated
// with not-found.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request"})
	case model.IsNotFound(err):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, model.ErrNoSession), model.IsRateLimited(err):
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service temporarily unavailable"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "request timed out"})
	default:
		s.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
