// Package http serves the query surface consumed by the dashboard: the JSON
// summary, the Prometheus metrics and a liveness probe.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gabapcia/rpcparity/internal/pkg/logger"
	"github.com/gabapcia/rpcparity/internal/stats"
)

var ErrServerAlreadyStarted = errors.New("server already started")

type health struct {
	Status          string `json:"status"`
	RunID           string `json:"runId,omitempty"`
	PendingRechecks int    `json:"pendingRechecks"`
}

type errorBody struct {
	Error string `json:"error"`
}

type server struct {
	summaries stats.Service
	cfg       config

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(ctx, "failed to write response", "error", err)
	}
}

func (s *server) summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.summaryTimeout)
	defer cancel()

	summary, err := s.summaries.Summary(ctx)
	if err != nil {
		logger.Error(ctx, "failed to build summary", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	writeJSON(ctx, w, http.StatusOK, summary)
}

func (s *server) healthz(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok", RunID: s.cfg.runID}
	if s.cfg.pending != nil {
		h.PendingRechecks = s.cfg.pending()
	}

	writeJSON(r.Context(), w, http.StatusOK, h)
}

// Handler returns the routes of the query surface.
func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /summary", s.summary)
	mux.HandleFunc("GET /healthz", s.healthz)
	if s.cfg.metrics != nil {
		mux.Handle("GET /metrics", s.cfg.metrics)
	}
	return mux
}

// Start binds the listen address and serves in the background.
func (s *server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return ErrServerAlreadyStarted
	}

	listener, err := net.Listen("tcp", s.cfg.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.readHeaderTimeout,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", "error", err)
		}
	}()

	logger.Info(ctx, "http server listening", "http.addr", listener.Addr().String())
	return nil
}

// Addr is the bound address, empty before Start.
func (s *server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops accepting requests and waits for in-flight ones until ctx ends.
func (s *server) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}

	err := s.srv.Shutdown(ctx)
	s.srv, s.listener = nil, nil
	return err
}

type config struct {
	addr              string
	runID             string
	pending           func() int
	metrics           http.Handler
	summaryTimeout    time.Duration
	readHeaderTimeout time.Duration
}

type Option func(*config)

// NewServer builds the query server. It listens on ":9464" unless WithAddr is given.
func NewServer(summaries stats.Service, opts ...Option) *server {
	cfg := config{
		addr:              ":9464",
		summaryTimeout:    30 * time.Second,
		readHeaderTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &server{summaries: summaries, cfg: cfg}
}

func WithAddr(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *config) {
		c.metrics = h
	}
}

func WithRunID(id string) Option {
	return func(c *config) {
		c.runID = id
	}
}

// WithPending reports the number of in-flight re-checks on /healthz.
func WithPending(f func() int) Option {
	return func(c *config) {
		c.pending = f
	}
}

func WithSummaryTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.summaryTimeout = d
		}
	}
}
