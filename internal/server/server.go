// Package server is the HTTP surface of the bridge: status, variable reads
// and writes, the latest snapshot and the dashboard WebSocket.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/lvar"
	"github.com/dgnsrekt/crewbridge/internal/sink"
	"github.com/dgnsrekt/crewbridge/internal/status"
)

// Broker is the part of lvar.Broker the API uses.
type Broker interface {
	Lookup(ctx context.Context, name string, timeout time.Duration) (float64, error)
	Write(ctx context.Context, target, value string) error
	Clear(ctx context.Context)
	Snapshot() []lvar.Record
	Stats() lvar.Stats
}

// SnapshotSource returns the latest polling result, or nil before the first.
type SnapshotSource interface {
	Latest() *sink.Snapshot
}

type StatusSource interface {
	Current() status.Status
	Info() status.Info
}

type Server struct {
	broker    Broker
	snapshots SnapshotSource
	status    StatusSource
	dashboard http.Handler
	events    http.Handler
	config    Config
	logger    *zap.Logger
	started   time.Time
}

// Config tunes request handling.
type Config struct {
	// DefaultTimeout is used for reads without a timeout parameter.
	DefaultTimeout time.Duration
	// MaxTimeout caps the timeout parameter.
	MaxTimeout time.Duration
	// ReadOnly rejects writes and clears.
	ReadOnly bool
}

// NewServer wires the handlers. snapshots, st and dashboard may be nil.
func NewServer(broker Broker, snapshots SnapshotSource, st StatusSource, dashboard http.Handler, cfg Config, logger *zap.Logger) *Server {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = lvar.DefaultTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 10 * time.Second
	}
	return &Server{
		broker:    broker,
		snapshots: snapshots,
		status:    st,
		dashboard: dashboard,
		config:    cfg,
		logger:    logger,
		started:   time.Now(),
	}
}

// SetEvents mounts an event stream handler on /api/events.
func (s *Server) SetEvents(h http.Handler) {
	s.events = h
}

func NewRouter(server *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	// Streaming handlers must not pass through Compress.
	if server.dashboard != nil {
		r.Handle("/ws", server.dashboard)
	}
	if server.events != nil {
		r.Handle("/api/events", server.events)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/status", server.handleStatus)

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", server.handleHealth)
			r.Get("/info", server.handleInfo)
			r.Get("/snapshot", server.handleSnapshot)
			r.Get("/vars", server.handleListVars)
			r.Get("/vars/{name}", server.handleGetVar)
			r.Post("/vars/{name}", server.handleWriteVar)
			r.Post("/clear", server.handleClear)
		})
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
		})
	}
}
