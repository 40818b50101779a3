package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/crewbridge/internal/config"
	"github.com/dgnsrekt/crewbridge/internal/events"
	"github.com/dgnsrekt/crewbridge/internal/notify"
	"github.com/dgnsrekt/crewbridge/internal/poll"
	"github.com/dgnsrekt/crewbridge/internal/relay"
	"github.com/dgnsrekt/crewbridge/internal/server"
	"github.com/dgnsrekt/crewbridge/internal/sink"
	"github.com/dgnsrekt/crewbridge/internal/status"
	"github.com/dgnsrekt/crewbridge/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// ServiceOptions selects the optional parts of the service.
type ServiceOptions struct {
	// Poll runs the poll loop over cfg.Variables.
	Poll     bool
	Notifier notify.Notifier
}

// RunService serves the HTTP API until ctx is done, optionally polling the
// configured variables in the background.
func RunService(ctx context.Context, cfg *config.Config, opts ServiceOptions, logger *zap.Logger) error {
	t, err := OpenTransport(ctx, cfg.Bridge, logger)
	if err != nil {
		return err
	}
	defer t.Close()

	var out sink.Sink = sink.Nop{}
	if opts.Poll {
		if out, err = BuildSink(cfg, logger); err != nil {
			return err
		}
		defer func() {
			if err := out.Close(); err != nil {
				logger.Warn("failed to close sinks", zap.Error(err))
			}
		}()
	}

	broker := NewBroker(ctx, t, cfg.Broker, logger)
	monitor := status.NewMonitor(logger.Named("status"), status.WithRefresh(cfg.Server.StatusRefresh))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(ctx)
		return nil
	})

	var dashboard http.Handler
	var hub *ws.Hub
	if cfg.Server.WSEnabled {
		hub, err = ws.NewHub("dashboard", logger.Named("ws"), nil)
		if err != nil {
			return fmt.Errorf("creating dashboard hub: %w", err)
		}
		g.Go(func() error {
			hub.Run(ctx)
			return nil
		})
		monitor.OnUpdate(hub.PublishStatus)
		dashboard = hub
	}

	var snapshots server.SnapshotSource
	var feed *events.Broadcaster
	if opts.Poll {
		feed = events.NewBroadcaster(broadcasterID(), 0, logger.Named("events"))
		g.Go(func() error {
			feed.Run(ctx)
			return nil
		})

		publishers := poll.Publishers{feed}
		if hub != nil {
			publishers = append(publishers, hub)
		}

		manager := poll.NewManager(broker, PollOptions(cfg.Poll), logger.Named("poll"))
		loop := poll.NewLoop(manager, LoopConfig(cfg), out, opts.Notifier, logger.Named("loop"))
		loop.SetPublisher(publishers)
		g.Go(func() error { return loop.Run(ctx) })
		snapshots = loop
	}

	srv := server.NewServer(broker, snapshots, monitor, dashboard, server.Config{
		DefaultTimeout: cfg.Broker.Timeout,
		MaxTimeout:     cfg.Server.MaxTimeout,
		ReadOnly:       cfg.Server.ReadOnly,
	}, logger.Named("http"))
	if feed != nil {
		srv.SetEvents(http.HandlerFunc(feed.HandleSSE))
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewRouter(srv, logger.Named("http")),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	g.Go(func() error { return serveHTTP(ctx, httpServer, logger) })

	return g.Wait()
}

// RunRelay exposes a local transport to remote brokers, over WebSocket or,
// when useZMQ is set, over ZeroMQ.
func RunRelay(ctx context.Context, cfg *config.Config, useZMQ bool, logger *zap.Logger) error {
	t, err := OpenTransport(ctx, cfg.Bridge, logger)
	if err != nil {
		return err
	}
	defer t.Close()

	if useZMQ {
		logger.Info("serving bridge over zmq",
			zap.String("request", cfg.Bridge.ZMQRequest),
			zap.String("data", cfg.Bridge.ZMQData),
		)
		return ServeZMQ(ctx, t, cfg.Bridge, logger)
	}

	rs := relay.New(t, logger.Named("relay"))
	defer rs.Close()

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Handle("/bridge", rs)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, rs.Sessions())
	})

	return serveHTTP(ctx, &http.Server{Addr: cfg.Server.RelayAddr, Handler: r}, logger)
}

func serveHTTP(ctx context.Context, httpServer *http.Server, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server...", zap.String("addr", httpServer.Addr))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func broadcasterID() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "crewbridge"
	}
	return name
}
