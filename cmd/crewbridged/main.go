package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/app"
	"github.com/dgnsrekt/crewbridge/internal/config"
	"github.com/dgnsrekt/crewbridge/internal/notify"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load daemon config
	daemonCfg := LoadDaemonConfig()

	logger.Info("daemon configuration loaded",
		zap.String("configPath", daemonCfg.ConfigPath),
		zap.Bool("poll", daemonCfg.Poll),
		zap.Duration("restartMin", daemonCfg.RestartMin),
		zap.Duration("restartMax", daemonCfg.RestartMax),
		zap.String("stateFile", daemonCfg.StateFile),
	)

	// Load crewbridge config
	cfg, err := config.Load(daemonCfg.ConfigPath)
	if err != nil {
		logger.Error("failed to load crewbridge config", zap.Error(err))
		return 1
	}

	logger.Info("crewbridge configuration loaded",
		zap.String("transport", cfg.Bridge.Transport),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("workers", cfg.Poll.Workers),
		zap.Int("variables", len(cfg.Variables)),
	)

	// Load notification config
	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		logger.Error("invalid notification config", zap.Error(err))
		return 1
	}
	notifier := notify.New(notifyCfg, logger)

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracker := NewRunTracker(daemonCfg.StateFile)
	backoff := NewBackoff(daemonCfg.RestartMin, daemonCfg.RestartMax, daemonCfg.StableAfter)

	state := tracker.Load()
	if !state.Started.IsZero() {
		logger.Info("previous run",
			zap.Time("started", state.Started),
			zap.Time("stopped", state.Stopped),
			zap.String("error", state.Error),
		)
	}
	state = RunState{}

	logger.Info("daemon started")

	// Main loop - restart the service until shutdown
	for {
		state.Started = time.Now()
		state.Stopped = time.Time{}
		state.Error = ""
		saveState(tracker, state, logger)

		err := app.RunService(ctx, cfg, app.ServiceOptions{Poll: daemonCfg.Poll, Notifier: notifier}, logger)

		state.Stopped = time.Now()
		if err != nil {
			state.Error = err.Error()
		}
		saveState(tracker, state, logger)

		if ctx.Err() != nil {
			logger.Info("received shutdown signal, daemon stopped")
			return 0
		}

		ran := state.Stopped.Sub(state.Started)
		delay := backoff.Next(ran)
		state.Restarts++
		logger.Error("service stopped, restarting",
			zap.Error(err),
			zap.Duration("ran", ran),
			zap.Duration("delay", delay),
			zap.Int("restarts", state.Restarts),
		)

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal, daemon stopped")
			return 0
		case <-time.After(delay):
		}
	}
}

func saveState(tracker *RunTracker, state RunState, logger *zap.Logger) {
	if err := tracker.Save(state); err != nil {
		logger.Warn("failed to update state file", zap.Error(err))
	}
}
