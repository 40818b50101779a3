package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/config"
)

func serviceConfig(t *testing.T) *config.Config {
	return &config.Config{
		Bridge:    config.BridgeConfig{Transport: config.TransportSim},
		Broker:    config.BrokerConfig{Timeout: 50 * time.Millisecond, CommandConcurrency: 5},
		Poll:      config.PollConfig{Workers: 2, BatchSize: 10, TimeoutPerVar: 50 * time.Millisecond, Interval: 20 * time.Millisecond},
		Variables: []string{"L:A32NX_PARK_BRAKE_LEVER_POS"},
		Output:    config.OutputConfig{Enabled: true, Directory: t.TempDir()},
		Server:    config.ServerConfig{Addr: "127.0.0.1:0", RelayAddr: "127.0.0.1:0", WSEnabled: true},
	}
}

func TestRunServiceStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := RunService(ctx, serviceConfig(t), ServiceOptions{Poll: true}, zap.NewNop())
	assert.NoError(t, err)
}

func TestRunRelayStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	assert.NoError(t, RunRelay(ctx, serviceConfig(t), false, zap.NewNop()))
}

func TestServeHTTPReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:bad", Handler: http.NotFoundHandler()}
	err := serveHTTP(context.Background(), srv, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error")
}
