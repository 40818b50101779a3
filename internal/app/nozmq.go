//go:build !zmq

package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/config"
)

func dialZMQ(config.BridgeConfig, *zap.Logger) (bridge.Transport, error) {
	return nil, ErrZMQUnavailable
}

func serveZMQ(context.Context, bridge.Transport, config.BridgeConfig, *zap.Logger) error {
	return ErrZMQUnavailable
}
