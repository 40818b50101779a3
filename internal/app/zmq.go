//go:build zmq

package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/config"
	"github.com/dgnsrekt/crewbridge/internal/transport/zmqbridge"
)

func dialZMQ(cfg config.BridgeConfig, logger *zap.Logger) (bridge.Transport, error) {
	c, err := zmqbridge.Dial(cfg.ZMQRequest, cfg.ZMQData, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to zmq bridge", zap.String("request", cfg.ZMQRequest), zap.String("data", cfg.ZMQData))
	return c, nil
}

func serveZMQ(ctx context.Context, t bridge.Transport, cfg config.BridgeConfig, logger *zap.Logger) error {
	return zmqbridge.Serve(ctx, t, cfg.ZMQRequest, cfg.ZMQData, logger)
}
