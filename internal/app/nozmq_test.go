//go:build !zmq

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/config"
)

func TestZMQUnavailableWithoutTag(t *testing.T) {
	_, err := OpenTransport(context.Background(), config.BridgeConfig{Transport: config.TransportZMQ}, zap.NewNop())
	assert.ErrorIs(t, err, ErrZMQUnavailable)

	err = ServeZMQ(context.Background(), nil, config.BridgeConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrZMQUnavailable)
}
