//go:build zmq

package zmqbridge

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/lvar"
	"github.com/dgnsrekt/crewbridge/internal/transport/simhost"
)

func TestBrokerOverZMQ(t *testing.T) {
	host := simhost.New(simhost.WithValues(map[string]float64{"(L:A32NX_GEAR)": 1}))
	defer host.Close()

	id := time.Now().UnixNano()
	reqAddr := fmt.Sprintf("ipc:///tmp/crewbridge-req-%d", id)
	pubAddr := fmt.Sprintf("ipc:///tmp/crewbridge-pub-%d", id)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, host, reqAddr, pubAddr, zap.NewNop()) }()

	client, err := Dial(reqAddr, pubAddr, zap.NewNop())
	require.NoError(t, err)

	b := lvar.New(client, zap.NewNop(), lvar.WithSettleDelay(time.Millisecond))
	require.Eventually(t, func() bool {
		return b.Get(context.Background(), "(L:A32NX_GEAR)", 200*time.Millisecond) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, client.MapName(bridge.LVarsAreaName, bridge.LVarsArea), bridge.ErrAreaExists)

	require.NoError(t, client.Close())
	cancel()
	assert.NoError(t, <-served)
}
