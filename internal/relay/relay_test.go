package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/lvar"
	"github.com/dgnsrekt/crewbridge/internal/transport/simhost"
	"github.com/dgnsrekt/crewbridge/internal/transport/wsbridge"
	"github.com/dgnsrekt/crewbridge/internal/wire"
)

func startRelay(t *testing.T, host *simhost.Host) (*Server, string) {
	t.Helper()
	srv := New(host, zap.NewNop())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestBrokerOverRelay(t *testing.T) {
	host := simhost.New(simhost.WithValues(map[string]float64{"(L:A32NX_GEAR)": 1}))
	defer host.Close()
	srv, url := startRelay(t, host)

	client, err := wsbridge.Dial(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return srv.Sessions() == 1 }, time.Second, time.Millisecond)

	b := lvar.New(client, zap.NewNop(), lvar.WithSettleDelay(time.Millisecond))
	ctx := context.Background()

	v, err := b.Lookup(ctx, "(L:A32NX_GEAR)", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, b.Write(ctx, "L:A32NX_GEAR", "bool:DOWN"))
	require.Eventually(t, func() bool {
		v, _ := host.Value("L:A32NX_GEAR")
		return v == -1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return b.Get(ctx, "(L:A32NX_GEAR)", time.Millisecond) == -1
	}, time.Second, 5*time.Millisecond)
}

func TestRelayPreservesSetupErrors(t *testing.T) {
	host := simhost.New()
	defer host.Close()
	_, url := startRelay(t, host)

	client, err := wsbridge.Dial(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.MapName(bridge.LVarsAreaName, bridge.LVarsArea))
	assert.ErrorIs(t, client.MapName(bridge.LVarsAreaName, bridge.LVarsArea), bridge.ErrAreaExists)
	assert.ErrorIs(t, client.RequestDelivery(bridge.CommandArea, 1), bridge.ErrUnknownArea)
}

func TestRelayRejectsOtherSubprotocols(t *testing.T) {
	host := simhost.New()
	defer host.Close()
	_, url := startRelay(t, host)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError), "got %v", err)
}

func TestRelayIgnoresGarbageFrames(t *testing.T) {
	host := simhost.New()
	defer host.Close()
	_, url := startRelay(t, host)

	dialer := websocket.Dialer{Subprotocols: []string{wsbridge.Subprotocol}}
	conn, _, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1}))

	call := func(env *wire.Envelope) *wire.Envelope {
		t.Helper()
		raw, err := wire.Encode(env)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, raw))

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		ack, err := wire.Decode(msg)
		require.NoError(t, err)
		return ack
	}

	// the area must be mapped before it can be created
	ack := call(&wire.Envelope{Op: wire.OpMapName, Seq: 8, Area: uint32(bridge.LVarsArea), Name: bridge.LVarsAreaName})
	assert.Equal(t, wire.OpAck, ack.Op)
	assert.Equal(t, uint64(8), ack.Seq)
	require.NoError(t, ack.Err())

	ack = call(&wire.Envelope{Op: wire.OpCreateArea, Seq: 9, Area: uint32(bridge.LVarsArea), Size: bridge.LVarsAreaSize})
	assert.Equal(t, wire.OpAck, ack.Op)
	assert.Equal(t, uint64(9), ack.Seq)
	assert.NoError(t, ack.Err())
}

func TestDialFailsWithoutRelaySubprotocol(t *testing.T) {
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer plain.Close()

	_, err := wsbridge.Dial(context.Background(), "ws"+strings.TrimPrefix(plain.URL, "http"), zap.NewNop())
	assert.ErrorIs(t, err, wsbridge.ErrHandshake)
}

func TestClientCloseFailsLaterCalls(t *testing.T) {
	host := simhost.New()
	defer host.Close()
	_, url := startRelay(t, host)

	client, err := wsbridge.Dial(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.DefineSlot(1, 0, 4), bridge.ErrClosed)
	assert.ErrorIs(t, client.WriteCommand(bridge.CommandArea, make([]byte, bridge.CommandFrameSize)), bridge.ErrClosed)
}
