package lvar

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

func TestEncodeFramePadsToSize(t *testing.T) {
	frame := EncodeFrame("MF.SimVars.Clear", 512)
	require.Len(t, frame, 512)
	assert.Equal(t, "MF.SimVars.Clear", string(frame[:16]))
	assert.Equal(t, make([]byte, 512-16), frame[16:])
}

func TestEncodeFrameTruncates(t *testing.T) {
	frame := EncodeFrame(strings.Repeat("x", 600), 512)
	require.Len(t, frame, 512)
	assert.Equal(t, 510, bytes.IndexByte(frame, 0))
	assert.Equal(t, []byte{0, 0}, frame[510:])
}

func TestEncodeFrameDropsNonASCII(t *testing.T) {
	frame := EncodeFrame("L:ÄB", 16)
	assert.Equal(t, "L:B", string(frame[:bytes.IndexByte(frame, 0)]))
}

func TestCommandHelpers(t *testing.T) {
	assert.Equal(t, "MF.SimVars.Add.(L:X)", SubscribeCommand("(L:X)"))
	assert.Equal(t, "MF.SimVars.Set.1 (>L:X)", SetCommand("1 (>L:X)"))
	assert.Equal(t, "MF.SimVars.Clear", ClearCommand())
}

func TestSendCountsFailures(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = errors.New("pipe closed")
	c := NewCommandChannel(ft, 5, 0, zap.NewNop())

	err := c.Send(context.Background(), "MF.SimVars.Clear")
	require.Error(t, err)

	sent, failed := c.Counts()
	assert.Equal(t, uint64(0), sent)
	assert.Equal(t, uint64(1), failed)
}

func TestSendIsPaced(t *testing.T) {
	ft := newFakeTransport()
	c := NewCommandChannel(ft, 5, 10*time.Millisecond, zap.NewNop())

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, c.Send(context.Background(), "MF.SimVars.Clear"))
	}
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	assert.Len(t, ft.frames(), 4)
}

func TestSendGateHonoursContext(t *testing.T) {
	ft := newFakeTransport()
	ft.block = make(chan struct{})
	c := NewCommandChannel(ft, 1, 0, zap.NewNop())

	go func() { _ = c.Send(context.Background(), "first") }()
	require.Eventually(t, func() bool { return ft.writing.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.Send(ctx, "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(ft.block)
}

var _ bridge.Transport = (*fakeTransport)(nil)
