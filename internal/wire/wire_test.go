package wire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/transport/simhost"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	in := &Envelope{Op: OpDefineSlot, Seq: 7, ID: 3, Offset: 8, Width: 4}
	raw, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xc1})
	assert.Error(t, err)

	raw, err := Encode(&Envelope{})
	require.NoError(t, err)
	_, err = Decode(raw)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestAckPreservesSentinels(t *testing.T) {
	for _, sentinel := range []error{bridge.ErrAreaExists, bridge.ErrSlotExists, bridge.ErrUnknownArea, bridge.ErrClosed} {
		ack := Ack(&Envelope{Seq: 1}, sentinel)
		assert.ErrorIs(t, ack.Err(), sentinel)
	}

	wrapped := Ack(&Envelope{}, errors.Join(errors.New("ctx"), bridge.ErrSlotExists))
	assert.ErrorIs(t, wrapped.Err(), bridge.ErrSlotExists)

	plain := Ack(&Envelope{}, errors.New("disk on fire"))
	assert.EqualError(t, plain.Err(), "disk on fire")

	assert.NoError(t, Ack(&Envelope{}, nil).Err())
}

func TestApplyDrivesTransport(t *testing.T) {
	host := simhost.New()
	defer host.Close()

	ack := Apply(host, &Envelope{Op: OpMapName, Seq: 1, Name: bridge.LVarsAreaName, Area: uint32(bridge.LVarsArea)})
	assert.Equal(t, uint64(1), ack.Seq)
	assert.NoError(t, ack.Err())

	ack = Apply(host, &Envelope{Op: OpMapName, Seq: 2, Name: bridge.LVarsAreaName, Area: uint32(bridge.LVarsArea)})
	assert.ErrorIs(t, ack.Err(), bridge.ErrAreaExists)

	ack = Apply(host, &Envelope{Op: "explode"})
	assert.ErrorIs(t, ack.Err(), ErrBadRequest)
}

func TestPendingMatchesAcks(t *testing.T) {
	p := NewPending()
	sent := make(chan []byte, 1)

	go func() {
		raw := <-sent
		req, err := Decode(raw)
		if err != nil {
			return
		}
		p.Resolve(&Envelope{Op: OpAck, Seq: req.Seq + 100}) // stray
		p.Resolve(Ack(req, bridge.ErrSlotExists))
	}()

	ack, err := p.Call(context.Background(), &Envelope{Op: OpDefineSlot, ID: 1}, func(b []byte) error {
		sent <- b
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, ack.Err(), bridge.ErrSlotExists)
}

func TestPendingCallHonoursContext(t *testing.T) {
	p := NewPending()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Call(ctx, &Envelope{Op: OpRequest}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPendingCloseFailsCalls(t *testing.T) {
	p := NewPending()
	done := make(chan error, 1)
	go func() {
		_, err := p.Call(context.Background(), &Envelope{Op: OpRequest}, func([]byte) error { return nil })
		done <- err
	}()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.waiting) == 1
	}, time.Second, time.Millisecond)
	p.Close()

	assert.ErrorIs(t, <-done, bridge.ErrClosed)

	_, err := p.Call(context.Background(), &Envelope{Op: OpRequest}, func([]byte) error { return nil })
	assert.ErrorIs(t, err, bridge.ErrClosed)
}
