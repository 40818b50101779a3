package lvar

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/transport/simhost"
)

func newTestBroker(t *testing.T, tr bridge.Transport) *Broker {
	t.Helper()
	return New(tr, zap.NewNop(), WithCommandGate(5, 0), WithSettleDelay(10*time.Millisecond))
}

func commandsOf(frames [][]byte) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, string(f[:bytes.IndexByte(f, 0)]))
	}
	return out
}

func TestGetReceivesDelayedUpdate(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	go func() {
		time.Sleep(10 * time.Millisecond)
		ft.emit(1, EncodeFloat(3.5))
	}()

	v := b.Get(context.Background(), "X", 250*time.Millisecond)
	assert.Equal(t, 3.5, v)

	// fast path: no new command, last known value
	sentBefore := len(ft.frames())
	v = b.Get(context.Background(), "X", 100*time.Millisecond)
	assert.Equal(t, 3.5, v)
	assert.Len(t, ft.frames(), sentBefore)
}

func TestGetTimesOutWithDefault(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	start := time.Now()
	v := b.Get(context.Background(), "Y", 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, DefaultValue, v)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 50*time.Millisecond+100*time.Millisecond)

	_, err := b.Lookup(context.Background(), "Y", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestLookupReportsParentCancellation(t *testing.T) {
	b := newTestBroker(t, newFakeTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Lookup(ctx, "Y", time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = b.Lookup(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestSetupPerformedOnce(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	b.Get(context.Background(), "X", 10*time.Millisecond)
	b.Get(context.Background(), "X", 10*time.Millisecond)

	defines, requests := ft.setupCount(1)
	assert.Equal(t, 1, defines)
	assert.Equal(t, 1, requests)

	// every miss resends the subscribe command
	assert.Equal(t, []string{"MF.SimVars.Add.X", "MF.SimVars.Add.X"}, commandsOf(ft.frames()))
	assert.Equal(t, uint64(1), b.Stats().Setups)
}

func TestConcurrentGetsShareOneSetup(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Get(context.Background(), "X", 10*time.Millisecond)
		}()
	}
	wg.Wait()

	defines, requests := ft.setupCount(1)
	assert.Equal(t, 1, defines)
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, b.Stats().Registered)
}

func TestSetupErrorsAreIgnored(t *testing.T) {
	ft := newFakeTransport()
	ft.setupErrs = true
	b := newTestBroker(t, ft)

	go func() {
		time.Sleep(5 * time.Millisecond)
		ft.emit(1, EncodeFloat(1))
	}()
	assert.Equal(t, 1.0, b.Get(context.Background(), "X", 200*time.Millisecond))
}

func TestHandleDataDiscardsUnknownAndShortFrames(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)
	b.Ensure("X")

	ft.emit(9, EncodeFloat(1))
	ft.emit(1, []byte{1, 2})
	ft.emit(1, nil)

	stats := b.Stats()
	assert.Equal(t, uint64(3), stats.Discarded)
	assert.Equal(t, uint64(0), stats.Ingested)

	ft.emit(1, EncodeFloat(-2.25))
	assert.Equal(t, -2.25, b.Get(context.Background(), "X", time.Millisecond))
}

func TestLastWriteWins(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)
	b.Ensure("X")

	ft.emit(1, EncodeFloat(1))
	ft.emit(1, EncodeFloat(2))
	assert.Equal(t, 2.0, b.Get(context.Background(), "X", time.Millisecond))
}

func TestClearResetsAndNotifiesHost(t *testing.T) {
	ft := newFakeTransport()
	b := newTestBroker(t, ft)

	// safe before anything is registered
	b.Clear(context.Background())

	b.Ensure("A")
	b.Ensure("B")
	ft.emit(1, EncodeFloat(5))

	b.Clear(context.Background())
	assert.Empty(t, b.Snapshot())
	assert.Equal(t, FirstID, b.Ensure("C"))
	assert.Equal(t, []string{"MF.SimVars.Clear", "MF.SimVars.Clear"}, commandsOf(ft.frames()))

	// stale frame for the pre-clear id 2 is dropped
	ft.emit(2, EncodeFloat(1))
	assert.Equal(t, uint64(1), b.Stats().Discarded)
}

func TestClearWaitsForSettle(t *testing.T) {
	b := New(newFakeTransport(), zap.NewNop(), WithSettleDelay(30*time.Millisecond))

	start := time.Now()
	b.Clear(context.Background())
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAgainstSimulatedHost(t *testing.T) {
	host := simhost.New(
		simhost.WithLatency(10*time.Millisecond),
		simhost.WithValues(map[string]float64{"(L:A32NX_GEAR)": 1, "(L:A32NX_FLAPS)": 2}),
	)
	defer host.Close()
	b := newTestBroker(t, host)

	ctx := context.Background()
	assert.Equal(t, 1.0, b.Get(ctx, "(L:A32NX_GEAR)", 250*time.Millisecond))
	assert.Equal(t, 2.0, b.Get(ctx, "(L:A32NX_FLAPS)", 250*time.Millisecond))

	require.NoError(t, b.Write(ctx, "L:A32NX_FLAPS", "int:3"))
	require.Eventually(t, func() bool {
		return b.Get(ctx, "(L:A32NX_FLAPS)", time.Millisecond) == 3
	}, time.Second, 5*time.Millisecond)

	b.Clear(ctx)
	assert.Empty(t, host.Published())
	assert.Equal(t, 3.0, b.Get(ctx, "(L:A32NX_FLAPS)", 250*time.Millisecond))
}

func TestConcurrentFirstLookupsKeepSlotOrder(t *testing.T) {
	values := make(map[string]float64)
	for i := 0; i < 30; i++ {
		values[Expr("L:VAR_"+string(rune('A'+i)))] = float64(i + 1)
	}
	host := simhost.New(simhost.WithLatency(time.Millisecond), simhost.WithValues(values))
	defer host.Close()
	b := newTestBroker(t, host)

	var wg sync.WaitGroup
	var mu sync.Mutex
	got := make(map[string]float64)
	for name := range values {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			v, err := b.Lookup(context.Background(), name, time.Second)
			assert.NoError(t, err)
			mu.Lock()
			got[name] = v
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	assert.Equal(t, values, got)
}

// heldHost delays the first subscribe command until release is closed.
type heldHost struct {
	*simhost.Host
	once    sync.Once
	held    chan struct{}
	release chan struct{}
}

func (h *heldHost) WriteCommand(area bridge.AreaID, frame []byte) error {
	if bytes.HasPrefix(frame, []byte("MF.SimVars.Add.")) {
		h.once.Do(func() {
			close(h.held)
			<-h.release
		})
	}
	return h.Host.WriteCommand(area, frame)
}

func TestClearWaitsForInFlightSubscribe(t *testing.T) {
	host := simhost.New(simhost.WithValues(map[string]float64{"A": 111, "B": 222}))
	defer host.Close()
	hh := &heldHost{Host: host, held: make(chan struct{}), release: make(chan struct{})}
	b := newTestBroker(t, hh)
	ctx := context.Background()

	go b.Get(ctx, "A", 300*time.Millisecond)
	select {
	case <-hh.held:
	case <-time.After(time.Second):
		t.Fatal("subscribe for A never reached the host")
	}

	cleared := make(chan struct{})
	go func() {
		b.Clear(ctx)
		close(cleared)
	}()
	time.Sleep(20 * time.Millisecond)
	close(hh.release)

	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("clear did not finish")
	}

	assert.Equal(t, 222.0, b.Get(ctx, "B", 300*time.Millisecond))
	assert.Equal(t, []string{"B"}, host.Published())
	assert.Equal(t, 222.0, b.Get(ctx, "B", 300*time.Millisecond))
}
