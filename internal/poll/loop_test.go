package poll

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/lvar"
	"github.com/dgnsrekt/crewbridge/internal/sink"
)

type memorySink struct {
	mu    sync.Mutex
	snaps []*sink.Snapshot
}

func (m *memorySink) Write(_ context.Context, s *sink.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *memorySink) Close() error { return nil }

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

type recordingNotifier struct {
	degraded  int
	recovered int
	downFor   time.Duration
}

func (r *recordingNotifier) SendDegraded(context.Context, *sink.Snapshot, []string) error {
	r.degraded++
	return nil
}

func (r *recordingNotifier) SendRecovered(_ context.Context, _ *sink.Snapshot, d time.Duration) error {
	r.recovered++
	r.downFor = d
	return nil
}

type capturePublisher struct {
	last *sink.Snapshot
}

func (c *capturePublisher) PublishSnapshot(s *sink.Snapshot) { c.last = s }

func TestRunOnceForwardsSnapshot(t *testing.T) {
	f := &fakeFetcher{values: map[string]float64{"A": 4}}
	out := &memorySink{}
	pub := &capturePublisher{}

	l := NewLoop(NewManager(f, Options{}, zap.NewNop()), LoopConfig{Names: []string{"A", "B"}}, out, nil, zap.NewNop())
	l.SetPublisher(pub)

	snap, err := l.RunOnce(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(snap.ID)
	assert.NoError(t, err)
	assert.Equal(t, map[string]float64{"A": 4, "B": 0}, snap.Values)
	assert.Equal(t, 2, snap.Total)
	assert.Same(t, snap, l.Latest())
	assert.Same(t, snap, pub.last)
	assert.Equal(t, 1, out.count())
	assert.Equal(t, 1, l.Cycles())
}

func TestRunOnceSkipsCancelledCycles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := &memorySink{}
	l := NewLoop(NewManager(&fakeFetcher{}, Options{}, zap.NewNop()), LoopConfig{Names: []string{"A"}}, out, nil, zap.NewNop())

	snap, err := l.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Cancelled)
	assert.Nil(t, l.Latest())
	assert.Zero(t, out.count())
}

func TestDegradedAndRecoveredNotifications(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{"A": lvar.ErrTimeout, "B": lvar.ErrTimeout}}
	n := &recordingNotifier{}
	l := NewLoop(NewManager(f, Options{}, zap.NewNop()),
		LoopConfig{Names: []string{"A", "B"}, DegradedRatio: 0.5}, nil, n, zap.NewNop())

	ctx := context.Background()
	_, err := l.RunOnce(ctx)
	require.NoError(t, err)
	_, err = l.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n.degraded, "degraded is sent once per outage")
	assert.True(t, l.Degraded())

	f.mu.Lock()
	f.fail = nil
	f.mu.Unlock()

	_, err = l.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n.recovered)
	assert.False(t, l.Degraded())
	assert.Greater(t, n.downFor, time.Duration(0))
}

func TestRunStopsOnCancel(t *testing.T) {
	out := &memorySink{}
	l := NewLoop(NewManager(&fakeFetcher{}, Options{}, zap.NewNop()),
		LoopConfig{Names: []string{"A"}, Interval: 5 * time.Millisecond}, out, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return out.count() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFromResultCopiesValues(t *testing.T) {
	res := &Result{Values: map[string]float64{"A": 1}, Total: 1, Elapsed: 1500 * time.Millisecond}
	snap := FromResult(res, time.Date(2025, 11, 14, 10, 0, 0, 0, time.FixedZone("CET", 3600)))

	res.Values["A"] = 2
	assert.Equal(t, 1.0, snap.Values["A"])
	assert.Equal(t, int64(1500), snap.ElapsedMs)
	assert.Equal(t, time.UTC, snap.Timestamp.Location())
}
