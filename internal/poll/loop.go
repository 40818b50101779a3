package poll

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/notify"
	"github.com/dgnsrekt/crewbridge/internal/sink"
)

// Publisher receives every snapshot the loop produces, e.g. the dashboard hub.
type Publisher interface {
	PublishSnapshot(snap *sink.Snapshot)
}

// Publishers fans a snapshot out to several publishers.
type Publishers []Publisher

func (ps Publishers) PublishSnapshot(snap *sink.Snapshot) {
	for _, p := range ps {
		p.PublishSnapshot(snap)
	}
}

type LoopConfig struct {
	Names    []string
	Interval time.Duration
	// DegradedRatio is the failure ratio at which a cycle counts as degraded.
	// Zero disables notifications.
	DegradedRatio float64
}

// Loop runs Execute on a fixed interval and hands the results on.
type Loop struct {
	manager   *Manager
	cfg       LoopConfig
	sink      sink.Sink
	notifier  notify.Notifier
	publisher Publisher
	logger    *zap.Logger

	mu            sync.RWMutex
	latest        *sink.Snapshot
	degradedSince time.Time
	cycles        int
}

func NewLoop(m *Manager, cfg LoopConfig, s sink.Sink, n notify.Notifier, logger *zap.Logger) *Loop {
	if s == nil {
		s = sink.Nop{}
	}
	if n == nil {
		n = &notify.NoopNotifier{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Loop{
		manager:  m,
		cfg:      cfg,
		sink:     s,
		notifier: n,
		logger:   logger,
	}
}

func (l *Loop) SetPublisher(p Publisher) {
	l.mu.Lock()
	l.publisher = p
	l.mu.Unlock()
}

// Run polls until ctx is done. The first cycle starts immediately.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("poll loop started",
		zap.Int("variables", len(l.cfg.Names)),
		zap.Duration("interval", l.cfg.Interval),
	)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := l.RunOnce(ctx); err != nil {
			l.logger.Error("poll cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			l.logger.Info("poll loop stopped", zap.Int("cycles", l.Cycles()))
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes one cycle. A cancelled cycle is neither stored nor
// forwarded.
func (l *Loop) RunOnce(ctx context.Context) (*sink.Snapshot, error) {
	started := time.Now()
	res, err := l.manager.Execute(ctx, l.cfg.Names)
	if err != nil {
		return nil, err
	}
	snap := FromResult(res, started)
	if res.Cancelled {
		return snap, nil
	}

	l.mu.Lock()
	l.latest = snap
	l.cycles++
	pub := l.publisher
	l.mu.Unlock()

	if pub != nil {
		pub.PublishSnapshot(snap)
	}

	if err := l.sink.Write(ctx, snap); err != nil {
		l.logger.Warn("sink write failed", zap.String("id", snap.ID), zap.Error(err))
	}

	l.checkHealth(ctx, snap, res.Errors)

	l.logger.Debug("poll cycle complete",
		zap.String("id", snap.ID),
		zap.Int("failed", snap.Failed),
		zap.Int64("elapsedMs", snap.ElapsedMs),
	)
	return snap, nil
}

func (l *Loop) checkHealth(ctx context.Context, snap *sink.Snapshot, errs []string) {
	if l.cfg.DegradedRatio <= 0 || snap.Total == 0 {
		return
	}

	degraded := snap.FailureRatio() >= l.cfg.DegradedRatio

	l.mu.Lock()
	since := l.degradedSince
	switch {
	case degraded && since.IsZero():
		l.degradedSince = snap.Timestamp
	case !degraded && !since.IsZero():
		l.degradedSince = time.Time{}
	}
	l.mu.Unlock()

	switch {
	case degraded && since.IsZero():
		l.logger.Warn("host link degraded",
			zap.Int("failed", snap.Failed),
			zap.Int("total", snap.Total),
		)
		if err := l.notifier.SendDegraded(ctx, snap, errs); err != nil {
			l.logger.Warn("failed to send degraded notification", zap.Error(err))
		}
	case !degraded && !since.IsZero():
		downFor := snap.Timestamp.Sub(since)
		l.logger.Info("host link recovered", zap.Duration("downFor", downFor))
		if err := l.notifier.SendRecovered(ctx, snap, downFor); err != nil {
			l.logger.Warn("failed to send recovered notification", zap.Error(err))
		}
	}
}

// Latest returns the most recent completed snapshot, or nil.
func (l *Loop) Latest() *sink.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

func (l *Loop) Cycles() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cycles
}

// Degraded reports whether the last cycle crossed the failure threshold.
func (l *Loop) Degraded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.degradedSince.IsZero()
}

// FromResult builds a snapshot with a fresh cycle id.
func FromResult(res *Result, at time.Time) *sink.Snapshot {
	values := make(map[string]float64, len(res.Values))
	for k, v := range res.Values {
		values[k] = v
	}
	return &sink.Snapshot{
		ID:        uuid.New().String(),
		Timestamp: at.UTC(),
		ElapsedMs: res.Elapsed.Milliseconds(),
		Total:     res.Total,
		Failed:    res.Failed,
		Cancelled: res.Cancelled,
		Values:    values,
	}
}
