// Package lvar implements the variable request broker: name registration,
// subscribe commands, ingestion of host updates and bounded waits for values.
package lvar

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

const (
	// DefaultValue is returned for any variable whose value could not be obtained.
	DefaultValue = 0.0

	DefaultTimeout      = 250 * time.Millisecond
	DefaultPollInterval = 5 * time.Millisecond
	DefaultSettleDelay  = 200 * time.Millisecond
)

// Broker owns the registry and value store and talks to the host through a
// bridge.Transport.
type Broker struct {
	registry  *Registry
	commands  *CommandChannel
	transport bridge.Transport
	logger    *zap.Logger

	// order serializes registration and subscribe commands so names reach
	// the host in id order. The host publishes the k-th added name at slot k.
	order *semaphore.Weighted

	defaultTimeout time.Duration
	pollInterval   time.Duration
	settleDelay    time.Duration

	setups    atomic.Uint64
	ingested  atomic.Uint64
	discarded atomic.Uint64
}

type options struct {
	timeout      time.Duration
	pollInterval time.Duration
	settleDelay  time.Duration
	concurrency  int
	pace         time.Duration
}

// Option configures a Broker.
type Option func(*options)

// WithDefaultTimeout sets the wait used when Get is called with a
// non-positive timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithPollInterval sets the sleep between value checks while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithSettleDelay sets how long Clear waits after the clear command.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settleDelay = d }
}

// WithCommandGate sets the in-flight command limit and inter-send spacing.
func WithCommandGate(concurrency int, pace time.Duration) Option {
	return func(o *options) {
		o.concurrency = concurrency
		o.pace = pace
	}
}

// New sets up the client data areas on t and registers the broker as its
// data handler.
func New(t bridge.Transport, logger *zap.Logger, opts ...Option) *Broker {
	o := options{
		timeout:      DefaultTimeout,
		pollInterval: DefaultPollInterval,
		settleDelay:  DefaultSettleDelay,
		concurrency:  DefaultCommandConcurrency,
		pace:         DefaultCommandPace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}

	b := &Broker{
		registry:       NewRegistry(),
		commands:       NewCommandChannel(t, o.concurrency, o.pace, logger),
		transport:      t,
		logger:         logger,
		order:          semaphore.NewWeighted(1),
		defaultTimeout: o.timeout,
		pollInterval:   o.pollInterval,
		settleDelay:    o.settleDelay,
	}

	if err := bridge.Setup(t); err != nil {
		logger.Debug("client data setup", zap.Error(err))
	}
	t.SetDataHandler(b.HandleData)

	return b
}

// Ensure registers name and binds its slot without sending the subscribe
// command. A later Lookup sends it.
func (b *Broker) Ensure(name string) VariableID {
	if err := b.order.Acquire(context.Background(), 1); err != nil {
		// unreachable: a background context is never done
		return 0
	}
	defer b.order.Release(1)

	id, created := b.registry.Ensure(name)
	if created {
		b.subscribe(id)
	}
	return id
}

// Get returns the latest value of name, waiting up to timeout for the first
// update. Every failure yields DefaultValue.
func (b *Broker) Get(ctx context.Context, name string, timeout time.Duration) float64 {
	v, err := b.Lookup(ctx, name, timeout)
	if err != nil {
		return DefaultValue
	}
	return v
}

// Lookup is Get with the failure reason: ErrTimeout, ErrCleared, ErrEmptyName
// or the context's error.
func (b *Broker) Lookup(ctx context.Context, name string, timeout time.Duration) (float64, error) {
	if name == "" {
		return DefaultValue, ErrEmptyName
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	if _, value, ready, _ := b.registry.Peek(name); ready {
		return value, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id, err := b.register(callCtx, name)
	if err != nil {
		if perr := ctx.Err(); perr != nil {
			return DefaultValue, perr
		}
		return DefaultValue, ErrTimeout
	}

	return b.await(ctx, callCtx, id)
}

// register returns name's id and sends its subscribe command. A newly
// created id is bound on the host first. The subscribe is resent on every
// miss because the previous one may have been dropped.
func (b *Broker) register(ctx context.Context, name string) (VariableID, error) {
	if err := b.order.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer b.order.Release(1)

	id, created := b.registry.Ensure(name)
	if created {
		b.subscribe(id)
	}
	b.announce(ctx, name)
	return id, nil
}

func (b *Broker) announce(ctx context.Context, name string) {
	if err := b.commands.Send(ctx, SubscribeCommand(name)); err != nil {
		b.logger.Debug("subscribe command not sent", zap.String("name", name), zap.Error(err))
	}
}

func (b *Broker) await(parent, callCtx context.Context, id VariableID) (float64, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		value, updated, ok := b.registry.Value(id)
		if updated {
			return value, nil
		}
		if !ok {
			return DefaultValue, ErrCleared
		}

		select {
		case <-callCtx.Done():
			if value, updated, _ := b.registry.Value(id); updated {
				return value, nil
			}
			if err := parent.Err(); err != nil {
				return DefaultValue, err
			}
			return DefaultValue, ErrTimeout
		case <-ticker.C:
		}
	}
}

// subscribe binds the variable's slot and requests change-triggered delivery.
// Failures are expected when the host already knows the definition.
func (b *Broker) subscribe(id VariableID) {
	b.setups.Add(1)
	did := bridge.DefineID(id)
	if err := b.transport.DefineSlot(did, bridge.SlotOffset(did), bridge.SlotWidth); err != nil {
		b.logger.Debug("define slot", zap.Uint32("id", uint32(id)), zap.Error(err))
	}
	if err := b.transport.RequestDelivery(bridge.LVarsArea, did); err != nil {
		b.logger.Debug("request delivery", zap.Uint32("id", uint32(id)), zap.Error(err))
	}
}

// Clear forgets every variable, tells the host to drop its subscriptions and
// waits for the host to settle. Safe to call at any time.
func (b *Broker) Clear(ctx context.Context) {
	// An Add in flight must reach the host before the clear. The gate is
	// taken even when ctx is done; register holds it for one send at most.
	if err := b.order.Acquire(context.WithoutCancel(ctx), 1); err != nil {
		return
	}
	n := b.registry.Clear()
	if err := b.commands.Send(ctx, ClearCommand()); err != nil {
		b.logger.Debug("clear command not sent", zap.Error(err))
	}
	b.order.Release(1)
	b.logger.Debug("variables cleared", zap.Int("count", n))

	if b.settleDelay <= 0 {
		return
	}
	timer := time.NewTimer(b.settleDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Snapshot returns the current value store ordered by id.
func (b *Broker) Snapshot() []Record {
	return b.registry.Snapshot()
}

// Stats is a point-in-time view of broker counters.
type Stats struct {
	Registered     int    `json:"registered"`
	Setups         uint64 `json:"setups"`
	Ingested       uint64 `json:"ingested"`
	Discarded      uint64 `json:"discarded"`
	CommandsSent   uint64 `json:"commands_sent"`
	CommandsFailed uint64 `json:"commands_failed"`
}

func (b *Broker) Stats() Stats {
	sent, failed := b.commands.Counts()
	return Stats{
		Registered:     b.registry.Len(),
		Setups:         b.setups.Load(),
		Ingested:       b.ingested.Load(),
		Discarded:      b.discarded.Load(),
		CommandsSent:   sent,
		CommandsFailed: failed,
	}
}
