package lvar

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
)

const (
	subscribePrefix = "MF.SimVars.Add."
	setPrefix       = "MF.SimVars.Set."
	clearCommand    = "MF.SimVars.Clear"

	DefaultCommandConcurrency = 5
	DefaultCommandPace        = 3 * time.Millisecond
)

// SubscribeCommand asks the host to start publishing name.
func SubscribeCommand(name string) string { return subscribePrefix + name }

// SetCommand asks the host to execute calculator code.
func SetCommand(code string) string { return setPrefix + code }

// ClearCommand drops every host-side subscription.
func ClearCommand() string { return clearCommand }

// EncodeFrame encodes command into a NUL padded frame of exactly size bytes.
// At most size-2 characters are kept and non-ASCII characters are dropped.
func EncodeFrame(command string, size int) []byte {
	frame := make([]byte, size)
	limit := size - 2
	n, chars := 0, 0
	for _, r := range command {
		if chars >= limit {
			break
		}
		chars++
		if r == utf8.RuneError || r > 0x7f {
			continue
		}
		frame[n] = byte(r)
		n++
	}
	return frame
}

// CommandChannel writes text commands into the command area. Sends share a
// gate of at most K in-flight writes and a global minimum spacing.
type CommandChannel struct {
	transport bridge.Transport
	area      bridge.AreaID
	frameSize int
	gate      *semaphore.Weighted
	limiter   *rate.Limiter
	logger    *zap.Logger

	sent   atomic.Uint64
	failed atomic.Uint64
}

func NewCommandChannel(t bridge.Transport, concurrency int, pace time.Duration, logger *zap.Logger) *CommandChannel {
	if concurrency < 1 {
		concurrency = DefaultCommandConcurrency
	}
	limit := rate.Inf
	if pace > 0 {
		limit = rate.Every(pace)
	}
	return &CommandChannel{
		transport: t,
		area:      bridge.CommandArea,
		frameSize: bridge.CommandFrameSize,
		gate:      semaphore.NewWeighted(int64(concurrency)),
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}
}

// Send transmits one command. The returned error is informational: commands
// are fire-and-forget and callers rely on their own timeouts.
func (c *CommandChannel) Send(ctx context.Context, command string) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("command gate: %w", err)
	}
	defer c.gate.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		c.failed.Add(1)
		return fmt.Errorf("command pacing: %w", err)
	}

	if err := c.transport.WriteCommand(c.area, EncodeFrame(command, c.frameSize)); err != nil {
		c.failed.Add(1)
		c.logger.Debug("command write failed", zap.String("command", command), zap.Error(err))
		return fmt.Errorf("writing command: %w", err)
	}

	c.sent.Add(1)
	return nil
}

// Counts returns the number of sent and failed commands.
func (c *CommandChannel) Counts() (sent, failed uint64) {
	return c.sent.Load(), c.failed.Load()
}
