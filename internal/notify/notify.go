package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/crewbridge/internal/sink"
)

// Notifier reports host link health transitions.
type Notifier interface {
	SendDegraded(ctx context.Context, snap *sink.Snapshot, errs []string) error
	SendRecovered(ctx context.Context, snap *sink.Snapshot, downFor time.Duration) error
}

// message is one ntfy publish.
type message struct {
	Title    string
	Body     string
	Tags     string
	Priority string
}

// Client publishes link health messages to an ntfy topic.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger

	// degraded limits degraded alerts when the link flaps.
	degraded *rate.Limiter
}

func NewClient(cfg *Config, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger,
		degraded:   rate.NewLimiter(limit, 1),
	}
}

// SendDegraded reports a cycle whose failure ratio crossed the threshold.
// Alerts inside the cooldown window are logged and skipped.
func (c *Client) SendDegraded(ctx context.Context, snap *sink.Snapshot, errs []string) error {
	if !c.config.Enabled {
		return nil
	}
	if !c.degraded.Allow() {
		c.logger.Info("degraded notification suppressed", zap.String("cycle", snap.ID))
		return nil
	}

	return c.publish(ctx, message{
		Title:    fmt.Sprintf("Sim link degraded: %s", c.config.Host),
		Body:     FormatDegradedMessage(snap, errs),
		Tags:     joinTags(c.config.Tags, "warning"),
		Priority: "high",
	})
}

// SendRecovered reports the first healthy cycle after a degraded one.
func (c *Client) SendRecovered(ctx context.Context, snap *sink.Snapshot, downFor time.Duration) error {
	if !c.config.Enabled {
		return nil
	}

	return c.publish(ctx, message{
		Title:    fmt.Sprintf("Sim link recovered: %s", c.config.Host),
		Body:     FormatRecoveredMessage(snap, downFor),
		Tags:     joinTags(c.config.Tags, "white_check_mark"),
		Priority: c.config.Priority,
	})
}

func (c *Client) topicURL() string {
	return strings.TrimSuffix(c.config.Server, "/") + "/" + c.config.Topic
}

func (c *Client) publish(ctx context.Context, m message) error {
	url := c.topicURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(m.Body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", m.Title)
	req.Header.Set("Tags", m.Tags)
	if m.Priority != "" {
		req.Header.Set("Priority", m.Priority)
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.String("title", m.Title), zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", m.Title))
	return nil
}

func joinTags(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "," + extra
}

// NoopNotifier is used when notifications are disabled.
type NoopNotifier struct{}

func (n *NoopNotifier) SendDegraded(context.Context, *sink.Snapshot, []string) error {
	return nil
}

func (n *NoopNotifier) SendRecovered(context.Context, *sink.Snapshot, time.Duration) error {
	return nil
}

// New returns a Client when cfg is enabled and a NoopNotifier otherwise.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
