// Package app builds the runtime pieces both binaries share from a loaded
// configuration: the bridge transport, the broker, the poll manager and the
// snapshot sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/crewbridge/internal/bridge"
	"github.com/dgnsrekt/crewbridge/internal/config"
	"github.com/dgnsrekt/crewbridge/internal/lvar"
	"github.com/dgnsrekt/crewbridge/internal/poll"
	"github.com/dgnsrekt/crewbridge/internal/sink"
	"github.com/dgnsrekt/crewbridge/internal/transport/simhost"
	"github.com/dgnsrekt/crewbridge/internal/transport/wsbridge"
)

// ErrZMQUnavailable is returned when the binary was built without the zmq tag.
var ErrZMQUnavailable = errors.New("zmq transport not compiled in (build with -tags zmq)")

// OpenTransport connects to the host through the configured transport.
func OpenTransport(ctx context.Context, cfg config.BridgeConfig, logger *zap.Logger) (bridge.Transport, error) {
	switch cfg.Transport {
	case config.TransportSim:
		opts := []simhost.Option{
			simhost.WithLatency(cfg.SimLatency),
			simhost.WithLogger(logger.Named("simhost")),
		}
		if cfg.SimDropRate > 0 {
			opts = append(opts, simhost.WithDropRate(cfg.SimDropRate, time.Now().UnixNano()))
		}
		logger.Info("using simulated host", zap.Duration("latency", cfg.SimLatency), zap.Float64("dropRate", cfg.SimDropRate))
		return simhost.New(opts...), nil

	case config.TransportWS:
		c, err := wsbridge.Dial(ctx, cfg.RelayURL, logger.Named("wsbridge"), wsbridge.WithCallTimeout(cfg.CallTimeout))
		if err != nil {
			return nil, fmt.Errorf("dialing relay %s: %w", cfg.RelayURL, err)
		}
		logger.Info("connected to relay", zap.String("url", cfg.RelayURL))
		return c, nil

	case config.TransportZMQ:
		return dialZMQ(cfg, logger.Named("zmqbridge"))

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// ServeZMQ exposes t over ZeroMQ until ctx is done.
func ServeZMQ(ctx context.Context, t bridge.Transport, cfg config.BridgeConfig, logger *zap.Logger) error {
	return serveZMQ(ctx, t, cfg, logger.Named("zmqbridge"))
}

// NewBroker builds the broker on t and, when configured, clears any
// subscriptions a previous session left on the host.
func NewBroker(ctx context.Context, t bridge.Transport, cfg config.BrokerConfig, logger *zap.Logger) *lvar.Broker {
	b := lvar.New(t, logger.Named("broker"),
		lvar.WithDefaultTimeout(cfg.Timeout),
		lvar.WithPollInterval(cfg.PollInterval),
		lvar.WithSettleDelay(cfg.SettleDelay),
		lvar.WithCommandGate(cfg.CommandConcurrency, cfg.CommandPace),
	)
	if cfg.ClearOnStart {
		b.Clear(ctx)
	}
	return b
}

// PollOptions maps the poll section onto manager options. Configured names
// are read as host expressions.
func PollOptions(cfg config.PollConfig) poll.Options {
	return poll.Options{
		Workers:       cfg.Workers,
		BatchSize:     cfg.BatchSize,
		TimeoutPerVar: cfg.TimeoutPerVar,
		BatchWait:     cfg.BatchWait,
		BatchPause:    cfg.BatchPause,
		ProgressEvery: cfg.ProgressEvery,
		Expression:    lvar.Expr,
	}
}

// NewManager builds a poll manager that logs progress.
func NewManager(f poll.Fetcher, cfg config.PollConfig, logger *zap.Logger) *poll.Manager {
	m := poll.NewManager(f, PollOptions(cfg), logger.Named("poll"))
	m.SetReporter(poll.LogReporter{Logger: logger.Named("progress")})
	return m
}

// BuildSink opens every enabled sink. Sinks opened before a failure are
// closed again.
func BuildSink(cfg *config.Config, logger *zap.Logger) (sink.Sink, error) {
	var sinks sink.Multi

	if cfg.Output.Enabled {
		sinks = append(sinks, sink.NewFileSink(cfg.Output.Directory, cfg.Output.Compress, logger.Named("file")))
	}

	if cfg.MQTT.Enabled {
		s, err := sink.NewMQTTSink(sink.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Retained: cfg.MQTT.Retained,
			Timeout:  cfg.MQTT.Timeout,
		}, logger.Named("mqtt"))
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("opening mqtt sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	if cfg.AMQP.Enabled {
		s, err := sink.NewAMQPSink(sink.AMQPConfig{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
		}, logger.Named("amqp"))
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("opening amqp sink: %w", err)
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return sink.Nop{}, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

// LoopConfig maps the poll section onto loop settings.
func LoopConfig(cfg *config.Config) poll.LoopConfig {
	return poll.LoopConfig{
		Names:         cfg.Variables,
		Interval:      cfg.Poll.Interval,
		DegradedRatio: cfg.Poll.DegradedRatio,
	}
}
