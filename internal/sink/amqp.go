package sink

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPConfig configures AMQPSink.
type AMQPConfig struct {
	URL        string
	Exchange   string
	RoutingKey string
}

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes each snapshot to a durable topic exchange.
type AMQPSink struct {
	conn       *amqp.Connection
	ch         amqpChannel
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewAMQPSink dials the broker and declares the exchange.
func NewAMQPSink(cfg AMQPConfig, logger *zap.Logger) (*AMQPSink, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", cfg.Exchange, err)
	}

	logger.Info("amqp sink connected",
		zap.String("exchange", cfg.Exchange),
		zap.String("routingKey", cfg.RoutingKey),
	)

	s := newAMQPSink(ch, cfg, logger)
	s.conn = conn
	return s, nil
}

func newAMQPSink(ch amqpChannel, cfg AMQPConfig, logger *zap.Logger) *AMQPSink {
	return &AMQPSink{
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger,
	}
}

func (a *AMQPSink) Write(ctx context.Context, snap *Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    snap.ID,
		Timestamp:    snap.Timestamp,
		Body:         body,
	}
	if err := a.ch.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	return nil
}

func (a *AMQPSink) Close() error {
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
