package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrPublishTimeout = errors.New("publish not acknowledged in time")

// MQTTConfig configures MQTTSink.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retained bool
	Timeout  time.Duration
}

// mqttPublisher is the part of mqtt.Client the sink needs.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTSink publishes each snapshot as JSON to a topic.
type MQTTSink struct {
	client   mqttPublisher
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
	logger   *zap.Logger
}

// NewMQTTSink connects to the broker.
func NewMQTTSink(cfg MQTTConfig, logger *zap.Logger) (*MQTTSink, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "crewbridge-" + uuid.New().String()[:8]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}

	logger.Info("mqtt sink connected",
		zap.String("broker", cfg.Broker),
		zap.String("topic", cfg.Topic),
		zap.String("clientID", cfg.ClientID),
	)

	return newMQTTSink(client, cfg, logger), nil
}

func newMQTTSink(client mqttPublisher, cfg MQTTConfig, logger *zap.Logger) *MQTTSink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &MQTTSink{
		client:   client,
		topic:    cfg.Topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
}

func (m *MQTTSink) Write(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	token := m.client.Publish(m.topic, m.qos, m.retained, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	case <-time.After(m.timeout):
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", m.topic, err)
	}

	m.logger.Debug("snapshot published", zap.String("topic", m.topic), zap.String("id", snap.ID))
	return nil
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}
