package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/payload"
)

// MQTTConfig holds the configuration for an MQTTSubscriber.
type MQTTConfig struct {
	Logger   *slog.Logger
	Ingestor *Ingestor
	// Broker is the broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	// Topic may contain wildcards. Defaults to wedro/stations/+/measurements.
	Topic    string
	Username string
	Password string
	// HandleTimeout bounds the storage of one message. Defaults to 10s.
	HandleTimeout time.Duration
	QoS           byte
	// Metrics counts delivery outcomes and connection state when set.
	Metrics *metrics.MQMetrics
}

// MQTTSubscriber feeds measurement batches published over MQTT to an Ingestor.
type MQTTSubscriber struct {
	client        mqtt.Client
	ingestor      *Ingestor
	logger        *slog.Logger
	topic         string
	qos           byte
	handleTimeout time.Duration
	metrics       *metrics.MQMetrics

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// DefaultMQTTTopic is subscribed to when MQTTConfig.Topic is empty.
const DefaultMQTTTopic = "wedro/stations/+/measurements"

// NewMQTTSubscriber creates a subscriber. Connect starts it.
func NewMQTTSubscriber(cfg *MQTTConfig) (*MQTTSubscriber, error) {
	if cfg == nil {
		return nil, errors.New("mqtt config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}

	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker cannot be empty")
	}

	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}

	handleTimeout := cfg.HandleTimeout
	if handleTimeout <= 0 {
		handleTimeout = 10 * time.Second
	}

	s := &MQTTSubscriber{
		ingestor:      cfg.Ingestor,
		logger:        cfg.Logger.With(slog.String("component", "mqtt_subscriber")),
		topic:         topic,
		qos:           cfg.QoS,
		handleTimeout: handleTimeout,
		metrics:       cfg.Metrics,
		stopCh:        make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	// Subscriptions do not survive a clean-session reconnect, so every
	// (re)connect subscribes again.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info("mqtt connected", "broker", cfg.Broker)
		if err := s.subscribe(c); err != nil {
			s.logger.Error("mqtt subscribe failed", "topic", s.topic, "error", err)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.setConnected(false)
		s.logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if s.metrics != nil {
			s.metrics.Reconnects.WithLabelValues(TransportMQTT).Inc()
		}
		s.logger.Info("mqtt reconnecting", "broker", cfg.Broker)
	})

	s.client = mqtt.NewClient(opts)
	return s, nil
}

// Connect connects to the broker, waiting until ctx ends or Disconnect is called.
func (s *MQTTSubscriber) Connect(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return errors.New("subscriber stopped")
	default:
	}

	if s.IsConnected() {
		return nil
	}

	token := s.client.Connect()

	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			s.client.Disconnect(0)
			return ctx.Err()
		case <-s.stopCh:
			s.client.Disconnect(0)
			return errors.New("subscriber stopped")
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *MQTTSubscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), s.handleTimeout)
		defer cancel()
		_ = s.Handle(ctx, msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.topic, err)
	}

	s.logger.Info("subscribed to mqtt topic", "topic", s.topic, "qos", s.qos)
	return nil
}

// Handle ingests one MQTT message. Failures are logged; MQTT has no
// negative acknowledgement, so a failed batch is dropped.
func (s *MQTTSubscriber) Handle(ctx context.Context, topic string, data []byte) error {
	s.logger.Debug("received mqtt message", "topic", topic, "size", len(data))

	stored, err := s.ingestor.Ingest(ctx, TransportMQTT, data)
	switch {
	case errors.Is(err, payload.ErrInvalid):
		s.logger.Warn("dropping invalid measurement batch", "topic", topic, "error", err)
		s.metrics.Delivered(TransportMQTT, metrics.OutcomeDropped)
	case err != nil:
		s.logger.Error("failed to store measurement batch", "topic", topic, "stored", stored, "error", err)
		s.metrics.Delivered(TransportMQTT, metrics.OutcomeFailed)
	default:
		s.logger.Debug("measurement batch stored", "topic", topic, "stored", stored)
		s.metrics.Delivered(TransportMQTT, metrics.OutcomeStored)
	}
	return err
}

// IsConnected reports whether the broker connection is up.
func (s *MQTTSubscriber) IsConnected() bool {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	return connected && s.client.IsConnected()
}

// Disconnect unsubscribes and closes the connection. Safe to call repeatedly.
func (s *MQTTSubscriber) Disconnect() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	if s.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(2 * time.Second)
	}
	s.client.Disconnect(250)

	s.setConnected(false)
	s.logger.Info("mqtt subscriber disconnected")
}

func (s *MQTTSubscriber) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
	s.metrics.SetConnected(TransportMQTT, v)
}
