package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/team13Uni/wedro/pkg/metrics"
	"github.com/team13Uni/wedro/pkg/mq"
	"github.com/team13Uni/wedro/pkg/payload"
)

const readyPollInterval = 100 * time.Millisecond

// Consumer feeds measurement batches from a RabbitMQ queue to an Ingestor.
type Consumer struct {
	logger       *slog.Logger
	ingestor     *Ingestor
	client       mq.Consumer
	metrics      *metrics.BackendMetrics
	broker       *metrics.MQMetrics
	readyTimeout time.Duration
	started      atomic.Bool
	done         chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger   *slog.Logger
	Ingestor *Ingestor
	Client   mq.Consumer
	Metrics  *metrics.BackendMetrics
	// Broker counts delivery outcomes when set.
	Broker *metrics.MQMetrics
	// ReadyTimeout bounds the wait for the broker connection. Defaults to 30s.
	ReadyTimeout time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Ingestor == nil {
		return nil, errors.New("ingestor cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 30 * time.Second
	}

	return &Consumer{
		logger:       cfg.Logger.With(slog.String("component", "amqp_consumer")),
		ingestor:     cfg.Ingestor,
		client:       cfg.Client,
		metrics:      cfg.Metrics,
		broker:       cfg.Broker,
		readyTimeout: readyTimeout,
		done:         make(chan struct{}),
	}, nil
}

// Start waits for the broker connection and begins consuming in the background.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	if err := c.waitReady(ctx); err != nil {
		return err
	}

	deliveries, err := c.client.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started, waiting for messages")
	c.started.Store(true)
	if c.metrics != nil {
		c.metrics.ActiveConsumers.Inc()
	}

	go c.processMessages(ctx, deliveries)

	return nil
}

func (c *Consumer) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for !c.client.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("mq client not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// processMessages handles deliveries until ctx ends or the channel closes.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	if c.metrics != nil {
		defer c.metrics.ActiveConsumers.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery acks stored and malformed batches and nacks transient
// failures for redelivery.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	stored, err := c.ingestor.Ingest(ctx, TransportAMQP, delivery.Body)
	switch {
	case errors.Is(err, payload.ErrInvalid):
		c.logger.Warn("dropping invalid measurement batch",
			"delivery_tag", delivery.DeliveryTag,
			"error", err,
		)
		c.broker.Delivered(TransportAMQP, metrics.OutcomeDropped)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}

	case err != nil:
		c.logger.Error("failed to store measurement batch",
			"delivery_tag", delivery.DeliveryTag,
			"stored", stored,
			"error", err,
		)
		c.broker.Delivered(TransportAMQP, metrics.OutcomeRequeued)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}

	default:
		c.broker.Delivered(TransportAMQP, metrics.OutcomeStored)
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
			return
		}
		c.logger.Debug("measurement batch stored", "delivery_tag", delivery.DeliveryTag, "stored", stored)
	}
}

// Stop closes the MQ client and waits for message processing to finish.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if err := c.client.Close(); err != nil {
		c.logger.Warn("failed to close mq client", "error", err)
	}

	if !c.started.Load() {
		return nil
	}

	select {
	case <-c.done:
	case <-time.After(c.readyTimeout):
		return errors.New("timed out waiting for consumer to stop")
	}

	c.logger.Info("consumer stopped")
	return nil
}

// Done is closed once message processing has stopped.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}
