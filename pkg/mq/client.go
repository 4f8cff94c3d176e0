// Package mq provides a RabbitMQ client for measurement batches with
// automatic reconnection and confirmed publishing.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/team13Uni/wedro/pkg/metrics"
)

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2

	// Maximum number of publish attempts before giving up.
	maxRetryAttempts = 5

	defaultContentType = "application/json"

	// transport labels broker metrics.
	transport = "amqp"
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Config holds the configuration for a Client.
type Config struct {
	URL   string
	Queue string
	// Durable declares the queue durable and publishes persistent messages.
	Durable bool
	// Prefetch bounds unacknowledged deliveries per consumer. Defaults to 1.
	Prefetch int
	// ContentType of published messages. Defaults to application/json.
	ContentType string
	Logger      *slog.Logger
	Metrics     *metrics.MQMetrics
}

// Client is a RabbitMQ client bound to a single queue.
type Client struct {
	m               sync.Mutex
	closeOnce       sync.Once
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queue           string
	durable         bool
	prefetch        int
	contentType     string
	isReady         bool
	metrics         *metrics.MQMetrics
}

// New creates a Client and starts connecting to the server in the background.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mq config cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("mq url cannot be empty")
	}

	if cfg.Queue == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	client := &Client{
		logger:      cfg.Logger.With(slog.String("queue", cfg.Queue)),
		done:        make(chan struct{}),
		queue:       cfg.Queue,
		durable:     cfg.Durable,
		prefetch:    prefetch,
		contentType: contentType,
		metrics:     cfg.Metrics,
	}
	go client.handleReconnect(cfg.URL)
	return client, nil
}

// Queue returns the name of the queue the client is bound to.
func (client *Client) Queue() string {
	return client.queue
}

// Ready reports whether the client currently holds an open channel.
func (client *Client) Ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()

	client.metrics.SetConnected(transport, ready)
}

// handleReconnect waits for a connection error on notifyConnClose and
// then keeps dialing until the client is closed.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.logger.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.Reconnects.WithLabelValues(transport).Inc()
		}

		conn, err := amqp.Dial(addr)
		if err != nil {
			client.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		client.changeConnection(conn)
		client.logger.Info("connected")

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

// handleReInit waits for a channel error and then re-initializes the channel.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.logger.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.logger.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.logger.Info("channel closed, re-running init")
		}
	}
}

// init opens a confirming channel and declares the queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		client.queue,
		client.durable, // Durable
		false,          // Delete when unused
		false,          // Exclusive
		false,          // No-wait
		nil,            // Arguments
	); err != nil {
		return err
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.logger.Info("client init done", "durable", client.durable)

	return nil
}

func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// Publish sends data to the queue and blocks until the broker confirms it.
// While disconnected, or after a failed or negatively acknowledged publish,
// it retries with exponential backoff up to maxRetryAttempts times.
func (client *Client) Publish(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.queue))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.logger.Error("maximum retry attempts exceeded", "attempts", attempt)
			client.publishFailed("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		if attempt > 0 {
			if err := client.wait(ctx, &backoff); err != nil {
				return err
			}
		}

		if !client.Ready() {
			client.logger.Info("not connected, waiting for reconnection", "attempt", attempt)
			continue
		}

		if err := client.TryPublish(ctx, data); err != nil {
			client.logger.Error("publish failed, retrying", "error", err, "attempt", attempt)
			continue
		}

		select {
		case <-ctx.Done():
			client.publishFailed("context_canceled")
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if !confirm.Ack {
				client.logger.Warn("publish not acknowledged, retrying", "delivery_tag", confirm.DeliveryTag)
				continue
			}
			if client.metrics != nil {
				client.metrics.Published.WithLabelValues(client.queue).Inc()
			}
			client.logger.Debug("publish confirmed", "delivery_tag", confirm.DeliveryTag, "attempt", attempt)
			return nil
		}
	}
}

// wait sleeps for the current backoff and doubles it up to maxBackoff.
func (client *Client) wait(ctx context.Context, backoff *time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.done:
		return errShutdown
	case <-time.After(*backoff):
	}
	*backoff *= backoffMultiplier
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return nil
}

func (client *Client) publishFailed(reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(client.queue, reason).Inc()
	}
}

// TryPublish sends data once without waiting for a broker confirmation.
func (client *Client) TryPublish(ctx context.Context, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	mode := amqp.Transient
	if client.durable {
		mode = amqp.Persistent
	}

	return ch.PublishWithContext(
		ctx,
		"",           // Exchange
		client.queue, // Routing key
		false,        // Mandatory
		false,        // Immediate
		amqp.Publishing{
			ContentType:  client.contentType,
			DeliveryMode: mode,
			Timestamp:    time.Now().UTC(),
			Body:         data,
		},
	)
}

// Consume starts delivering queue messages. Every delivery must be
// acknowledged with Ack or rejected with Nack.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return nil, errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	if err := ch.Qos(client.prefetch, 0, false); err != nil {
		return nil, err
	}

	return ch.Consume(
		client.queue,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Close stops reconnecting and shuts down the channel and connection.
func (client *Client) Close() error {
	client.closeOnce.Do(func() { close(client.done) })

	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		return errAlreadyClosed
	}
	client.isReady = false

	client.metrics.SetConnected(transport, false)

	if err := client.channel.Close(); err != nil {
		return err
	}
	return client.connection.Close()
}
