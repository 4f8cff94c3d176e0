package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends measurement batches to a queue.
type Publisher interface {
	// Publish blocks until the broker confirms the message.
	Publish(ctx context.Context, data []byte) error
	Close() error
}

// Consumer receives measurement batches from a queue.
type Consumer interface {
	// Consume starts delivering messages. Every delivery must be
	// acknowledged with Ack or rejected with Nack.
	Consume() (<-chan amqp.Delivery, error)
	Ready() bool
	Close() error
}

var (
	_ Publisher = (*Client)(nil)
	_ Consumer  = (*Client)(nil)
)
