// Package mock provides test doubles for the mq interfaces.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/team13Uni/wedro/pkg/mq"
)

// MockClient records calls and returns configured results. The zero value
// publishes successfully and is ready.
type MockClient struct {
	mu sync.Mutex

	// PublishFunc is called when Publish is invoked. If nil, returns PublishError.
	PublishFunc  func(ctx context.Context, data []byte) error
	PublishError error
	// Published holds the payload of every Publish call.
	Published [][]byte

	// ConsumeFunc is called when Consume is invoked. If nil, returns
	// Deliveries and ConsumeError.
	ConsumeFunc  func() (<-chan amqp.Delivery, error)
	Deliveries   <-chan amqp.Delivery
	ConsumeError error
	ConsumeCalls int

	NotReady   bool
	CloseError error
	CloseCalls int
}

// Publish implements mq.Publisher.
func (m *MockClient) Publish(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Published = append(m.Published, append([]byte(nil), data...))

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, data)
	}
	return m.PublishError
}

// PublishedCount returns the number of Publish calls so far.
func (m *MockClient) PublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

// Consume implements mq.Consumer.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++

	if m.ConsumeFunc != nil {
		return m.ConsumeFunc()
	}
	return m.Deliveries, m.ConsumeError
}

// Ready implements mq.Consumer.
func (m *MockClient) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.NotReady
}

// Close implements mq.Publisher and mq.Consumer.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

var (
	_ mq.Publisher = (*MockClient)(nil)
	_ mq.Consumer  = (*MockClient)(nil)
)

// Acknowledger is an amqp.Acknowledger that records the outcome of each delivery.
type Acknowledger struct {
	mu      sync.Mutex
	Acked   []uint64
	Nacked  []uint64
	Requeue []bool
}

// Ack implements amqp.Acknowledger.
func (a *Acknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acked = append(a.Acked, tag)
	return nil
}

// Nack implements amqp.Acknowledger.
func (a *Acknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacked = append(a.Nacked, tag)
	a.Requeue = append(a.Requeue, requeue)
	return nil
}

// Reject implements amqp.Acknowledger.
func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Counts returns the number of acked and nacked deliveries.
func (a *Acknowledger) Counts() (acked, nacked int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Acked), len(a.Nacked)
}

// Snapshot returns copies of the acked tags, the nacked tags and their
// requeue flags.
func (a *Acknowledger) Snapshot() (acked, nacked []uint64, requeue []bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.Acked...),
		append([]uint64(nil), a.Nacked...),
		append([]bool(nil), a.Requeue...)
}

// Delivery builds a delivery carrying body that reports to a.
func (a *Acknowledger) Delivery(tag uint64, body []byte) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: a,
		DeliveryTag:  tag,
		ContentType:  "application/json",
		Body:         body,
	}
}
