package producer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/team13Uni/wedro/internal/backend"
	"github.com/team13Uni/wedro/pkg/mq"
	"github.com/team13Uni/wedro/pkg/timeseries"
)

// TransportDryRun labels batches ingested without a broker.
const TransportDryRun = "dry_run"

// IngestPublisher feeds batches straight into an Ingestor backed by a
// MemoryStore, for runs without RabbitMQ.
type IngestPublisher struct {
	ingestor *backend.Ingestor
	store    *timeseries.MemoryStore
}

// NewIngestPublisher creates an IngestPublisher over a fresh MemoryStore.
func NewIngestPublisher(logger *slog.Logger) (*IngestPublisher, error) {
	store := timeseries.NewMemoryStore()
	ingestor, err := backend.NewIngestor(&backend.IngestorConfig{
		Store:    store,
		Stations: store,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	return &IngestPublisher{ingestor: ingestor, store: store}, nil
}

// Publish implements mq.Publisher.
func (p *IngestPublisher) Publish(ctx context.Context, data []byte) error {
	if _, err := p.ingestor.Ingest(ctx, TransportDryRun, data); err != nil {
		return fmt.Errorf("dry run ingest: %w", err)
	}
	return nil
}

// Close implements mq.Publisher.
func (p *IngestPublisher) Close() error {
	return nil
}

// Store returns the store batches were written to.
func (p *IngestPublisher) Store() *timeseries.MemoryStore {
	return p.store
}

var _ mq.Publisher = (*IngestPublisher)(nil)
