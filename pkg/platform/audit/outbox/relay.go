// Package outbox relays audit events written to the outbox table onto the
// event bus.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Entry is one unpublished outbox row. Key is the aggregate id so every
// event of a user lands on the same partition.
type Entry struct {
	ID        uuid.UUID
	Key       string
	EventType string
	Payload   []byte
}

// Source hands out batches of unpublished entries. fn runs while the batch is
// claimed; entries are marked published only when fn returns nil.
type Source interface {
	ProcessBatch(ctx context.Context, limit int, fn func(ctx context.Context, entries []Entry) error) (int, error)
}

// Producer publishes entries synchronously and returns once the bus acked them.
type Producer interface {
	Publish(ctx context.Context, entries []Entry) error
}

type Relay struct {
	source    Source
	producer  Producer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func NewRelay(source Source, producer Producer, opts ...Option) *Relay {
	r := &Relay{
		source:    source,
		producer:  producer,
		logger:    slog.New(slog.DiscardHandler),
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is done. A full batch is followed immediately by the
// next one; otherwise the relay sleeps for the interval.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.RelayOnce(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
		}
		if err == nil && n == r.batchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and reports how many entries were sent.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	return r.source.ProcessBatch(ctx, r.batchSize, r.producer.Publish)
}
