// Package publisher fans domain audit events into an audit.Store.
//
// In synchronous mode Emit returns the store's error so callers can fail
// closed. With WithAsyncBuffer, Emit enqueues and a single goroutine drains
// the buffer; Close flushes whatever is still queued.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "tiergate/pkg/domain"
	audit "tiergate/pkg/platform/audit"
)

var (
	ErrBufferFull = errors.New("audit buffer full")
	ErrClosed     = errors.New("audit publisher closed")
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

type queued struct {
	ctx   context.Context
	event audit.Event
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to buffered, non-blocking emission.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan queued, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queue != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit records event, filling in Timestamp and Category when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.queue == nil {
		return p.store.Append(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	// Detach from request cancellation; the request may finish before the
	// buffered write happens.
	item := queued{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case p.queue <- item:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WarnContext(ctx, "audit buffer full, dropping event",
		"action", event.Action,
		"user_id", event.UserID,
	)
	return ErrBufferFull
}

// List returns the events recorded for userID.
func (p *Publisher) List(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	return p.store.ListByUser(ctx, userID)
}

func (p *Publisher) drain() {
	defer close(p.done)
	for item := range p.queue {
		if err := p.store.Append(item.ctx, item.event); err != nil {
			p.logger.ErrorContext(item.ctx, "failed to persist audit event",
				"action", item.event.Action,
				"user_id", item.event.UserID,
				"error", err,
			)
		}
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (p *Publisher) Close() {
	if p.queue == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}
