package providers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tiergate/pkg/platform/circuit"
	"tiergate/pkg/platform/retry"
)

const defaultTimeout = 2 * time.Second

// caller runs one provider operation under a per-attempt deadline, bounded
// retries of retryable failures and a circuit breaker.
type caller struct {
	provider string
	timeout  time.Duration
	policy   retry.Policy
	breaker  *circuit.Breaker
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*caller)

// WithTimeout bounds each attempt, not the whole call.
func WithTimeout(d time.Duration) Option {
	return func(c *caller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *caller) {
		c.policy = p
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *caller) {
		if b != nil {
			c.breaker = b
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *caller) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *caller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *caller) {
		if t != nil {
			c.tracer = t
		}
	}
}

func newCaller(provider string, opts ...Option) *caller {
	c := &caller{
		provider: provider,
		timeout:  defaultTimeout,
		policy:   retry.DefaultPolicy,
		breaker:  circuit.New(provider),
		logger:   slog.Default(),
		tracer:   otel.Tracer("tiergate/providers"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *caller) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "provider."+operation, trace.WithAttributes(
		attribute.String("provider", c.provider),
	))
	defer span.End()

	if !c.breaker.AllowProbe() {
		err := NewError(CategoryUnavailable, c.provider, "circuit open", nil)
		err.Retryable = false
		c.finish(span, operation, start, err)
		return err
	}

	attempts := 0
	err := retry.Do(ctx, c.policy, IsRetryable, func(err error, next time.Duration) {
		c.logger.WarnContext(ctx, "provider call failed, retrying",
			"provider", c.provider,
			"operation", operation,
			"category", string(CategoryOf(err)),
			"retry_in", next,
		)
	}, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.classify(attemptCtx, fn(attemptCtx))
	})
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err != nil && IsInfrastructure(err) {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.ErrorContext(ctx, "provider circuit opened", "provider", c.provider)
			c.setBreakerGauge(1)
		}
	} else {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "provider circuit closed", "provider", c.provider)
			c.setBreakerGauge(0)
		}
	}

	c.finish(span, operation, start, err)
	return err
}

// classify normalizes an attempt's error. Deadline and unknown transport
// failures are retryable; a cancelled parent is not.
func (c *caller) classify(attemptCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return NewError(CategoryTimeout, c.provider, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		cancelled := NewError(CategoryUnavailable, c.provider, "request cancelled", err)
		cancelled.Retryable = false
		return cancelled
	}
	return NewError(CategoryUnavailable, c.provider, "provider call failed", err)
}

func (c *caller) finish(span trace.Span, operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(CategoryOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	if c.metrics != nil {
		c.metrics.observe(c.provider, operation, outcome, start)
	}
}

func (c *caller) setBreakerGauge(v float64) {
	if c.metrics != nil {
		c.metrics.BreakerOpen.WithLabelValues(c.provider).Set(v)
	}
}

// IsInfrastructure reports failures that say nothing about the request
// itself: timeouts and outages. Only these count against the breaker.
func IsInfrastructure(err error) bool {
	switch CategoryOf(err) {
	case CategoryTimeout, CategoryUnavailable:
		return true
	default:
		return false
	}
}

// ResilientIdentity decorates an IdentityProvider.
type ResilientIdentity struct {
	next IdentityProvider
	c    *caller
}

func NewResilientIdentity(next IdentityProvider, opts ...Option) *ResilientIdentity {
	return &ResilientIdentity{next: next, c: newCaller("identity", opts...)}
}

func (r *ResilientIdentity) CreateAccount(ctx context.Context, email string, profile Profile) (string, error) {
	var id string
	err := r.c.call(ctx, "create_account", func(ctx context.Context) error {
		var err error
		id, err = r.next.CreateAccount(ctx, email, profile)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *ResilientIdentity) DeleteAccount(ctx context.Context, identityID string) error {
	return r.c.call(ctx, "delete_account", func(ctx context.Context) error {
		return r.next.DeleteAccount(ctx, identityID)
	})
}

// ResilientExchange decorates an ExchangeAccountProvider.
type ResilientExchange struct {
	next ExchangeAccountProvider
	c    *caller
}

func NewResilientExchange(next ExchangeAccountProvider, opts ...Option) *ResilientExchange {
	return &ResilientExchange{next: next, c: newCaller("exchange", opts...)}
}

func (r *ResilientExchange) CreateSubAccount(ctx context.Context, identityID string, profile Profile) (string, error) {
	var id string
	err := r.c.call(ctx, "create_sub_account", func(ctx context.Context) error {
		var err error
		id, err = r.next.CreateSubAccount(ctx, identityID, profile)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
