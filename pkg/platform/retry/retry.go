// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. MaxRetries counts retries after the first
// attempt, so MaxRetries=2 allows three calls in total.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used for provider calls and ledger writes.
var DefaultPolicy = Policy{
	MaxRetries:      3,
	InitialInterval: 100 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Classifier reports whether a failed attempt may be retried.
type Classifier func(error) bool

// Always retries every error.
func Always(error) bool { return true }

// Notify is called before each sleep with the failure and the planned delay.
type Notify func(err error, next time.Duration)

// Do calls op until it succeeds, the classifier rejects the error, the policy
// is exhausted or ctx is done. The last error from op is returned.
func Do(ctx context.Context, p Policy, retryable Classifier, notify Notify, op func(ctx context.Context) error) error {
	if retryable == nil {
		retryable = Always
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	// Elapsed time is bounded by MaxRetries and ctx instead.
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxRetries), ctx)

	var lastErr error
	err := backoff.RetryNotify(func() error {
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, d time.Duration) {
		if notify != nil {
			notify(err, d)
		}
	})
	if err != nil && lastErr != nil {
		return lastErr
	}
	return err
}
