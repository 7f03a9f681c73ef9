package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, nil, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsWhenExhausted(t *testing.T) {
	calls := 0
	notified := 0
	boom := errors.New("down")
	err := Do(context.Background(), fast, nil, func(error, time.Duration) { notified++ }, func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, notified)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	rejected := errors.New("rejected")
	err := Do(context.Background(), fast, func(err error) bool { return !errors.Is(err, rejected) }, nil, func(context.Context) error {
		calls++
		return rejected
	})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
}

func TestDo_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxRetries: 10, InitialInterval: 50 * time.Millisecond}, nil, nil, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}
