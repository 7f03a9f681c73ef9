package circuit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newProviderBreaker(clock *fakeClock, opts ...Option) *Breaker {
	base := []Option{WithFailureThreshold(2), WithCoolDown(30 * time.Second), WithClock(clock.Now)}
	return New("exchange", append(base, opts...)...)
}

func TestBreaker_OutageOpensAfterConsecutiveFailures(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newProviderBreaker(clock)

	require.Equal(t, "exchange", b.Name())
	require.True(t, b.AllowProbe(), "closed breaker admits every call")

	useFallback, change := b.RecordFailure()
	assert.False(t, useFallback)
	assert.False(t, change.Opened)

	// A reachable provider between timeouts restarts the count.
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	useFallback, change = b.RecordFailure()
	assert.True(t, useFallback)
	assert.True(t, change.Opened)
	assert.Equal(t, "open", b.State().String())
	assert.False(t, b.AllowProbe(), "calls fail fast during the cool-down")

	_, change = b.RecordFailure()
	assert.False(t, change.Opened, "already open")
}

func TestBreaker_OneTrialCallAfterCoolDown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newProviderBreaker(clock)
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.IsOpen())

	clock.Advance(29 * time.Second)
	assert.False(t, b.AllowProbe())
	clock.Advance(time.Second)

	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.AllowProbe() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), allowed.Load(), "only one caller reaches a recovering provider")

	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.True(t, b.AllowProbe())
	assert.True(t, b.AllowProbe())
}

func TestBreaker_FailedTrialRestartsCoolDown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newProviderBreaker(clock)
	b.RecordFailure()
	b.RecordFailure()

	clock.Advance(30 * time.Second)
	require.True(t, b.AllowProbe())
	assert.False(t, b.AllowProbe())

	useFallback, change := b.RecordFailure()
	assert.True(t, useFallback)
	assert.False(t, change.Opened)
	assert.False(t, b.AllowProbe(), "cool-down starts over from the failed trial")

	clock.Advance(30 * time.Second)
	assert.True(t, b.AllowProbe())
}

func TestBreaker_UnrecordedTrialExpires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newProviderBreaker(clock)
	b.RecordFailure()
	b.RecordFailure()

	clock.Advance(30 * time.Second)
	require.True(t, b.AllowProbe())

	clock.Advance(10 * time.Second)
	assert.False(t, b.AllowProbe())
	clock.Advance(20 * time.Second)
	assert.True(t, b.AllowProbe(), "a lost outcome frees the slot after another cool-down")
}

func TestBreaker_RecoveryNeedsSuccessThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := newProviderBreaker(clock, WithSuccessThreshold(2))
	b.RecordFailure()
	b.RecordFailure()
	clock.Advance(time.Minute)

	require.True(t, b.AllowProbe())
	usePrimary, change := b.RecordSuccess()
	assert.False(t, usePrimary)
	assert.False(t, change.Closed)
	assert.True(t, b.IsOpen())

	require.True(t, b.AllowProbe(), "recorded success frees the slot for the next trial")
	usePrimary, change = b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ZeroCoolDownAndReset(t *testing.T) {
	b := New("identity", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())
	assert.True(t, b.AllowProbe())
	assert.True(t, b.AllowProbe(), "zero cool-down never holds the slot")

	b.Reset()
	assert.False(t, b.IsOpen())
	assert.Equal(t, "closed", b.State().String())
}
