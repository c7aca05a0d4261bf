package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenBucket_BurstThenBlocks(t *testing.T) {
	tb := NewTokenBucket(1, 2)

	require.NoError(t, tb.Wait(context.Background()))
	require.NoError(t, tb.Wait(context.Background()))

	// Bucket is empty; a third call must wait ~1s, so a short deadline trips.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestTokenBucket_Refills(t *testing.T) {
	tb := NewTokenBucket(100, 1)

	require.NoError(t, tb.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	require.Less(t, time.Since(start), time.Second)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func bucketWithClock(rate float64, burst int) (*TokenBucket, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	tb := NewTokenBucket(rate, burst)
	tb.now = clock.now
	tb.last = clock.t
	return tb, clock
}

func TestTokenBucket_Allow(t *testing.T) {
	tb, clock := bucketWithClock(1, 2)

	require.True(t, tb.Allow())
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	clock.advance(500 * time.Millisecond)
	require.False(t, tb.Allow())

	clock.advance(500 * time.Millisecond)
	require.True(t, tb.Allow())

	// Refill never exceeds the burst.
	clock.advance(time.Hour)
	require.True(t, tb.Allow())
	require.True(t, tb.Allow())
	require.False(t, tb.Allow())
}

func TestTokenBucket_Reserve(t *testing.T) {
	tb, clock := bucketWithClock(5.0/60.0, 1)

	require.Zero(t, tb.Reserve())
	require.InDelta(t, float64(12*time.Second), float64(tb.Reserve()), float64(time.Millisecond))

	// A refused reservation consumes nothing.
	clock.advance(6 * time.Second)
	require.InDelta(t, float64(6*time.Second), float64(tb.Reserve()), float64(time.Millisecond))

	clock.advance(7 * time.Second)
	require.Zero(t, tb.Reserve())
}

func TestTokenBucket_WaitCanceled(t *testing.T) {
	tb := NewTokenBucket(1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, tb.Wait(ctx), context.Canceled)
}

func TestPerMinute(t *testing.T) {
	tb := PerMinute(5, 1)
	require.InDelta(t, 5.0/60.0, tb.rate, 1e-9)
	require.Equal(t, 1.0, tb.capacity)
}

func TestMinInterval(t *testing.T) {
	m := &MinInterval{Interval: 30 * time.Millisecond}

	require.NoError(t, m.Wait(context.Background()))
	start := time.Now()
	require.NoError(t, m.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMinInterval_Canceled(t *testing.T) {
	m := &MinInterval{Interval: time.Hour}
	require.NoError(t, m.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.Wait(ctx), context.Canceled)
}

func TestUnlimited(t *testing.T) {
	var l Limiter = Unlimited{}
	require.NoError(t, l.Wait(context.Background()))
}
