package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// MinInterval enforces a minimum time between calls.
// Concurrent callers wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	Interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func (m *MinInterval) Wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	for {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		if wait <= 0 {
			m.last = time.Now()
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
