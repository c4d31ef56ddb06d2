// Package ratelimit provides the token-bucket gate in front of outbound
// config-fetch and long-poll requests (spec §4.2, component C2).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter with the spec's
// "tryAcquire(timeout), proceed anyway after an extra sleep on timeout"
// semantics: the limiter is defensive pacing, never a hard gate that could
// drop a long-poll wake.
type Limiter struct {
	limiter *rate.Limiter
	// OnTimeoutSleep is the fixed extra sleep applied when no token is
	// acquired within the requested timeout, before the caller proceeds
	// anyway. Defaults to 200ms.
	OnTimeoutSleep time.Duration
}

// NewLimiter builds a Limiter allowing qps requests per second.
func NewLimiter(qps float64) *Limiter {
	burst := 1
	if qps > 1 {
		burst = int(qps)
	}
	return &Limiter{
		limiter:        rate.NewLimiter(rate.Limit(qps), burst),
		OnTimeoutSleep: 200 * time.Millisecond,
	}
}

// NewFetchLimiter returns the default config-fetch limiter: 2 QPS.
func NewFetchLimiter() *Limiter { return NewLimiter(2) }

// NewLongPollLimiter returns the default long-poll limiter: 1 QPS.
func NewLongPollLimiter() *Limiter { return NewLimiter(1) }

// TryAcquire waits up to timeout for one token. It always returns —
// even on timeout it sleeps OnTimeoutSleep and returns, since a dropped
// wake is worse than a late one (spec §4.2: "defensive — never drop a
// wake"). The return value reports whether a token was actually acquired
// within the timeout, for metrics/observability only.
func (l *Limiter) TryAcquire(ctx context.Context, timeout time.Duration) bool {
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.limiter.Wait(acquireCtx); err != nil {
		timer := time.NewTimer(l.OnTimeoutSleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		return false
	}
	return true
}
