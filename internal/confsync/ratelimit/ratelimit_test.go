package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AcquiresWithinBudget(t *testing.T) {
	l := NewLimiter(1000) // effectively unlimited for this test
	l.OnTimeoutSleep = time.Millisecond

	ok := l.TryAcquire(context.Background(), 50*time.Millisecond)
	assert.True(t, ok)
}

func TestLimiter_NeverDropsAWake(t *testing.T) {
	l := NewLimiter(0.001) // one token roughly every 1000s
	l.OnTimeoutSleep = 5 * time.Millisecond
	l.TryAcquire(context.Background(), time.Millisecond) // consume the initial burst token

	start := time.Now()
	l.TryAcquire(context.Background(), time.Millisecond)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond, "timeout path must still sleep before returning")
}

func TestDefaultLimiters(t *testing.T) {
	assert.NotNil(t, NewFetchLimiter())
	assert.NotNil(t, NewLongPollLimiter())
}
