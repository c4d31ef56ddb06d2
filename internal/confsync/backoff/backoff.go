// Package backoff implements the exponential-with-cap retry schedule used
// by the Remote Repository and the Long-Poll Notifier (spec §4.2). Unlike
// a one-shot retry helper, a Policy is long-lived: success() resets it and
// fail() advances it, so the same Policy value can back off across many
// independent sync()/long-poll invocations.
package backoff

import (
	"math/rand"
	"sync"
	"time"
)

// Policy is a stateful exponential backoff schedule, reset to Min on
// success and doubled (capped at Max) on each failure.
type Policy struct {
	// Min is the delay returned by the first Fail() after a Success().
	Min time.Duration
	// Max caps the delay regardless of how many consecutive failures
	// have occurred.
	Max time.Duration
	// Multiplier is the growth factor applied on each Fail(). Defaults
	// to 2.0 when zero.
	Multiplier float64
	// Jitter adds up to 10% random spread to the returned delay to avoid
	// a thundering herd of repositories retrying in lockstep.
	Jitter bool

	mu      sync.Mutex
	current time.Duration
}

// NewFetchPolicy returns the default backoff for config-fetch retries:
// 1s..8s, matching spec §4.2's defaults.
func NewFetchPolicy() *Policy {
	return &Policy{Min: time.Second, Max: 8 * time.Second, Multiplier: 2.0, Jitter: true}
}

// NewLongPollPolicy returns the default backoff for the long-poll worker's
// error sleeps: 1s..120s, matching spec §4.2's defaults.
func NewLongPollPolicy() *Policy {
	return &Policy{Min: time.Second, Max: 120 * time.Second, Multiplier: 2.0, Jitter: true}
}

// Success resets the schedule to Min.
func (p *Policy) Success() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = 0
}

// Fail returns the delay to wait before the next attempt, then advances
// the schedule for the following call.
func (p *Policy) Fail() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	if p.current <= 0 {
		p.current = p.Min
	} else {
		next := time.Duration(float64(p.current) * multiplier)
		if next > p.Max {
			next = p.Max
		}
		p.current = next
	}

	delay := p.current
	if p.Jitter {
		delay += time.Duration(rand.Float64() * 0.1 * float64(delay))
	}
	return delay
}

// Current returns the delay the next Fail() would use, without advancing
// the schedule. Useful for tests and diagnostics.
func (p *Policy) Current() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current <= 0 {
		return p.Min
	}
	return p.current
}
