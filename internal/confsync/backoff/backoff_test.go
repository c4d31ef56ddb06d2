package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_FailDoublesAndCaps(t *testing.T) {
	p := &Policy{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond, Multiplier: 2.0}

	d1 := p.Fail()
	require.Equal(t, 100*time.Millisecond, d1)

	d2 := p.Fail()
	require.Equal(t, 200*time.Millisecond, d2)

	d3 := p.Fail()
	require.Equal(t, 400*time.Millisecond, d3)

	d4 := p.Fail()
	assert.Equal(t, 500*time.Millisecond, d4, "delay must cap at Max")

	d5 := p.Fail()
	assert.Equal(t, 500*time.Millisecond, d5, "delay stays capped")
}

func TestPolicy_SuccessResets(t *testing.T) {
	p := &Policy{Min: 100 * time.Millisecond, Max: time.Second, Multiplier: 2.0}

	p.Fail()
	p.Fail()
	require.Greater(t, p.Current(), 100*time.Millisecond)

	p.Success()
	assert.Equal(t, 100*time.Millisecond, p.Current())

	d := p.Fail()
	assert.Equal(t, 100*time.Millisecond, d, "first Fail() after Success() returns Min again")
}

func TestPolicy_JitterStaysWithinBound(t *testing.T) {
	p := &Policy{Min: time.Second, Max: time.Second, Multiplier: 2.0, Jitter: true}

	for i := 0; i < 50; i++ {
		d := p.Fail()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Second+100*time.Millisecond)
		p.Success()
	}
}

func TestDefaultPolicies(t *testing.T) {
	fetch := NewFetchPolicy()
	assert.Equal(t, time.Second, fetch.Min)
	assert.Equal(t, 8*time.Second, fetch.Max)

	lp := NewLongPollPolicy()
	assert.Equal(t, time.Second, lp.Min)
	assert.Equal(t, 120*time.Second, lp.Max)
}
