package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker_Lifecycle(t *testing.T) {
	c := &clock{t: time.Unix(1000, 0)}
	b := NewBreaker("redis", BreakerConfig{FailureThreshold: 2, CoolDown: time.Minute})
	b.now = c.now
	boom := errors.New("boom")
	calls := 0
	fail := func() error { calls++; return boom }
	ok := func() error { calls++; return nil }

	assert.ErrorIs(t, b.Execute(fail), boom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(fail), boom)
	assert.Equal(t, StateOpen, b.State())

	// Open: fn is not called.
	assert.ErrorIs(t, b.Execute(ok), ErrCircuitOpen)
	assert.Equal(t, 2, calls)

	// A failed probe reopens immediately.
	c.advance(time.Minute)
	assert.ErrorIs(t, b.Execute(fail), boom)
	assert.Equal(t, StateOpen, b.State())
	assert.ErrorIs(t, b.Execute(ok), ErrCircuitOpen)

	// A successful probe closes.
	c.advance(time.Minute)
	assert.NoError(t, b.Execute(ok))
	assert.Equal(t, StateClosed, b.State())
	assert.NoError(t, b.Execute(ok))
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("x", BreakerConfig{FailureThreshold: 2})
	boom := errors.New("boom")
	b.Execute(func() error { return boom })
	b.Execute(func() error { return nil })
	b.Execute(func() error { return boom })
	assert.Equal(t, StateClosed, b.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
