package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountdownFiresExpiryExactlyOnce(t *testing.T) {
	sched := newManualScheduler()
	var ticks []int
	zero := 0
	c := NewCountdown(sched, func(r int) { ticks = append(ticks, r) }, func() { zero++ })

	c.Start(60)
	sched.Advance(60)

	assert.Len(t, ticks, 60)
	assert.Equal(t, 59, ticks[0])
	assert.Equal(t, 0, ticks[59])
	assert.Equal(t, 1, zero)
	assert.False(t, c.Running())
	assert.Equal(t, 0, sched.Active())

	sched.Advance(10)
	assert.Len(t, ticks, 60, "no ticks after expiry")
	assert.Equal(t, 1, zero)
}

func TestCountdownStopSuppressesCallbacks(t *testing.T) {
	sched := newManualScheduler()
	ticks, zero := 0, 0
	c := NewCountdown(sched, func(int) { ticks++ }, func() { zero++ })

	c.Start(10)
	sched.Advance(4)
	c.Stop()
	c.Stop()
	sched.Advance(20)

	assert.Equal(t, 4, ticks)
	assert.Equal(t, 0, zero)
	assert.Equal(t, 6, c.Remaining())
	assert.Equal(t, 0, sched.Active())
}

func TestCountdownStopDuringFinalTickSuppressesExpiry(t *testing.T) {
	sched := newManualScheduler()
	var ticks []int
	zero := 0
	var c *Countdown
	c = NewCountdown(sched, func(r int) {
		ticks = append(ticks, r)
		if r == 0 {
			c.Stop()
		}
	}, func() { zero++ })

	c.Start(2)
	sched.Advance(5)

	assert.Equal(t, []int{1, 0}, ticks)
	assert.Equal(t, 0, zero)
	assert.False(t, c.Running())
}

func TestCountdownRestartCancelsPreviousRun(t *testing.T) {
	sched := newManualScheduler()
	zero := 0
	c := NewCountdown(sched, nil, func() { zero++ })

	c.Start(10)
	sched.Advance(3)
	c.Start(5)
	assert.Equal(t, 1, sched.Active())

	sched.Advance(5)
	assert.Equal(t, 1, zero)
	sched.Advance(10)
	assert.Equal(t, 1, zero)
}

func TestCountdownNonPositiveExpiresImmediately(t *testing.T) {
	sched := newManualScheduler()
	zero := 0
	c := NewCountdown(sched, nil, func() { zero++ })

	c.Start(0)

	assert.Equal(t, 1, zero)
	assert.Equal(t, 0, sched.Active())
}
