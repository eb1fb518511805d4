package proctor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type graceProbe struct {
	updates  []GraceUpdate
	violated int
}

func newGrace(sched Scheduler, period int) (*GraceController, *graceProbe) {
	p := &graceProbe{}
	g := NewGraceController(sched, period,
		func(u GraceUpdate) { p.updates = append(p.updates, u) },
		func() { p.violated++ })
	return g, p
}

func TestGraceRecoveryBeforeZeroLogsNothing(t *testing.T) {
	sched := newManualScheduler()
	g, p := newGrace(sched, 15)

	g.Exit()
	assert.Equal(t, GraceWarning, g.State())
	sched.Advance(7)
	require.Equal(t, 8, g.Remaining())

	g.Enter()
	assert.Equal(t, GraceIdle, g.State())
	assert.Equal(t, 0, sched.Active())

	sched.Advance(30)
	assert.Equal(t, 0, p.violated)
	assert.Equal(t, GraceIdle, p.updates[len(p.updates)-1].State)
}

func TestGraceViolationAtZeroKeepsModal(t *testing.T) {
	sched := newManualScheduler()
	g, p := newGrace(sched, 15)

	g.Exit()
	sched.Advance(14)
	assert.Equal(t, 0, p.violated)
	sched.Advance(1)

	assert.Equal(t, 1, p.violated)
	assert.Equal(t, GraceViolated, g.State())
	last := p.updates[len(p.updates)-1]
	assert.Equal(t, GraceViolated, last.State)
	assert.True(t, last.Blocking)

	sched.Advance(60)
	assert.Equal(t, 1, p.violated)
	assert.Equal(t, GraceViolated, g.State(), "modal stays until re-entry")

	g.Exit()
	assert.Equal(t, GraceViolated, g.State())
	assert.Equal(t, 0, sched.Active())

	g.Enter()
	assert.Equal(t, GraceIdle, g.State())
}

func TestGraceRestartKeepsSingleCountdown(t *testing.T) {
	sched := newManualScheduler()
	g, p := newGrace(sched, 15)

	g.Exit()
	sched.Advance(5)
	g.Exit()
	assert.Equal(t, 1, sched.Active())
	assert.Equal(t, 15, g.Remaining())

	sched.Advance(10)
	assert.Equal(t, 0, p.violated)
	sched.Advance(5)
	assert.Equal(t, 1, p.violated)
	sched.Advance(30)
	assert.Equal(t, 1, p.violated)
}

func TestGraceCancelIsSilent(t *testing.T) {
	sched := newManualScheduler()
	g, p := newGrace(sched, 15)

	g.Exit()
	sched.Advance(3)
	n := len(p.updates)
	g.Cancel()
	sched.Advance(30)

	assert.Equal(t, GraceIdle, g.State())
	assert.Equal(t, 0, p.violated)
	assert.Len(t, p.updates, n)
}
