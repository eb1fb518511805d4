package proctor

import "sync"

// GraceState is the fullscreen grace-period state.
type GraceState string

const (
	GraceIdle     GraceState = "idle"
	GraceWarning  GraceState = "warning"
	GraceViolated GraceState = "violated"
)

// GraceUpdate is reported on every state change and countdown tick.
type GraceUpdate struct {
	State     GraceState `json:"state"`
	Remaining int        `json:"remaining"`
	Blocking  bool       `json:"blocking"`
}

// GraceController gives the student a bounded window to return to
// fullscreen before the exit is counted. At most one countdown is live.
type GraceController struct {
	period    int
	countdown *Countdown
	onChange  func(GraceUpdate)
	onViolate func()

	mu    sync.Mutex
	state GraceState
}

// NewGraceController creates an idle controller with the given window.
func NewGraceController(sched Scheduler, periodSeconds int, onChange func(GraceUpdate), onViolate func()) *GraceController {
	g := &GraceController{
		period:    periodSeconds,
		onChange:  onChange,
		onViolate: onViolate,
		state:     GraceIdle,
	}
	g.countdown = NewCountdown(sched, g.tick, g.expire)
	return g
}

// Exit handles a fullscreen exit. A run already in progress is cancelled
// and a fresh one started. Exiting while Violated keeps the modal up.
func (g *GraceController) Exit() {
	g.mu.Lock()
	if g.state == GraceViolated {
		g.mu.Unlock()
		return
	}
	g.state = GraceWarning
	g.mu.Unlock()

	g.countdown.Start(g.period)
	g.emit(GraceUpdate{State: GraceWarning, Remaining: g.period, Blocking: true})
}

// Enter handles fullscreen re-entry from Warning or Violated.
func (g *GraceController) Enter() {
	g.mu.Lock()
	if g.state == GraceIdle {
		g.mu.Unlock()
		return
	}
	g.state = GraceIdle
	g.mu.Unlock()

	g.countdown.Stop()
	g.emit(GraceUpdate{State: GraceIdle})
}

// Cancel stops any running countdown and returns to Idle silently.
func (g *GraceController) Cancel() {
	g.countdown.Stop()
	g.mu.Lock()
	g.state = GraceIdle
	g.mu.Unlock()
}

// State returns the current state.
func (g *GraceController) State() GraceState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Remaining returns the seconds left on the countdown.
func (g *GraceController) Remaining() int {
	return g.countdown.Remaining()
}

func (g *GraceController) tick(remaining int) {
	if remaining <= 0 {
		return
	}
	if g.State() != GraceWarning {
		return
	}
	g.emit(GraceUpdate{State: GraceWarning, Remaining: remaining, Blocking: true})
}

func (g *GraceController) expire() {
	g.mu.Lock()
	if g.state != GraceWarning {
		g.mu.Unlock()
		return
	}
	g.state = GraceViolated
	g.mu.Unlock()

	g.emit(GraceUpdate{State: GraceViolated, Blocking: true})
	if g.onViolate != nil {
		g.onViolate()
	}
}

func (g *GraceController) emit(u GraceUpdate) {
	if g.onChange != nil {
		g.onChange(u)
	}
}
