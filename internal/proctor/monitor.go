package proctor

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// DefaultWarningDismiss is how long a violation warning stays on screen.
const DefaultWarningDismiss = 5 * time.Second

// Warning is the transient notice shown for every violation.
type Warning struct {
	Type           model.ViolationType `json:"type"`
	Message        string              `json:"message"`
	Count          int                 `json:"count"`
	Max            int                 `json:"max,omitempty"`
	DismissAfterMS int64               `json:"dismiss_after_ms"`
	Beep           bool                `json:"beep"`
}

// MonitorHooks receive the monitor's outputs. Any hook may be nil.
type MonitorHooks struct {
	OnViolation func(model.Violation)
	OnWarning   func(Warning)
	OnThreshold func(count int)
	OnGrace     func(GraceUpdate)
	OnCapture   func(kind model.ScreenshotKind)
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Policy         Policy
	Scheduler      Scheduler
	Latch          *Latch
	WarningDismiss time.Duration
	Hooks          MonitorHooks
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Monitor classifies signals into violations and keeps the running count.
// Nothing is recorded once the submission latch is set or after Close.
type Monitor struct {
	policy  Policy
	sched   Scheduler
	latch   *Latch
	dismiss time.Duration
	hooks   MonitorHooks
	now     func() time.Time
	log     zerolog.Logger
	grace   *GraceController

	disqualifying Latch

	mu          sync.Mutex
	count       int
	violations  []model.Violation
	hidden      bool
	videoReady  bool
	closed      bool
	stopCapture func()
	closeOnce   sync.Once
}

// NewMonitor creates a monitor. Call Start to begin periodic capture.
func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		policy:  opts.Policy,
		sched:   opts.Scheduler,
		latch:   opts.Latch,
		dismiss: opts.WarningDismiss,
		hooks:   opts.Hooks,
		now:     opts.Now,
		log:     opts.Logger.With().Str("component", "violation_monitor").Logger(),
	}
	if m.latch == nil {
		m.latch = &Latch{}
	}
	if m.dismiss <= 0 {
		m.dismiss = DefaultWarningDismiss
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.grace = NewGraceController(m.sched, opts.Policy.GracePeriodSeconds, m.onGrace, m.onGraceExpired)
	return m
}

// Start begins periodic screenshot capture when the policy asks for it.
func (m *Monitor) Start() {
	interval := m.policy.ScreenshotIntervalSeconds
	if interval <= 0 || (!m.policy.CaptureWebcam && !m.policy.CaptureScreen) {
		return
	}
	cancel := m.sched.Every(time.Duration(interval)*time.Second, m.capture)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return
	}
	m.stopCapture = cancel
	m.mu.Unlock()
}

// Handle processes one signal and reports whether it was recorded as a
// violation.
func (m *Monitor) Handle(sig Signal) bool {
	if m.inactive() {
		return false
	}

	switch sig.Kind {
	case SignalVisibilityHidden:
		m.setHidden(true)
	case SignalVisibilityVisible:
		m.setHidden(false)
		return false
	case SignalVideoReady:
		m.setVideoReady(true)
		return false
	case SignalVideoNotReady:
		m.setVideoReady(false)
		return false
	case SignalFullscreenExit:
		if m.policy.FullscreenExit {
			m.grace.Exit()
		}
		return false
	case SignalFullscreenEnter:
		m.grace.Enter()
		return false
	case SignalVideoEnded:
		m.setVideoReady(false)
	}

	t, ok := m.policy.Classify(sig)
	if !ok {
		return false
	}
	return m.Record(t, describe(sig))
}

// Record logs a violation, bumps the counter and decides disqualification
// on the post-increment value.
func (m *Monitor) Record(t model.ViolationType, details string) bool {
	if m.latch.Tripped() {
		return false
	}

	m.mu.Lock()
	if m.closed || m.latch.Tripped() {
		m.mu.Unlock()
		return false
	}
	m.count++
	count := m.count
	v := model.Violation{Type: t, Details: details, Timestamp: m.now().UTC()}
	m.violations = append(m.violations, v)
	fire := m.policy.Disqualify && count >= m.policy.MaxViolations && m.disqualifying.Trip()
	m.mu.Unlock()

	m.log.Debug().Str("type", string(t)).Int("count", count).Msg("Violation recorded")

	if m.hooks.OnViolation != nil {
		m.hooks.OnViolation(v)
	}
	if m.hooks.OnWarning != nil {
		m.hooks.OnWarning(Warning{
			Type:           t,
			Message:        ViolationMessage(t),
			Count:          count,
			Max:            m.policy.MaxViolations,
			DismissAfterMS: m.dismiss.Milliseconds(),
			Beep:           m.policy.AudibleAlerts,
		})
	}
	if fire && m.hooks.OnThreshold != nil {
		m.hooks.OnThreshold(count)
	}
	return true
}

// Seal trips the submission latch under the lock that decides
// disqualification. Once it succeeds no further violation is recorded, and
// disqualified reports whether the threshold had already fired.
func (m *Monitor) Seal() (sealed, disqualified bool, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.latch.Trip() {
		return false, false, m.count
	}
	return true, m.disqualifying.Tripped(), m.count
}

// Count returns the number of recorded violations.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Violations returns a copy of the violation log.
func (m *Monitor) Violations() []model.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Grace exposes the fullscreen grace controller.
func (m *Monitor) Grace() *GraceController {
	return m.grace
}

// CancelGrace stops any running grace countdown.
func (m *Monitor) CancelGrace() {
	m.grace.Cancel()
}

// Close tears down the grace countdown and capture loop. Idempotent.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		stop := m.stopCapture
		m.stopCapture = nil
		m.mu.Unlock()

		if stop != nil {
			stop()
		}
		m.grace.Cancel()
	})
}

func (m *Monitor) inactive() bool {
	if m.latch.Tripped() {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Monitor) setHidden(v bool) {
	m.mu.Lock()
	m.hidden = v
	m.mu.Unlock()
}

func (m *Monitor) setVideoReady(v bool) {
	m.mu.Lock()
	m.videoReady = v
	m.mu.Unlock()
}

func (m *Monitor) capture() {
	if m.inactive() {
		return
	}
	m.mu.Lock()
	skip := m.hidden || !m.videoReady
	m.mu.Unlock()
	if skip {
		m.log.Debug().Msg("Skipping capture, page hidden or video not ready")
		return
	}
	if m.hooks.OnCapture == nil {
		return
	}
	if m.policy.CaptureWebcam {
		m.hooks.OnCapture(model.ScreenshotWebcam)
	}
	if m.policy.CaptureScreen {
		m.hooks.OnCapture(model.ScreenshotScreen)
	}
}

func (m *Monitor) onGrace(u GraceUpdate) {
	if m.hooks.OnGrace != nil {
		m.hooks.OnGrace(u)
	}
}

func (m *Monitor) onGraceExpired() {
	m.Record(model.ViolationFullscreenExit,
		fmt.Sprintf("did not return to fullscreen within %d seconds", m.policy.GracePeriodSeconds))
}

func describe(sig Signal) string {
	if sig.Detail != "" {
		return sig.Detail
	}
	switch sig.Kind {
	case SignalVisibilityHidden:
		return "page hidden"
	case SignalWindowBlur:
		return "window lost focus"
	case SignalCopy:
		return "copy attempted"
	case SignalPaste:
		return "paste attempted"
	case SignalContextMenu:
		return "context menu opened"
	case SignalKeyDown:
		return "screenshot shortcut: " + sig.Key
	case SignalVideoEnded:
		return "video track ended"
	case SignalVideoMuted:
		return "video track muted"
	case SignalAudioEnded:
		return "audio track ended"
	case SignalAudioMuted:
		return "audio track muted"
	}
	return string(sig.Kind)
}
