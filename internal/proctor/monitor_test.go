package proctor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

type monitorProbe struct {
	mu         sync.Mutex
	violations []model.Violation
	warnings   []Warning
	thresholds []int
	captures   []model.ScreenshotKind
}

func (p *monitorProbe) hooks() MonitorHooks {
	return MonitorHooks{
		OnViolation: func(v model.Violation) {
			p.mu.Lock()
			p.violations = append(p.violations, v)
			p.mu.Unlock()
		},
		OnWarning: func(w Warning) {
			p.mu.Lock()
			p.warnings = append(p.warnings, w)
			p.mu.Unlock()
		},
		OnThreshold: func(n int) {
			p.mu.Lock()
			p.thresholds = append(p.thresholds, n)
			p.mu.Unlock()
		},
		OnCapture: func(k model.ScreenshotKind) {
			p.mu.Lock()
			p.captures = append(p.captures, k)
			p.mu.Unlock()
		},
	}
}

func newTestMonitor(policy Policy, sched Scheduler, latch *Latch) (*Monitor, *monitorProbe) {
	p := &monitorProbe{}
	m := NewMonitor(MonitorOptions{
		Policy:    policy,
		Scheduler: sched,
		Latch:     latch,
		Hooks:     p.hooks(),
	})
	return m, p
}

func TestThresholdFiresOnceAtMax(t *testing.T) {
	m, p := newTestMonitor(Policy{WindowBlur: true, Disqualify: true, MaxViolations: 3}, newManualScheduler(), nil)
	blur := Signal{Kind: SignalWindowBlur}

	assert.True(t, m.Handle(blur))
	assert.True(t, m.Handle(blur))
	assert.Empty(t, p.thresholds)

	assert.True(t, m.Handle(blur))
	assert.Equal(t, []int{3}, p.thresholds)

	m.Handle(blur)
	m.Handle(blur)
	assert.Equal(t, []int{3}, p.thresholds)
	assert.Equal(t, 5, m.Count())
}

func TestThresholdFiresOnceUnderConcurrency(t *testing.T) {
	m, p := newTestMonitor(Policy{TabSwitch: true, Disqualify: true, MaxViolations: 10}, newManualScheduler(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Record(model.ViolationTabSwitch, "page hidden")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, m.Count())
	assert.Equal(t, []int{10}, p.thresholds)
}

func TestNoDisqualificationWithoutFlag(t *testing.T) {
	m, p := newTestMonitor(Policy{WindowBlur: true, MaxViolations: 1}, newManualScheduler(), nil)

	m.Handle(Signal{Kind: SignalWindowBlur})
	m.Handle(Signal{Kind: SignalWindowBlur})

	assert.Empty(t, p.thresholds)
	assert.Equal(t, 2, m.Count())
}

func TestLatchFreezesViolationCount(t *testing.T) {
	latch := &Latch{}
	m, p := newTestMonitor(Policy{TabSwitch: true, CopyPaste: true, FullscreenExit: true, GracePeriodSeconds: 15}, newManualScheduler(), latch)

	m.Handle(Signal{Kind: SignalVisibilityHidden})
	before := m.Count()
	require.True(t, latch.Trip())

	for i := 0; i < 20; i++ {
		assert.False(t, m.Handle(Signal{Kind: SignalVisibilityHidden}))
		assert.False(t, m.Handle(Signal{Kind: SignalCopy}))
		assert.False(t, m.Record(model.ViolationPaste, "direct"))
	}

	assert.Equal(t, before, m.Count())
	assert.Len(t, p.violations, before)
	assert.Len(t, m.Violations(), before)
}

func TestAllowedSignalsAreNotViolations(t *testing.T) {
	settings := model.ExamSettings{
		AllowTabSwitching: true,
		AllowWindowBlur:   true,
		AllowCopyPaste:    true,
		AllowRightClick:   true,
		AllowScreenshots:  true,
	}
	m, p := newTestMonitor(PolicyFor(settings, false, time.Minute), newManualScheduler(), nil)

	for _, k := range []SignalKind{SignalVisibilityHidden, SignalWindowBlur, SignalCopy, SignalPaste, SignalContextMenu, SignalVideoEnded, SignalAudioMuted} {
		assert.False(t, m.Handle(Signal{Kind: k}), k)
	}
	assert.False(t, m.Handle(Signal{Kind: SignalKeyDown, Key: "PrintScreen"}))
	assert.Equal(t, 0, m.Count())
	assert.Empty(t, p.warnings)
}

func TestSignalClassification(t *testing.T) {
	policy := PolicyFor(proctoredSettings(), false, time.Minute)

	cases := []struct {
		sig  Signal
		want model.ViolationType
	}{
		{Signal{Kind: SignalVisibilityHidden}, model.ViolationTabSwitch},
		{Signal{Kind: SignalWindowBlur}, model.ViolationWindowBlur},
		{Signal{Kind: SignalCopy}, model.ViolationCopy},
		{Signal{Kind: SignalPaste}, model.ViolationPaste},
		{Signal{Kind: SignalContextMenu}, model.ViolationRightClick},
		{Signal{Kind: SignalKeyDown, Key: "PrintScreen"}, model.ViolationScreenshotAttempt},
		{Signal{Kind: SignalVideoEnded}, model.ViolationWebcamOff},
		{Signal{Kind: SignalVideoMuted}, model.ViolationWebcamOff},
		{Signal{Kind: SignalAudioEnded}, model.ViolationMicrophoneOff},
		{Signal{Kind: SignalAudioMuted}, model.ViolationMicrophoneOff},
	}
	for _, tc := range cases {
		m, p := newTestMonitor(policy, newManualScheduler(), nil)
		assert.True(t, m.Handle(tc.sig), tc.sig.Kind)
		require.Len(t, p.violations, 1)
		assert.Equal(t, tc.want, p.violations[0].Type)
	}

	assert.True(t, policy.Suppresses(SignalCopy))
	assert.True(t, policy.Suppresses(SignalContextMenu))
	assert.False(t, policy.Suppresses(SignalWindowBlur))
}

func TestScreenshotComboDetection(t *testing.T) {
	cases := []struct {
		sig  Signal
		want bool
	}{
		{Signal{Kind: SignalKeyDown, Key: "PrintScreen"}, true},
		{Signal{Kind: SignalKeyDown, Key: "3", Modifiers: []string{"Meta", "Shift"}}, true},
		{Signal{Kind: SignalKeyDown, Key: "4", Modifiers: []string{"meta", "shift"}}, true},
		{Signal{Kind: SignalKeyDown, Key: "5", Modifiers: []string{"cmd", "shift"}}, true},
		{Signal{Kind: SignalKeyDown, Key: "S", Modifiers: []string{"OS", "Shift"}}, true},
		{Signal{Kind: SignalKeyDown, Key: "s", Modifiers: []string{"Shift"}}, false},
		{Signal{Kind: SignalKeyDown, Key: "3", Modifiers: []string{"Meta"}}, false},
		{Signal{Kind: SignalKeyDown, Key: "a"}, false},
		{Signal{Kind: SignalCopy, Key: "PrintScreen"}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.sig.IsScreenshotCombo(), "%+v", tc.sig)
	}
}

func TestWarningCarriesDismissAndBeep(t *testing.T) {
	m, p := newTestMonitor(Policy{TabSwitch: true, AudibleAlerts: true, MaxViolations: 3}, newManualScheduler(), nil)

	m.Handle(Signal{Kind: SignalVisibilityHidden})

	require.Len(t, p.warnings, 1)
	w := p.warnings[0]
	assert.Equal(t, model.ViolationTabSwitch, w.Type)
	assert.Equal(t, int64(5000), w.DismissAfterMS)
	assert.True(t, w.Beep)
	assert.Equal(t, 1, w.Count)
	assert.Equal(t, 3, w.Max)
	assert.NotEmpty(t, w.Message)
}

func TestFullscreenExitGoesThroughGrace(t *testing.T) {
	sched := newManualScheduler()
	m, p := newTestMonitor(Policy{FullscreenExit: true, GracePeriodSeconds: 15}, sched, nil)

	assert.False(t, m.Handle(Signal{Kind: SignalFullscreenExit}))
	assert.Equal(t, 0, m.Count())
	sched.Advance(15)

	require.Len(t, p.violations, 1)
	assert.Equal(t, model.ViolationFullscreenExit, p.violations[0].Type)
	assert.Equal(t, GraceViolated, m.Grace().State())

	m.Handle(Signal{Kind: SignalFullscreenEnter})
	assert.Equal(t, GraceIdle, m.Grace().State())
	assert.Equal(t, 1, m.Count())
}

func TestFullscreenExitIgnoredWhenAllowed(t *testing.T) {
	sched := newManualScheduler()
	m, _ := newTestMonitor(Policy{GracePeriodSeconds: 15}, sched, nil)

	m.Handle(Signal{Kind: SignalFullscreenExit})

	assert.Equal(t, GraceIdle, m.Grace().State())
	assert.Equal(t, 0, sched.Active())
}

func TestCaptureSkipsHiddenOrNotReady(t *testing.T) {
	sched := newManualScheduler()
	m, p := newTestMonitor(Policy{CaptureWebcam: true, CaptureScreen: true, ScreenshotIntervalSeconds: 10}, sched, nil)
	m.Start()

	sched.Advance(10)
	assert.Empty(t, p.captures, "video not ready")

	m.Handle(Signal{Kind: SignalVideoReady})
	sched.Advance(10)
	assert.Equal(t, []model.ScreenshotKind{model.ScreenshotWebcam, model.ScreenshotScreen}, p.captures)

	m.Handle(Signal{Kind: SignalVisibilityHidden})
	sched.Advance(10)
	assert.Len(t, p.captures, 2, "page hidden")

	m.Handle(Signal{Kind: SignalVisibilityVisible})
	sched.Advance(10)
	assert.Len(t, p.captures, 4)
}

func TestMonitorCloseIsIdempotent(t *testing.T) {
	sched := newManualScheduler()
	m, p := newTestMonitor(Policy{TabSwitch: true, FullscreenExit: true, GracePeriodSeconds: 15, CaptureWebcam: true, ScreenshotIntervalSeconds: 5}, sched, nil)
	m.Start()
	m.Handle(Signal{Kind: SignalFullscreenExit})
	require.Equal(t, 2, sched.Active())

	m.Close()
	m.Close()

	assert.Equal(t, 0, sched.Active())
	assert.False(t, m.Handle(Signal{Kind: SignalVisibilityHidden}))
	assert.Empty(t, p.violations)
}
