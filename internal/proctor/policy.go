package proctor

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Policy is the monitor behavior derived from an exam's settings. A true
// field means the signal is watched and counted as a violation.
type Policy struct {
	TabSwitch      bool `json:"tab_switch"`
	WindowBlur     bool `json:"window_blur"`
	FullscreenExit bool `json:"fullscreen_exit"`
	CopyPaste      bool `json:"copy_paste"`
	RightClick     bool `json:"right_click"`
	Screenshots    bool `json:"screenshots"`
	Webcam         bool `json:"webcam"`
	Microphone     bool `json:"microphone"`

	GracePeriodSeconds int  `json:"grace_period_seconds"`
	MaxViolations      int  `json:"max_violations"`
	Disqualify         bool `json:"disqualify"`
	AudibleAlerts      bool `json:"audible_alerts"`

	CaptureWebcam             bool `json:"capture_webcam"`
	CaptureScreen             bool `json:"capture_screen"`
	ScreenshotIntervalSeconds int  `json:"screenshot_interval_seconds"`
}

// PolicyFor derives the monitor policy for an attempt. defaultInterval
// applies when the exam does not set a screenshot interval.
func PolicyFor(settings model.ExamSettings, isPractice bool, defaultInterval time.Duration) Policy {
	s := settings.Effective(isPractice)

	interval := s.ScreenshotIntervalSeconds
	if interval <= 0 {
		interval = int(defaultInterval / time.Second)
	}

	p := Policy{
		TabSwitch:      !s.AllowTabSwitching,
		WindowBlur:     !s.AllowWindowBlur,
		FullscreenExit: s.FullscreenRequired && !s.AllowFullscreenExit,
		CopyPaste:      !s.AllowCopyPaste,
		RightClick:     !s.AllowRightClick,
		Screenshots:    !s.AllowScreenshots,
		Webcam:         s.WebcamRequired,
		Microphone:     s.MicrophoneRequired,

		GracePeriodSeconds: s.GracePeriodSeconds,
		MaxViolations:      s.MaxViolationsBeforeAction,
		Disqualify:         s.DisqualifyOnViolation && s.MaxViolationsBeforeAction > 0,
		AudibleAlerts:      s.AudibleAlerts,

		CaptureWebcam: s.WebcamRequired,
		CaptureScreen: s.EnforceScreensharing,
	}
	if p.CaptureWebcam || p.CaptureScreen {
		p.ScreenshotIntervalSeconds = interval
	}
	return p
}

// Classify maps a signal to the violation it represents under this policy.
// Fullscreen exits are not classified here; they go through the grace
// controller.
func (p Policy) Classify(sig Signal) (model.ViolationType, bool) {
	switch sig.Kind {
	case SignalVisibilityHidden:
		return model.ViolationTabSwitch, p.TabSwitch
	case SignalWindowBlur:
		return model.ViolationWindowBlur, p.WindowBlur
	case SignalCopy:
		return model.ViolationCopy, p.CopyPaste
	case SignalPaste:
		return model.ViolationPaste, p.CopyPaste
	case SignalContextMenu:
		return model.ViolationRightClick, p.RightClick
	case SignalKeyDown:
		if sig.IsScreenshotCombo() {
			return model.ViolationScreenshotAttempt, p.Screenshots
		}
	case SignalVideoEnded, SignalVideoMuted:
		return model.ViolationWebcamOff, p.Webcam
	case SignalAudioEnded, SignalAudioMuted:
		return model.ViolationMicrophoneOff, p.Microphone
	}
	return "", false
}

// Suppresses reports whether the client should cancel the default action
// of the signal's event.
func (p Policy) Suppresses(kind SignalKind) bool {
	switch kind {
	case SignalCopy, SignalPaste:
		return p.CopyPaste
	case SignalContextMenu:
		return p.RightClick
	}
	return false
}

var violationMessages = map[model.ViolationType]string{
	model.ViolationTabSwitch:         "Switching tabs or minimizing the window is not allowed",
	model.ViolationWindowBlur:        "Leaving the exam window is not allowed",
	model.ViolationFullscreenExit:    "You did not return to fullscreen in time",
	model.ViolationCopy:              "Copying is disabled during this exam",
	model.ViolationPaste:             "Pasting is disabled during this exam",
	model.ViolationRightClick:        "Right-click is disabled during this exam",
	model.ViolationScreenshotAttempt: "Screenshots are not allowed during this exam",
	model.ViolationWebcamOff:         "Your webcam was turned off",
	model.ViolationMicrophoneOff:     "Your microphone was turned off",
}

// ViolationMessage returns the student-facing warning text for t.
func ViolationMessage(t model.ViolationType) string {
	if msg, ok := violationMessages[t]; ok {
		return msg
	}
	return "Proctoring violation detected"
}
