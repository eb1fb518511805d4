package model

import "time"

// ViolationType classifies a proctoring violation.
type ViolationType string

const (
	ViolationTabSwitch         ViolationType = "tab_switch"
	ViolationWindowBlur        ViolationType = "window_blur"
	ViolationFullscreenExit    ViolationType = "fullscreen_exit"
	ViolationCopy              ViolationType = "copy"
	ViolationPaste             ViolationType = "paste"
	ViolationRightClick        ViolationType = "right_click"
	ViolationScreenshotAttempt ViolationType = "screenshot_attempt"
	ViolationWebcamOff         ViolationType = "webcam_off"
	ViolationMicrophoneOff     ViolationType = "microphone_off"
)

// ViolationTypes lists every known violation type.
var ViolationTypes = []ViolationType{
	ViolationTabSwitch,
	ViolationWindowBlur,
	ViolationFullscreenExit,
	ViolationCopy,
	ViolationPaste,
	ViolationRightClick,
	ViolationScreenshotAttempt,
	ViolationWebcamOff,
	ViolationMicrophoneOff,
}

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	for _, v := range ViolationTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Violation is a single proctoring log entry.
type Violation struct {
	Type      ViolationType `json:"type" binding:"required,violation_type"`
	Details   string        `json:"details" binding:"max=1000"`
	Timestamp time.Time     `json:"timestamp"`
}

// LogViolationRequest is the payload for logging one violation.
type LogViolationRequest struct {
	Type      ViolationType `json:"type" binding:"required,violation_type"`
	Details   string        `json:"details" binding:"max=1000"`
	Timestamp *time.Time    `json:"timestamp"`
}

// ScreenshotKind names the source of a captured frame.
type ScreenshotKind string

const (
	ScreenshotWebcam ScreenshotKind = "webcam"
	ScreenshotScreen ScreenshotKind = "screen"
)

// UploadScreenshotRequest carries a captured frame as a data URL.
type UploadScreenshotRequest struct {
	Image string         `json:"image" binding:"required,startswith=data:image/"`
	Kind  ScreenshotKind `json:"kind" binding:"required,oneof=webcam screen"`
}
