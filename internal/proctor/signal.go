package proctor

import (
	"strings"
)

// SignalKind names a raw browser-level signal reported by the client.
type SignalKind string

const (
	SignalVisibilityHidden  SignalKind = "visibility_hidden"
	SignalVisibilityVisible SignalKind = "visibility_visible"
	SignalWindowBlur        SignalKind = "window_blur"
	SignalWindowFocus       SignalKind = "window_focus"
	SignalFullscreenExit    SignalKind = "fullscreen_exit"
	SignalFullscreenEnter   SignalKind = "fullscreen_enter"
	SignalCopy              SignalKind = "copy"
	SignalPaste             SignalKind = "paste"
	SignalContextMenu       SignalKind = "context_menu"
	SignalKeyDown           SignalKind = "key_down"
	SignalVideoEnded        SignalKind = "video_track_ended"
	SignalVideoMuted        SignalKind = "video_track_muted"
	SignalAudioEnded        SignalKind = "audio_track_ended"
	SignalAudioMuted        SignalKind = "audio_track_muted"
	SignalVideoReady        SignalKind = "video_ready"
	SignalVideoNotReady     SignalKind = "video_not_ready"
)

// Signal is one observation from the browser.
type Signal struct {
	Kind      SignalKind `json:"signal"`
	Key       string     `json:"key,omitempty"`
	Modifiers []string   `json:"modifiers,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// hasModifier reports whether mod is held, case-insensitively.
// "meta", "os" and "win" are treated as the same key.
func (s Signal) hasModifier(mod string) bool {
	for _, m := range s.Modifiers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == mod {
			return true
		}
		if mod == "meta" && (m == "os" || m == "win" || m == "cmd") {
			return true
		}
	}
	return false
}

// IsScreenshotCombo reports whether a key_down matches a known platform
// screenshot shortcut. OS-level captures bypass the page entirely, so this
// only ever catches a subset.
func (s Signal) IsScreenshotCombo() bool {
	if s.Kind != SignalKeyDown {
		return false
	}
	key := strings.TrimSpace(s.Key)
	if strings.EqualFold(key, "PrintScreen") || strings.EqualFold(key, "PrtSc") {
		return true
	}
	if !s.hasModifier("meta") || !s.hasModifier("shift") {
		return false
	}
	switch strings.ToLower(key) {
	case "3", "4", "5", "s":
		return true
	}
	return false
}
