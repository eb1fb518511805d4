package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionRequestPermissions Action = "request_permissions"
	ActionRequestPermission  Action = "request_permission"
	ActionProceed            Action = "proceed"
	ActionSignal             Action = "signal"
	ActionAnswer             Action = "answer"
	ActionFlag               Action = "flag"
	ActionNavigate           Action = "navigate"
	ActionSave               Action = "save"
	ActionSubmit             Action = "submit"
	ActionState              Action = "state"
	ActionCommandResult      Action = "command_result"
	ActionPing               Action = "ping"
)

// Navigation directions carried by ActionNavigate.
const (
	DirectionNext = "next"
	DirectionPrev = "prev"
	DirectionJump = "jump"
)

// RequestPayload is the single shape of every client message. Only the
// fields relevant to Action are set.
type RequestPayload struct {
	Action     Action             `json:"action"`
	Capability proctor.Capability `json:"capability,omitempty"`
	Signal     *proctor.Signal    `json:"signal,omitempty"`
	QID        string             `json:"q_id,omitempty"`
	Answer     string             `json:"ans,omitempty"`
	Direction  string             `json:"direction,omitempty"`
	Index      int                `json:"index,omitempty"`
	CommandID  string             `json:"command_id,omitempty"`
	Result     json.RawMessage    `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

// Attempt events (phase, tick, warning, ...) are sent as proctor.Event.
// The events below belong to the transport itself.
type Event string

const (
	EventLoaded   Event = "loaded"
	EventState    Event = "state"
	EventAnswered Event = "answered"
	EventFlagged  Event = "flagged"
	EventSaved    Event = "saved"
	EventCommand  Event = "command"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

// Message is a server event with an optional payload.
type Message struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

// AnsweredData accompanies EventAnswered.
type AnsweredData struct {
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// FlaggedData accompanies EventFlagged.
type FlaggedData struct {
	QID     string `json:"q_id"`
	Flagged bool   `json:"flagged"`
}

// SavedData accompanies EventSaved.
type SavedData struct {
	Resent int `json:"resent"`
}

// ─── Device commands (Server → Client → Server) ─────────────────────

// CommandName is an operation the server asks the browser to perform.
type CommandName string

const (
	CommandEnterFullscreen CommandName = "enter_fullscreen"
	CommandExitFullscreen  CommandName = "exit_fullscreen"
	CommandRequestMedia    CommandName = "request_media"
	CommandRequestScreen   CommandName = "request_screen_share"
	CommandCaptureFrame    CommandName = "capture_frame"
	CommandStopTrack       CommandName = "stop_track"
)

// Command is sent inside an EventCommand message. The client answers with
// ActionCommandResult carrying the same ID, except for stop_track.
type Command struct {
	ID      string      `json:"id"`
	Name    CommandName `json:"name"`
	Video   bool        `json:"video,omitempty"`
	Audio   bool        `json:"audio,omitempty"`
	Kind    string      `json:"kind,omitempty"`
	TrackID string      `json:"track_id,omitempty"`
}

// CommandResult is the client's answer to a Command.
type CommandResult struct {
	ID     string
	Result json.RawMessage
	Error  string
}

// TrackInfo describes one media track granted on the client.
type TrackInfo struct {
	ID   string            `json:"id"`
	Kind proctor.TrackKind `json:"kind"`
}

// StreamInfo is the result of request_media and request_screen_share.
type StreamInfo struct {
	ID     string      `json:"id"`
	Tracks []TrackInfo `json:"tracks"`
}

// FrameInfo is the result of capture_frame.
type FrameInfo struct {
	Image string `json:"image"`
}
