package proctor

// EventType names a notification pushed to the client.
type EventType string

const (
	EventPhase        EventType = "phase"
	EventTick         EventType = "tick"
	EventWarning      EventType = "warning"
	EventGrace        EventType = "grace"
	EventTimeUp       EventType = "time_up"
	EventDisqualified EventType = "disqualified"
	EventPermission   EventType = "permission"
	EventNavigated    EventType = "navigated"
	EventSubmitted    EventType = "submitted"
	EventSubmitFailed EventType = "submit_failed"
)

// Event is one notification from the attempt.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data,omitempty"`
}

// Notifier receives attempt events. Notify must not block or call back
// into the Attempt.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// PhaseData accompanies EventPhase.
type PhaseData struct {
	Phase Phase `json:"phase"`
}

// TickData accompanies EventTick.
type TickData struct {
	Remaining int `json:"remaining"`
}

// TimeUpData accompanies EventTimeUp.
type TimeUpData struct {
	AutoSubmit bool   `json:"auto_submit"`
	Message    string `json:"message"`
}

// DisqualifiedData accompanies EventDisqualified.
type DisqualifiedData struct {
	Count   int    `json:"count"`
	Max     int    `json:"max"`
	Message string `json:"message"`
}

// NavigatedData accompanies EventNavigated.
type NavigatedData struct {
	Index      int    `json:"index"`
	QuestionID string `json:"question_id"`
	Total      int    `json:"total"`
}

// SubmittedData accompanies EventSubmitted.
type SubmittedData struct {
	AttemptID string `json:"attempt_id"`
	Forced    bool   `json:"forced"`
	Reason    string `json:"reason"`
	Message   string `json:"message,omitempty"`
}

// SubmitFailedData accompanies EventSubmitFailed.
type SubmitFailedData struct {
	Error string `json:"error"`
}
