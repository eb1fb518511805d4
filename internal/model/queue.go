package model

// Jobs pushed onto the Redis persist queues and drained by the workers.

// AnswerJob persists one answer of a running attempt.
type AnswerJob struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"q_id"`
	Value      string `json:"ans"`
}

// ViolationJob persists one violation log entry.
type ViolationJob struct {
	AttemptID string        `json:"attempt_id"`
	Type      ViolationType `json:"type"`
	Details   string        `json:"details"`
	Timestamp int64         `json:"ts"`
}

// ScreenshotJob records a stored proctoring frame.
type ScreenshotJob struct {
	AttemptID  string         `json:"attempt_id"`
	Kind       ScreenshotKind `json:"kind"`
	Path       string         `json:"path"`
	CapturedAt int64          `json:"ts"`
}
