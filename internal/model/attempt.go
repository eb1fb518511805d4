package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states as persisted by the backend.
type AttemptStatus string

const (
	AttemptStatusInProgress   AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted    AttemptStatus = "SUBMITTED"
	AttemptStatusDisqualified AttemptStatus = "DISQUALIFIED"
	AttemptStatusAbandoned    AttemptStatus = "ABANDONED"
)

// Finished reports whether the attempt has been sealed.
func (s AttemptStatus) Finished() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusDisqualified
}

// End reasons recorded on the attempt.
const (
	EndReasonManual       = "manual"
	EndReasonTimeUp       = "time_up"
	EndReasonDisqualified = "disqualified"
)

// Attempt is one student's timed pass through an exam.
type Attempt struct {
	ID               uuid.UUID     `json:"id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	StudentID        int           `json:"student_id"`
	StudentName      string        `json:"student_name"`
	Status           AttemptStatus `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	SubmittedAt      *time.Time    `json:"submitted_at,omitempty"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
	ViolationCount   int           `json:"violation_count"`
	Forced           bool          `json:"forced"`
	EndReason        string        `json:"end_reason,omitempty"`
	Score            *float64      `json:"score,omitempty"`
	TotalMarks       *float64      `json:"total_marks,omitempty"`
	Percentage       *float64      `json:"percentage,omitempty"`
	Passed           *bool         `json:"passed,omitempty"`
	Violations       []Violation   `json:"violations,omitempty"`
}

// Answer is the per-question mutable record of an attempt.
type Answer struct {
	QuestionID uuid.UUID `json:"question_id"`
	Value      string    `json:"value"`
	Flagged    bool      `json:"flagged"`
}

// AttemptMeta is the cached ownership record used by the fast lane.
type AttemptMeta struct {
	AttemptID   uuid.UUID     `json:"attempt_id"`
	ExamID      uuid.UUID     `json:"exam_id"`
	StudentID   int           `json:"student_id"`
	StudentName string        `json:"student_name"`
	Status      AttemptStatus `json:"status"`
}

// StartAttemptResult is returned when a backend attempt record is created.
type StartAttemptResult struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	StartedAt time.Time `json:"started_at"`
}

// SaveAnswerRequest is the payload for a single answer sync.
type SaveAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,uuid"`
	Answer     string `json:"answer" binding:"max=20000"`
}

// Submission is the final payload of an attempt.
type Submission struct {
	AttemptID        uuid.UUID   `json:"attempt_id"`
	ExamID           uuid.UUID   `json:"exam_id"`
	Answers          []Answer    `json:"answers"`
	Violations       []Violation `json:"violations"`
	TimeSpentSeconds int         `json:"time_spent_seconds"`
	Forced           bool        `json:"forced"`
	Reason           string      `json:"reason,omitempty"`
}

// SubmitExamRequest is the HTTP shape of a Submission.
type SubmitExamRequest struct {
	Answers          []Answer    `json:"answers" binding:"dive"`
	Violations       []Violation `json:"violations" binding:"dive"`
	TimeSpentSeconds int         `json:"time_spent_seconds" binding:"min=0"`
	Forced           bool        `json:"forced"`
	Reason           string      `json:"reason" binding:"omitempty,oneof=manual time_up disqualified"`
}

// SubmitResult acknowledges a submission.
type SubmitResult struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	AttemptID uuid.UUID `json:"attempt_id"`
}

// AnswerResult is one row of a rendered result.
type AnswerResult struct {
	QuestionID    uuid.UUID    `json:"question_id"`
	Type          QuestionType `json:"question_type"`
	Prompt        string       `json:"prompt"`
	Value         string       `json:"value"`
	Flagged       bool         `json:"flagged"`
	Correct       *bool        `json:"correct,omitempty"`
	CorrectOption string       `json:"correct_option,omitempty"`
	Explanation   string       `json:"explanation,omitempty"`
	MarksAwarded  *float64     `json:"marks_awarded,omitempty"`
}

// ExamResult is the finalized attempt record consumed by the result page.
type ExamResult struct {
	AttemptID        uuid.UUID      `json:"attempt_id"`
	ExamID           uuid.UUID      `json:"exam_id"`
	ExamTitle        string         `json:"exam_title"`
	StudentName      string         `json:"student_name"`
	Status           AttemptStatus  `json:"status"`
	Score            float64        `json:"score"`
	TotalMarks       float64        `json:"total_marks"`
	Percentage       float64        `json:"percentage"`
	Passed           bool           `json:"passed"`
	TimeSpentSeconds int            `json:"time_spent_seconds"`
	SubmittedAt      *time.Time     `json:"submitted_at,omitempty"`
	Disclosed        bool           `json:"disclosed"`
	Answers          []AnswerResult `json:"answers"`
	Violations       []Violation    `json:"violations"`
}
