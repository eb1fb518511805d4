package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// DefaultGracePeriodSeconds is the time a student has to return to
// fullscreen before the exit counts as a violation.
const DefaultGracePeriodSeconds = 15

// ExamSettings holds the proctoring options of an exam. Stored as JSONB.
type ExamSettings struct {
	FullscreenRequired   bool `json:"fullscreen_required"`
	WebcamRequired       bool `json:"webcam_required"`
	MicrophoneRequired   bool `json:"microphone_required"`
	EnforceScreensharing bool `json:"enforce_screensharing"`

	AllowTabSwitching   bool `json:"allow_tab_switching"`
	AllowWindowBlur     bool `json:"allow_window_blur"`
	AllowFullscreenExit bool `json:"allow_fullscreen_exit"`
	AllowCopyPaste      bool `json:"allow_copy_paste"`
	AllowRightClick     bool `json:"allow_right_click"`
	AllowScreenshots    bool `json:"allow_screenshots"`

	MaxViolationsBeforeAction int  `json:"max_violations_before_action"`
	DisqualifyOnViolation     bool `json:"disqualify_on_violation"`
	AutoSubmitOnTimeUp        bool `json:"auto_submit_on_time_up"`
	AudibleAlerts             bool `json:"audible_alerts"`

	ScreenshotIntervalSeconds int  `json:"screenshot_interval_seconds"`
	GracePeriodSeconds        int  `json:"grace_period_seconds"`
	ShowResults               bool `json:"show_results"`
}

// Effective returns the settings that actually apply to an attempt.
// Practice exams run without any proctoring requirement.
func (s ExamSettings) Effective(isPractice bool) ExamSettings {
	if s.GracePeriodSeconds <= 0 {
		s.GracePeriodSeconds = DefaultGracePeriodSeconds
	}
	if !isPractice {
		return s
	}
	return ExamSettings{
		FullscreenRequired:  false,
		AllowTabSwitching:   true,
		AllowWindowBlur:     true,
		AllowFullscreenExit: true,
		AllowCopyPaste:      true,
		AllowRightClick:     true,
		AllowScreenshots:    true,
		AutoSubmitOnTimeUp:  s.AutoSubmitOnTimeUp,
		GracePeriodSeconds:  s.GracePeriodSeconds,
		ShowResults:         true,
	}
}

// Exam represents an exam definition together with its questions.
type Exam struct {
	ID              uuid.UUID    `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	AuthorID        int          `json:"author_id,omitempty"`
	DurationMinutes int          `json:"duration_minutes"`
	TotalMarks      float64      `json:"total_marks"`
	PassingMarks    float64      `json:"passing_marks"`
	IsPractice      bool         `json:"is_practice"`
	PasswordHash    string       `json:"-"`
	HasPassword     bool         `json:"has_password"`
	Settings        ExamSettings `json:"settings"`
	Questions       []Question   `json:"questions,omitempty"`
	Status          ExamStatus   `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DurationSeconds returns the attempt duration in seconds.
func (e *Exam) DurationSeconds() int {
	return e.DurationMinutes * 60
}

// ForStudent returns a copy safe to send to a student. Correct options and
// explanations only travel with practice exams.
func (e *Exam) ForStudent() *Exam {
	cp := *e
	cp.PasswordHash = ""
	cp.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		if !e.IsPractice {
			q.CorrectOption = ""
			q.Explanation = ""
		}
		cp.Questions[i] = q
	}
	return &cp
}

// CreateExamRequest is the payload for creating a new exam.
type CreateExamRequest struct {
	Title           string       `json:"title" binding:"required,min=3,max=255"`
	Description     string       `json:"description" binding:"omitempty,max=5000"`
	DurationMinutes int          `json:"duration_minutes" binding:"required,min=1,max=480"`
	TotalMarks      float64      `json:"total_marks" binding:"omitempty,min=0"`
	PassingMarks    float64      `json:"passing_marks" binding:"omitempty,min=0"`
	IsPractice      bool         `json:"is_practice"`
	Password        string       `json:"password" binding:"omitempty,min=4,max=64"`
	Settings        ExamSettings `json:"settings"`
}

// UpdateExamRequest is the payload for updating a draft exam.
type UpdateExamRequest struct {
	Title           string        `json:"title" binding:"omitempty,min=3,max=255"`
	Description     *string       `json:"description" binding:"omitempty,max=5000"`
	DurationMinutes int           `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	TotalMarks      *float64      `json:"total_marks" binding:"omitempty,min=0"`
	PassingMarks    *float64      `json:"passing_marks" binding:"omitempty,min=0"`
	IsPractice      *bool         `json:"is_practice"`
	Password        *string       `json:"password" binding:"omitempty,max=64"`
	Settings        *ExamSettings `json:"settings"`
}

// VerifyPasswordRequest is the payload for unlocking an exam.
type VerifyPasswordRequest struct {
	Password string `json:"password" binding:"max=64"`
}

// EntryStep names where the student goes after unlocking an exam.
type EntryStep string

const (
	EntryStepConsent EntryStep = "consent"
	EntryStepAttempt EntryStep = "attempt"
)

// VerifyPasswordResult is returned by the password check.
type VerifyPasswordResult struct {
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	NextStep EntryStep `json:"next_step,omitempty"`
}
