package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Monitor event types published on the exam channel.
const (
	MonitorAttemptStarted   = "attempt_started"
	MonitorAttemptAbandoned = "attempt_abandoned"
	MonitorViolation        = "violation"
	MonitorSubmitted        = "attempt_submitted"
	MonitorDisqualified     = "attempt_disqualified"
)

// MonitorEvent is one live update for admins watching an exam.
type MonitorEvent struct {
	Type           string              `json:"type"`
	AttemptID      uuid.UUID           `json:"attempt_id"`
	StudentID      int                 `json:"student_id"`
	StudentName    string              `json:"student_name,omitempty"`
	Status         model.AttemptStatus `json:"status,omitempty"`
	ViolationType  model.ViolationType `json:"violation_type,omitempty"`
	ViolationCount int64               `json:"violation_count,omitempty"`
	Score          *float64            `json:"score,omitempty"`
	At             time.Time           `json:"at"`
}

// MonitorSnapshot is the state sent when an admin attaches to the monitor.
type MonitorSnapshot struct {
	ExamID          uuid.UUID                `json:"exam_id"`
	Title           string                   `json:"title"`
	DurationMinutes int                      `json:"duration_minutes"`
	TotalQuestions  int                      `json:"total_questions"`
	TotalViolations int64                    `json:"total_violations"`
	Attempts        []repository.LiveAttempt `json:"attempts"`
}

// MonitorService orchestrates live exam monitoring.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends an event to the exam's monitor channel. Failures are logged
// and never surface to the student.
func (s *MonitorService) Publish(ctx context.Context, examID uuid.UUID, ev MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Marshal monitor event")
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), payload).Err(); err != nil {
		s.log.Warn().Err(err).
			Str("exam_id", examID.String()).
			Str("type", ev.Type).
			Msg("Failed to publish monitor event")
	}
}

// Subscribe attaches to the exam's monitor channel.
func (s *MonitorService) Subscribe(ctx context.Context, examID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}

// Progress returns the live attempts of an exam. Answer counts fall back to
// PostgreSQL for attempts whose Redis hash is gone.
func (s *MonitorService) Progress(ctx context.Context, examID uuid.UUID) ([]repository.LiveAttempt, int64, error) {
	live, err := s.monitorRepo.ListLive(ctx, examID)
	if err != nil {
		return nil, 0, err
	}

	missing := false
	var totalViolations int64
	for _, a := range live {
		totalViolations += a.ViolationCount
		if a.Answered == 0 {
			missing = true
		}
	}

	if missing {
		// Persisted counts are best-effort.
		if counts, err := s.monitorRepo.GetAnsweredCounts(ctx, examID); err == nil {
			for i := range live {
				if live[i].Answered == 0 {
					live[i].Answered = counts[live[i].AttemptID]
				}
			}
		} else {
			s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to read persisted answer counts")
		}
	}
	return live, totalViolations, nil
}

// Snapshot builds the initial monitor state of an exam.
func (s *MonitorService) Snapshot(ctx context.Context, exam *model.Exam) (*MonitorSnapshot, error) {
	live, total, err := s.Progress(ctx, exam.ID)
	if err != nil {
		return nil, err
	}
	return &MonitorSnapshot{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		TotalQuestions:  len(exam.Questions),
		TotalViolations: total,
		Attempts:        live,
	}, nil
}
