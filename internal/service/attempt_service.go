package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// Attempt errors.
var (
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrAttemptFinished    = errors.New("attempt is no longer in progress")
	ErrAttemptNotFinished = errors.New("attempt has not been submitted")
	ErrAlreadyAttempted   = errors.New("exam already attempted")
	ErrUnknownQuestion    = errors.New("question does not belong to this exam")
	ErrInvalidAnswer      = errors.New("answer is not one of the question's options")
)

// attemptMetaSlack keeps attempt metadata cached past the exam duration.
const attemptMetaSlack = 2 * time.Hour

// AttemptService runs the backend side of a proctored attempt: start, answer
// sync, violation log, screenshots, submission and results.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	examService *ExamService
	media       *MediaService
	monitor     *MonitorService
	rdb         *redis.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	examService *ExamService,
	media *MediaService,
	monitor *MonitorService,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		examService: examService,
		media:       media,
		monitor:     monitor,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

// ─── Start ───────────────────────────────────────────────────────────

// StartAttempt opens a new attempt for the student. A previous IN_PROGRESS
// attempt of the same exam is abandoned. Non-practice exams allow a single
// finished attempt, and password-protected exams must be unlocked first.
func (s *AttemptService) StartAttempt(ctx context.Context, examID uuid.UUID, studentID int, studentName string) (*model.StartAttemptResult, error) {
	exam, err := s.examService.GetPublishedExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	if exam.HasPassword {
		unlocked, err := s.examService.IsUnlocked(ctx, examID, studentID)
		if err != nil {
			return nil, err
		}
		if !unlocked {
			return nil, ErrExamLocked
		}
	}

	if !exam.IsPractice {
		finished, err := s.attemptRepo.CountFinished(ctx, examID, studentID)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if finished > 0 {
			return nil, ErrAlreadyAttempted
		}
	}

	attempt := &model.Attempt{ExamID: examID, StudentID: studentID, StudentName: studentName}
	abandoned, err := s.attemptRepo.Start(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("start attempt: %w", err)
	}

	ttl := time.Duration(exam.DurationMinutes)*time.Minute + attemptMetaSlack
	meta := model.AttemptMeta{
		AttemptID:   attempt.ID,
		ExamID:      examID,
		StudentID:   studentID,
		StudentName: studentName,
		Status:      model.AttemptStatusInProgress,
	}
	pipe := s.rdb.Pipeline()
	for _, id := range abandoned {
		pipe.Del(ctx,
			config.CacheKey.AttemptMetaKey(id.String()),
			config.CacheKey.AttemptAnswersKey(id.String()),
			config.CacheKey.AttemptViolationsKey(id.String()),
		)
	}
	if data, err := json.Marshal(meta); err == nil {
		pipe.Set(ctx, config.CacheKey.AttemptMetaKey(attempt.ID.String()), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// The metadata self-heals from PostgreSQL on the next call.
		s.log.Warn().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Failed to cache attempt meta")
	}

	for _, id := range abandoned {
		s.monitor.Publish(ctx, examID, MonitorEvent{
			Type:      MonitorAttemptAbandoned,
			AttemptID: id,
			StudentID: studentID,
			Status:    model.AttemptStatusAbandoned,
		})
	}
	s.monitor.Publish(ctx, examID, MonitorEvent{
		Type:        MonitorAttemptStarted,
		AttemptID:   attempt.ID,
		StudentID:   studentID,
		StudentName: studentName,
		Status:      model.AttemptStatusInProgress,
	})

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Int("abandoned", len(abandoned)).
		Msg("Attempt started")

	return &model.StartAttemptResult{AttemptID: attempt.ID, StartedAt: attempt.StartedAt}, nil
}

// ─── Fast lane ───────────────────────────────────────────────────────

// SaveAnswer records one answer in Redis and queues it for PostgreSQL.
func (s *AttemptService) SaveAnswer(ctx context.Context, studentID int, attemptID, questionID uuid.UUID, value string) error {
	meta, err := s.liveMeta(ctx, attemptID, studentID)
	if err != nil {
		return err
	}

	exam, err := s.examService.GetPublishedExam(ctx, meta.ExamID)
	if err != nil {
		return err
	}
	if err := checkAnswer(exam, questionID, value); err != nil {
		return err
	}

	job, _ := json.Marshal(model.AnswerJob{
		AttemptID:  attemptID.String(),
		QuestionID: questionID.String(),
		Value:      value,
	})

	answersKey := config.CacheKey.AttemptAnswersKey(attemptID.String())
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, answersKey, questionID.String(), value)
	pipe.Expire(ctx, answersKey, time.Duration(exam.DurationMinutes)*time.Minute+attemptMetaSlack)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// LogViolation counts a violation, queues it for PostgreSQL and notifies the
// live monitor.
func (s *AttemptService) LogViolation(ctx context.Context, studentID int, attemptID uuid.UUID, v model.Violation) error {
	meta, err := s.liveMeta(ctx, attemptID, studentID)
	if err != nil {
		return err
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = s.now()
	}

	job, _ := json.Marshal(model.ViolationJob{
		AttemptID: attemptID.String(),
		Type:      v.Type,
		Details:   v.Details,
		Timestamp: v.Timestamp.UnixMilli(),
	})

	countKey := config.CacheKey.AttemptViolationsKey(attemptID.String())
	pipe := s.rdb.Pipeline()
	incr := pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, 24*time.Hour)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("log violation: %w", err)
	}

	s.monitor.Publish(ctx, meta.ExamID, MonitorEvent{
		Type:           MonitorViolation,
		AttemptID:      attemptID,
		StudentID:      studentID,
		StudentName:    meta.StudentName,
		ViolationType:  v.Type,
		ViolationCount: incr.Val(),
		At:             v.Timestamp,
	})
	return nil
}

// UploadScreenshot stores a captured frame and queues its metadata.
func (s *AttemptService) UploadScreenshot(ctx context.Context, studentID int, attemptID uuid.UUID, image string, kind model.ScreenshotKind) (string, error) {
	if _, err := s.liveMeta(ctx, attemptID, studentID); err != nil {
		return "", err
	}

	path, err := s.media.SaveDataURL(ScreenshotDir+"/"+attemptID.String(), image)
	if err != nil {
		return "", err
	}

	job, _ := json.Marshal(model.ScreenshotJob{
		AttemptID:  attemptID.String(),
		Kind:       kind,
		Path:       path,
		CapturedAt: s.now().UnixMilli(),
	})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistScreenshotsQueue, job).Err(); err != nil {
		return "", fmt.Errorf("queue screenshot: %w", err)
	}
	return path, nil
}

// ─── Submit ──────────────────────────────────────────────────────────

// SubmitExam grades and seals an attempt. Submitting an attempt that is
// already sealed succeeds without changing it.
func (s *AttemptService) SubmitExam(ctx context.Context, studentID int, sub model.Submission) (*model.SubmitResult, error) {
	meta, err := s.meta(ctx, sub.AttemptID, studentID)
	if err != nil {
		return nil, err
	}
	if sub.ExamID != uuid.Nil && sub.ExamID != meta.ExamID {
		return nil, ErrAttemptNotFound
	}
	if meta.Status.Finished() {
		return &model.SubmitResult{Success: true, Message: "Ujian sudah dikumpulkan.", AttemptID: sub.AttemptID}, nil
	}
	if meta.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptFinished
	}

	attempt, err := s.attemptRepo.GetByID(ctx, sub.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	exam, err := s.examService.GetPublishedExam(ctx, meta.ExamID)
	if err != nil {
		return nil, err
	}
	sheet, err := s.examService.GetScoringSheet(ctx, meta.ExamID)
	if err != nil {
		return nil, err
	}

	answers := s.mergeAnswers(ctx, sub.AttemptID, sheet, sub.Answers)
	grade := GradeAnswers(sheet, answers, exam.PassingMarks)

	violationCount := len(sub.Violations)
	if n, err := s.rdb.Get(ctx, config.CacheKey.AttemptViolationsKey(sub.AttemptID.String())).Int(); err == nil && n > violationCount {
		violationCount = n
	}

	reason := sub.Reason
	if reason == "" {
		reason = model.EndReasonManual
	}
	status := model.AttemptStatusSubmitted
	if sub.Forced && reason == model.EndReasonDisqualified {
		status = model.AttemptStatusDisqualified
	}

	now := s.now()
	f := repository.Finalization{
		Status:           status,
		SubmittedAt:      now,
		TimeSpentSeconds: timeSpent(sub.TimeSpentSeconds, attempt.StartedAt, now, exam.DurationSeconds()),
		ViolationCount:   violationCount,
		Forced:           sub.Forced,
		EndReason:        reason,
		Score:            grade.Score,
		TotalMarks:       grade.TotalMarks,
		Percentage:       grade.Percentage,
		Passed:           grade.Passed,
	}

	err = s.attemptRepo.Finalize(ctx, sub.AttemptID, answers, f)
	if errors.Is(err, repository.ErrAttemptSealed) {
		return &model.SubmitResult{Success: true, Message: "Ujian sudah dikumpulkan.", AttemptID: sub.AttemptID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	meta.Status = status
	if data, err := json.Marshal(meta); err == nil {
		if err := s.rdb.Set(ctx, config.CacheKey.AttemptMetaKey(sub.AttemptID.String()), data, attemptMetaSlack).Err(); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", sub.AttemptID.String()).Msg("Failed to update attempt meta")
		}
	}

	evType := MonitorSubmitted
	if status == model.AttemptStatusDisqualified {
		evType = MonitorDisqualified
	}
	score := grade.Score
	s.monitor.Publish(ctx, meta.ExamID, MonitorEvent{
		Type:           evType,
		AttemptID:      sub.AttemptID,
		StudentID:      studentID,
		StudentName:    meta.StudentName,
		Status:         status,
		ViolationCount: int64(violationCount),
		Score:          &score,
	})

	s.log.Info().
		Str("attempt_id", sub.AttemptID.String()).
		Str("exam_id", meta.ExamID.String()).
		Str("status", string(status)).
		Str("reason", reason).
		Float64("score", grade.Score).
		Msg("Attempt submitted")

	return &model.SubmitResult{Success: true, AttemptID: sub.AttemptID}, nil
}

// mergeAnswers overlays the submitted answers on the ones synced to Redis,
// keeping only questions of the exam.
func (s *AttemptService) mergeAnswers(ctx context.Context, attemptID uuid.UUID, sheet ScoringSheet, submitted []model.Answer) []model.Answer {
	merged := make(map[uuid.UUID]model.Answer, len(sheet))

	synced, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to read synced answers")
	}
	for k, v := range synced {
		qid, err := uuid.Parse(k)
		if err != nil {
			continue
		}
		if _, ok := sheet[qid]; ok {
			merged[qid] = model.Answer{QuestionID: qid, Value: v}
		}
	}
	for _, a := range submitted {
		if _, ok := sheet[a.QuestionID]; ok {
			merged[a.QuestionID] = a
		}
	}

	answers := make([]model.Answer, 0, len(merged))
	for _, a := range merged {
		answers = append(answers, a)
	}
	return answers
}

func timeSpent(reported int, startedAt, now time.Time, limit int) int {
	spent := reported
	if spent <= 0 {
		spent = int(now.Sub(startedAt).Seconds())
	}
	if spent < 0 {
		spent = 0
	}
	if limit > 0 && spent > limit {
		spent = limit
	}
	return spent
}

// ─── Results ─────────────────────────────────────────────────────────

// GetExamResult returns a sealed attempt. studentID 0 reads any attempt
// with full disclosure; students only see their own, with per-question
// correctness when the exam allows it.
func (s *AttemptService) GetExamResult(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamResult, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if studentID != 0 && attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}
	if !attempt.Status.Finished() {
		return nil, ErrAttemptNotFinished
	}

	exam, err := s.examService.GetByID(ctx, attempt.ExamID)
	if err != nil {
		return nil, err
	}
	answers, err := s.attemptRepo.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	violations, err := s.attemptRepo.ListViolations(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	disclosed := studentID == 0 || exam.IsPractice || exam.Settings.ShowResults
	return BuildResult(exam, attempt, answers, violations, disclosed), nil
}

// BuildResult renders a sealed attempt. Correctness, correct options,
// explanations and awarded marks are only filled in when disclosed.
func BuildResult(exam *model.Exam, attempt *model.Attempt, answers []model.Answer, violations []model.Violation, disclosed bool) *model.ExamResult {
	res := &model.ExamResult{
		AttemptID:        attempt.ID,
		ExamID:           exam.ID,
		ExamTitle:        exam.Title,
		StudentName:      attempt.StudentName,
		Status:           attempt.Status,
		TimeSpentSeconds: attempt.TimeSpentSeconds,
		SubmittedAt:      attempt.SubmittedAt,
		Disclosed:        disclosed,
		Answers:          make([]model.AnswerResult, 0, len(exam.Questions)),
		Violations:       violations,
	}
	if res.Violations == nil {
		res.Violations = []model.Violation{}
	}
	if attempt.Score != nil {
		res.Score = *attempt.Score
	}
	if attempt.TotalMarks != nil {
		res.TotalMarks = *attempt.TotalMarks
	}
	if attempt.Percentage != nil {
		res.Percentage = *attempt.Percentage
	}
	if attempt.Passed != nil {
		res.Passed = *attempt.Passed
	}

	byQuestion := make(map[uuid.UUID]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	var outcomes map[uuid.UUID]Outcome
	if disclosed {
		outcomes = GradeAnswers(NewScoringSheet(exam.Questions), answers, exam.PassingMarks).Outcomes
	}

	for _, q := range exam.Questions {
		a := byQuestion[q.ID]
		row := model.AnswerResult{
			QuestionID: q.ID,
			Type:       q.Type,
			Prompt:     q.Prompt,
			Value:      a.Value,
			Flagged:    a.Flagged,
		}
		if disclosed {
			o := outcomes[q.ID]
			row.Correct = o.Correct
			row.MarksAwarded = o.Awarded
			row.CorrectOption = q.CorrectOption
			row.Explanation = q.Explanation
		}
		res.Answers = append(res.Answers, row)
	}
	return res
}

// ListAttempts lists the attempts of an exam for admins.
func (s *AttemptService) ListAttempts(ctx context.Context, examID uuid.UUID, status string, page, perPage int) ([]model.Attempt, *response.Pagination, error) {
	page, perPage = clampPage(page, perPage)
	attempts, total, err := s.attemptRepo.ListByExam(ctx, examID, status, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	return attempts, response.NewPagination(page, perPage, total), nil
}

// ─── Helpers ─────────────────────────────────────────────────────────

// meta returns the ownership record of an attempt from Redis, falling back to
// PostgreSQL and re-caching it.
func (s *AttemptService) meta(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptMeta, error) {
	key := config.CacheKey.AttemptMetaKey(attemptID.String())

	var meta model.AttemptMeta
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, &meta) == nil {
		if meta.StudentID != studentID {
			return nil, ErrAttemptNotFound
		}
		return &meta, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Attempt meta cache unavailable")
	}

	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.StudentID != studentID {
		return nil, ErrAttemptNotFound
	}

	meta = model.AttemptMeta{
		AttemptID:   attempt.ID,
		ExamID:      attempt.ExamID,
		StudentID:   attempt.StudentID,
		StudentName: attempt.StudentName,
		Status:      attempt.Status,
	}
	if data, err := json.Marshal(meta); err == nil {
		_ = s.rdb.Set(ctx, key, data, attemptMetaSlack).Err()
	}
	return &meta, nil
}

func (s *AttemptService) liveMeta(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.AttemptMeta, error) {
	meta, err := s.meta(ctx, attemptID, studentID)
	if err != nil {
		return nil, err
	}
	if meta.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptFinished
	}
	return meta, nil
}

// checkAnswer validates a value against the exam's question. Empty values
// clear an answer and are always accepted.
func checkAnswer(exam *model.Exam, questionID uuid.UUID, value string) error {
	for _, q := range exam.Questions {
		if q.ID != questionID {
			continue
		}
		if value == "" || !q.Type.IsChoice() {
			return nil
		}
		for _, o := range q.Options {
			if o.Label == value {
				return nil
			}
		}
		return ErrInvalidAnswer
	}
	return ErrUnknownQuestion
}

// ─── proctor.Backend ─────────────────────────────────────────────────

// ForStudent binds the service to an authenticated student so it can drive
// a proctored attempt.
func (s *AttemptService) ForStudent(studentID int, studentName string) proctor.Backend {
	return &studentBackend{svc: s, studentID: studentID, studentName: studentName}
}

type studentBackend struct {
	svc         *AttemptService
	studentID   int
	studentName string
}

func (b *studentBackend) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	return b.svc.examService.GetPublishedExam(ctx, examID)
}

func (b *studentBackend) StartAttempt(ctx context.Context, examID uuid.UUID, studentName string) (*model.StartAttemptResult, error) {
	if studentName == "" {
		studentName = b.studentName
	}
	return b.svc.StartAttempt(ctx, examID, b.studentID, studentName)
}

func (b *studentBackend) SaveAnswer(ctx context.Context, attemptID, _, questionID uuid.UUID, value string) error {
	return b.svc.SaveAnswer(ctx, b.studentID, attemptID, questionID, value)
}

func (b *studentBackend) LogViolation(ctx context.Context, attemptID, _ uuid.UUID, v model.Violation) error {
	return b.svc.LogViolation(ctx, b.studentID, attemptID, v)
}

func (b *studentBackend) UploadScreenshot(ctx context.Context, attemptID, _ uuid.UUID, image string, kind model.ScreenshotKind) error {
	_, err := b.svc.UploadScreenshot(ctx, b.studentID, attemptID, image, kind)
	return err
}

func (b *studentBackend) SubmitExam(ctx context.Context, sub model.Submission) (*model.SubmitResult, error) {
	return b.svc.SubmitExam(ctx, b.studentID, sub)
}
