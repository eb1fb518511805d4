package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	"golang.org/x/crypto/bcrypt"
)

// Domain Errors
var (
	ErrExamNotFound       = errors.New("exam not found")
	ErrNotExamAuthor      = errors.New("not the author of this exam")
	ErrNoQuestions        = errors.New("exam has no questions, cannot publish/start")
	ErrExamNotDraft       = errors.New("exam status is not DRAFT")
	ErrExamNotPublished   = errors.New("exam status is not PUBLISHED")
	ErrInvalidQuestion    = errors.New("invalid question")
	ErrWrongExamPassword  = errors.New("wrong exam password")
	ErrTooManyGuesses     = errors.New("too many password attempts")
	ErrExamLocked         = errors.New("exam is locked by a password")
	errScoringCacheAbsent = errors.New("scoring sheet not cached")
)

// ExamService handles exam business logic and Redis caching.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	cfg          *config.Config
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		cfg:          cfg,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// ─── Admin ───────────────────────────────────────────────────────────

// GetByID retrieves an exam with its questions.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	exam.Questions, err = s.questionRepo.ListByExam(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return exam, nil
}

// ListByAuthor retrieves exams, filtered by author unless authorID is 0.
func (s *ExamService) ListByAuthor(ctx context.Context, authorID, page, perPage int) ([]model.Exam, *response.Pagination, error) {
	page, perPage = clampPage(page, perPage)

	exams, total, err := s.examRepo.ListByAuthorPaginated(ctx, authorID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, err
	}
	return exams, response.NewPagination(page, perPage, total), nil
}

// Create inserts a new exam as DRAFT.
func (s *ExamService) Create(ctx context.Context, authorID int, req *model.CreateExamRequest) (*model.Exam, error) {
	exam := &model.Exam{
		Title:           req.Title,
		Description:     req.Description,
		AuthorID:        authorID,
		DurationMinutes: req.DurationMinutes,
		TotalMarks:      req.TotalMarks,
		PassingMarks:    req.PassingMarks,
		IsPractice:      req.IsPractice,
		Settings:        req.Settings,
		Status:          model.ExamStatusDraft,
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		exam.PasswordHash = string(hash)
	}
	exam.HasPassword = exam.PasswordHash != ""

	if err := s.examRepo.Create(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

// Update modifies a draft exam. authorID 0 skips the author check.
func (s *ExamService) Update(ctx context.Context, authorID int, id uuid.UUID, req *model.UpdateExamRequest) (*model.Exam, error) {
	exam, err := s.ownedExam(ctx, authorID, id)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusDraft {
		return nil, ErrExamNotDraft
	}

	if req.Title != "" {
		exam.Title = req.Title
	}
	if req.Description != nil {
		exam.Description = *req.Description
	}
	if req.DurationMinutes > 0 {
		exam.DurationMinutes = req.DurationMinutes
	}
	if req.TotalMarks != nil {
		exam.TotalMarks = *req.TotalMarks
	}
	if req.PassingMarks != nil {
		exam.PassingMarks = *req.PassingMarks
	}
	if req.IsPractice != nil {
		exam.IsPractice = *req.IsPractice
	}
	if req.Settings != nil {
		exam.Settings = *req.Settings
	}
	if req.Password != nil {
		exam.PasswordHash = ""
		if *req.Password != "" {
			hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.cfg.BcryptCost)
			if err != nil {
				return nil, fmt.Errorf("hash password: %w", err)
			}
			exam.PasswordHash = string(hash)
		}
	}
	exam.HasPassword = exam.PasswordHash != ""

	if err := s.examRepo.Update(ctx, exam); err != nil {
		return nil, err
	}
	return exam, nil
}

// ReplaceQuestions swaps the question set of a draft or published exam.
// Published exams get their cache re-warmed.
func (s *ExamService) ReplaceQuestions(ctx context.Context, authorID int, examID uuid.UUID, inputs []model.QuestionInput) ([]model.Question, error) {
	exam, err := s.ownedExam(ctx, authorID, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status == model.ExamStatusArchived {
		return nil, ErrExamNotDraft
	}

	questions, total, err := BuildQuestions(examID, inputs)
	if err != nil {
		return nil, err
	}
	if err := s.questionRepo.ReplaceForExam(ctx, examID, questions, total); err != nil {
		return nil, fmt.Errorf("replace questions: %w", err)
	}
	exam.TotalMarks = total

	if exam.Status == model.ExamStatusPublished {
		if err := s.WarmExamCache(ctx, exam); err != nil {
			return nil, err
		}
	}
	return questions, nil
}

// ImportQuestions replaces an exam's questions from an uploaded workbook.
func (s *ExamService) ImportQuestions(ctx context.Context, authorID int, examID uuid.UUID, r io.Reader) ([]model.Question, map[string]string, error) {
	inputs, rowErrors, err := ParseQuestionSheet(r)
	if err != nil {
		return nil, nil, err
	}
	if len(rowErrors) > 0 {
		return nil, rowErrors, fmt.Errorf("%w: %d rows rejected", ErrInvalidSheet, len(rowErrors))
	}
	questions, err := s.ReplaceQuestions(ctx, authorID, examID, inputs)
	return questions, nil, err
}

// BuildQuestions turns admin inputs into normalized questions and returns
// their total marks. Choice questions need two options and a correct label
// among them.
func BuildQuestions(examID uuid.UUID, inputs []model.QuestionInput) ([]model.Question, float64, error) {
	if len(inputs) == 0 {
		return nil, 0, ErrNoQuestions
	}

	draft := &model.Exam{DurationMinutes: 1, Questions: make([]model.Question, len(inputs))}
	for i, in := range inputs {
		draft.Questions[i] = model.Question{
			ID:            uuid.New(),
			ExamID:        examID,
			Type:          in.Type,
			Prompt:        in.Prompt,
			Options:       in.Options,
			CorrectOption: in.CorrectOption,
			Marks:         in.Marks,
			NegativeMarks: in.NegativeMarks,
			Difficulty:    in.Difficulty,
			Explanation:   in.Explanation,
			OrderNum:      i + 1,
		}
	}

	normalized, err := proctor.Normalize(draft)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}

	var total float64
	for i, q := range normalized.Questions {
		total += q.Marks
		if !q.Type.IsChoice() {
			continue
		}
		if len(q.Options) < 2 {
			return nil, 0, fmt.Errorf("%w: question %d needs at least two options", ErrInvalidQuestion, i+1)
		}
		found := false
		seen := make(map[string]bool, len(q.Options))
		for _, o := range q.Options {
			if seen[o.Label] {
				return nil, 0, fmt.Errorf("%w: question %d repeats label %s", ErrInvalidQuestion, i+1, o.Label)
			}
			seen[o.Label] = true
			if o.Label == q.CorrectOption {
				found = true
			}
		}
		if !found {
			return nil, 0, fmt.Errorf("%w: question %d has no valid correct option", ErrInvalidQuestion, i+1)
		}
	}
	return normalized.Questions, total, nil
}

// Publish changes exam status to PUBLISHED and caches the payload + scoring sheet in Redis.
// This is the critical path that populates the "Fast Lane".
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.ownedExam(ctx, authorID, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	// Prewarm cache for this exam.
	exam.Status = model.ExamStatusPublished
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	// Update status in PostgreSQL.
	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// RefreshCache re-caches the payload + scoring sheet for a published exam.
func (s *ExamService) RefreshCache(ctx context.Context, examID uuid.UUID, authorID int) error {
	exam, err := s.ownedExam(ctx, authorID, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Cache refreshed")
	return nil
}

// WarmExamCache loads an exam's student payload and scoring sheet from PostgreSQL into Redis.
// This is the core cache-warming logic used by Publish, RefreshCache, and PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	full := *exam
	full.Questions = questions
	_, err = s.cacheExam(ctx, &full)
	return err
}

// cacheExam writes the student payload and scoring sheet of a loaded exam
// and returns the student payload.
func (s *ExamService) cacheExam(ctx context.Context, exam *model.Exam) (*model.Exam, error) {
	payload := exam.ForStudent()
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	// Scoring sheet as a hash for RAM grading.
	sheet := make(map[string]interface{}, len(exam.Questions))
	for qid, entry := range NewScoringSheet(exam.Questions) {
		b, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("marshal scoring: %w", err)
		}
		sheet[qid.String()] = b
	}

	// Cache both atomically via pipeline.
	id := exam.ID.String()
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(id), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.ExamScoringKey(id))
	pipe.HSet(ctx, config.CacheKey.ExamScoringKey(id), sheet)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", id).
		Int("questions", len(exam.Questions)).
		Msg("Cache warmed")
	return payload, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// ─── Student ─────────────────────────────────────────────────────────

// ListLobby returns the published exams with the student's latest attempt.
func (s *ExamService) ListLobby(ctx context.Context, studentID int) ([]model.LobbyExam, error) {
	return s.examRepo.ListLobby(ctx, studentID)
}

// GetPublishedExam returns the student payload of a published exam, from
// Redis when cached and from PostgreSQL otherwise (re-warming the cache).
func (s *ExamService) GetPublishedExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID.String())).Bytes()
	if err == nil {
		var payload model.Exam
		if err := json.Unmarshal(data, &payload); err == nil {
			return &payload, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt payload cache, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Payload cache unavailable, using database")
	}

	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}
	if len(exam.Questions) == 0 {
		return nil, ErrNoQuestions
	}

	payload, err := s.cacheExam(ctx, exam)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to self-heal payload cache")
		return exam.ForStudent(), nil
	}
	return payload, nil
}

// GetScoringSheet returns the grading records of an exam, from Redis when
// cached and from PostgreSQL otherwise.
func (s *ExamService) GetScoringSheet(ctx context.Context, examID uuid.UUID) (ScoringSheet, error) {
	sheet, err := s.cachedScoringSheet(ctx, examID)
	if err == nil {
		return sheet, nil
	}
	if !errors.Is(err, errScoringCacheAbsent) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Scoring cache unavailable, using database")
	}

	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return NewScoringSheet(questions), nil
}

func (s *ExamService) cachedScoringSheet(ctx context.Context, examID uuid.UUID) (ScoringSheet, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamScoringKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get scoring sheet: %w", err)
	}
	if len(raw) == 0 {
		return nil, errScoringCacheAbsent
	}

	sheet := make(ScoringSheet, len(raw))
	for k, v := range raw {
		qid, err := uuid.Parse(k)
		if err != nil {
			return nil, fmt.Errorf("scoring key %q: %w", k, err)
		}
		var entry ScoringEntry
		if err := json.Unmarshal([]byte(v), &entry); err != nil {
			return nil, fmt.Errorf("scoring entry %q: %w", k, err)
		}
		sheet[qid] = entry
	}
	return sheet, nil
}

// VerifyPassword checks an exam password for a student. On success the exam
// stays unlocked for the student for the configured TTL. Guesses are capped
// per minute.
func (s *ExamService) VerifyPassword(ctx context.Context, examID uuid.UUID, studentID int, password string) (*model.VerifyPasswordResult, error) {
	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}

	if exam.PasswordHash != "" {
		guessKey := config.CacheKey.PasswordAttemptsKey(examID.String(), studentID)
		pipe := s.rdb.TxPipeline()
		incr := pipe.Incr(ctx, guessKey)
		pipe.ExpireNX(ctx, guessKey, time.Minute)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("count guesses: %w", err)
		}
		if limit := s.cfg.Proctor.PasswordAttemptsPerMinute; limit > 0 && incr.Val() > int64(limit) {
			return nil, ErrTooManyGuesses
		}

		if err := bcrypt.CompareHashAndPassword([]byte(exam.PasswordHash), []byte(password)); err != nil {
			return &model.VerifyPasswordResult{Success: false, Message: "Kata sandi ujian salah."}, ErrWrongExamPassword
		}
	}

	unlockKey := config.CacheKey.ExamUnlockedKey(examID.String(), studentID)
	if err := s.rdb.Set(ctx, unlockKey, 1, s.cfg.Proctor.ExamUnlockTTL).Err(); err != nil {
		return nil, fmt.Errorf("store unlock: %w", err)
	}

	return &model.VerifyPasswordResult{Success: true, NextStep: proctor.EntryStepFor(exam)}, nil
}

// IsUnlocked reports whether the student passed the password check recently.
func (s *ExamService) IsUnlocked(ctx context.Context, examID uuid.UUID, studentID int) (bool, error) {
	n, err := s.rdb.Exists(ctx, config.CacheKey.ExamUnlockedKey(examID.String(), studentID)).Result()
	if err != nil {
		return false, fmt.Errorf("check unlock: %w", err)
	}
	return n > 0, nil
}

func (s *ExamService) ownedExam(ctx context.Context, authorID int, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if authorID != 0 && exam.AuthorID != authorID {
		return nil, ErrNotExamAuthor
	}
	return exam, nil
}

func clampPage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > 100 {
		perPage = 100
	}
	return page, perPage
}
