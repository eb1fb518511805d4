package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// examLobby is the exam side of the student portal.
type examLobby interface {
	ListLobby(ctx context.Context, studentID int) ([]model.LobbyExam, error)
	GetPublishedExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
	VerifyPassword(ctx context.Context, examID uuid.UUID, studentID int, password string) (*model.VerifyPasswordResult, error)
}

// attemptAPI is the HTTP side of a running attempt.
type attemptAPI interface {
	StartAttempt(ctx context.Context, examID uuid.UUID, studentID int, studentName string) (*model.StartAttemptResult, error)
	SaveAnswer(ctx context.Context, studentID int, attemptID, questionID uuid.UUID, value string) error
	LogViolation(ctx context.Context, studentID int, attemptID uuid.UUID, v model.Violation) error
	UploadScreenshot(ctx context.Context, studentID int, attemptID uuid.UUID, image string, kind model.ScreenshotKind) (string, error)
	SubmitExam(ctx context.Context, studentID int, sub model.Submission) (*model.SubmitResult, error)
	GetExamResult(ctx context.Context, attemptID uuid.UUID, studentID int) (*model.ExamResult, error)
}

// StudentPortalHandler handles student-facing endpoints (lobby, entry and
// the HTTP side of an attempt).
type StudentPortalHandler struct {
	examService    examLobby
	attemptService attemptAPI
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(examService examLobby, attemptService attemptAPI) *StudentPortalHandler {
	return &StudentPortalHandler{
		examService:    examService,
		attemptService: attemptService,
	}
}

// ListExams godoc
// GET /api/v1/student/exams
// Returns published exams with the student's latest attempt status.
func (h *StudentPortalHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	lobby, err := h.examService.ListLobby(c.Request.Context(), claims.UserID)
	if err != nil {
		failService(c, err)
		return
	}
	if lobby == nil {
		lobby = []model.LobbyExam{}
	}

	response.Success(c, http.StatusOK, gin.H{"exams": lobby})
}

// GetExam godoc
// GET /api/v1/student/exams/:exam_id
// Returns the student view of a published exam, served from Redis.
// Correct options are stripped unless the exam is a practice exam.
func (h *StudentPortalHandler) GetExam(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	exam, err := h.examService.GetPublishedExam(c.Request.Context(), examID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam.ForStudent()})
}

// VerifyPassword godoc
// POST /api/v1/student/exams/:exam_id/verify-password
// Unlocks a password-protected exam. A wrong password is not an HTTP error:
// the body carries success=false.
func (h *StudentPortalHandler) VerifyPassword(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	var req model.VerifyPasswordRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.examService.VerifyPassword(c.Request.Context(), examID, claims.UserID, req.Password)
	if err != nil && !errors.Is(err, service.ErrWrongExamPassword) {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/attempts
// Opens a new attempt. Any previous in-progress attempt is abandoned.
func (h *StudentPortalHandler) StartAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "exam_id")
	if !ok {
		return
	}

	result, err := h.attemptService.StartAttempt(c.Request.Context(), examID, claims.UserID, claims.Name)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, result)
}

// SaveAnswer godoc
// PUT /api/v1/student/attempts/:attempt_id/answers
// Saves a single answer to Redis and queues it for persistence.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	questionID, err := uuid.Parse(req.QuestionID)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.attemptService.SaveAnswer(c.Request.Context(), claims.UserID, attemptID, questionID, req.Answer); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// LogViolation godoc
// POST /api/v1/student/attempts/:attempt_id/violations
// Records one proctoring violation.
func (h *StudentPortalHandler) LogViolation(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.LogViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	v := model.Violation{Type: req.Type, Details: req.Details}
	if req.Timestamp != nil {
		v.Timestamp = *req.Timestamp
	}
	if err := h.attemptService.LogViolation(c.Request.Context(), claims.UserID, attemptID, v); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "logged"})
}

// UploadScreenshot godoc
// POST /api/v1/student/attempts/:attempt_id/screenshots
// Stores a captured webcam or screen frame sent as a data URL.
func (h *StudentPortalHandler) UploadScreenshot(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.UploadScreenshotRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	url, err := h.attemptService.UploadScreenshot(c.Request.Context(), claims.UserID, attemptID, req.Image, req.Kind)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"url": url})
}

// SubmitExam godoc
// POST /api/v1/student/attempts/:attempt_id/submit
// Finalizes and grades the attempt. Submitting a finished attempt again
// returns the original acknowledgement.
func (h *StudentPortalHandler) SubmitExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	var req model.SubmitExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.SubmitExam(c.Request.Context(), claims.UserID, model.Submission{
		AttemptID:        attemptID,
		Answers:          req.Answers,
		Violations:       req.Violations,
		TimeSpentSeconds: req.TimeSpentSeconds,
		Forced:           req.Forced,
		Reason:           req.Reason,
	})
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/student/attempts/:attempt_id/result
// Returns the finalized result. Per-question correctness is disclosed only
// when the exam allows it.
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	attemptID, ok := parseUUIDParam(c, "attempt_id")
	if !ok {
		return
	}

	result, err := h.attemptService.GetExamResult(c.Request.Context(), attemptID, claims.UserID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// parseUUIDParam parses a UUID path parameter, writing a 400 on failure.
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
