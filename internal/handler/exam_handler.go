package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ExamHandler handles exam management endpoints.
type ExamHandler struct {
	examService    *service.ExamService
	attemptService *service.AttemptService
	maxUploadBytes int64
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, attemptService *service.AttemptService, maxUploadBytes int64) *ExamHandler {
	return &ExamHandler{
		examService:    examService,
		attemptService: attemptService,
		maxUploadBytes: maxUploadBytes,
	}
}

// authorScope returns the author filter for the caller. Admins holding
// exams:write_all act on every exam.
func authorScope(claims *service.Claims) int {
	if claims.HasPermission(string(model.PermissionExamsWriteAll)) {
		return 0
	}
	return claims.UserID
}

// ListExams godoc
// GET /api/v1/admin/exams
// Lists exams with pagination. Without exams:write_all only the caller's own exams are listed.
func (h *ExamHandler) ListExams(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	exams, pagination, err := h.examService.ListByAuthor(c.Request.Context(), authorScope(claims), page, perPage)
	if err != nil {
		failService(c, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// GetExam godoc
// GET /api/v1/admin/exams/:id
// Returns an exam with its full question set, answer key included.
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// CreateExam godoc
// POST /api/v1/admin/exams
// Creates a new draft exam.
func (h *ExamHandler) CreateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), claims.UserID, &req)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// UpdateExam godoc
// PUT /api/v1/admin/exams/:id
// Updates a draft exam's metadata and proctoring settings.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.UpdateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Update(c.Request.Context(), authorScope(claims), examID, &req)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// ReplaceQuestions godoc
// PUT /api/v1/admin/exams/:id/questions
// Replaces the whole question set of an exam.
func (h *ExamHandler) ReplaceQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req model.ReplaceQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	questions, err := h.examService.ReplaceQuestions(c.Request.Context(), authorScope(claims), examID, req.Questions)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// ImportQuestions godoc
// POST /api/v1/admin/exams/:id/questions/import
// Replaces the question set from an uploaded .xlsx workbook. Rejected rows
// are reported per row and nothing is stored.
func (h *ExamHandler) ImportQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			response.Fail(c, http.StatusBadRequest, response.ErrFileTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	questions, rowErrors, err := h.examService.ImportQuestions(c.Request.Context(), authorScope(claims), examID, file)
	if err != nil {
		if len(rowErrors) > 0 {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidSheet, rowErrors)
			return
		}
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions, "imported": len(questions)})
}

// PublishExam godoc
// POST /api/v1/admin/exams/:id/publish
// Publishes an exam: caches payload + scoring sheet to Redis, changes status.
func (h *ExamHandler) PublishExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.examService.Publish(c.Request.Context(), examID, authorScope(claims)); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam published successfully"})
}

// RefreshExamCache godoc
// POST /api/v1/admin/exams/:id/refresh-cache
// Re-caches the exam payload + scoring sheet to Redis after question changes.
func (h *ExamHandler) RefreshExamCache(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.examService.RefreshCache(c.Request.Context(), examID, authorScope(claims)); err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam cache refreshed successfully"})
}

// ListAttempts godoc
// GET /api/v1/admin/exams/:id/attempts
// Returns paginated attempts for an exam, optionally filtered by status.
func (h *ExamHandler) ListAttempts(c *gin.Context) {
	examID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	status := c.Query("status")
	switch model.AttemptStatus(status) {
	case "", model.AttemptStatusInProgress, model.AttemptStatusSubmitted,
		model.AttemptStatusDisqualified, model.AttemptStatusAbandoned:
	default:
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{"status": "unknown attempt status"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	attempts, pagination, err := h.attemptService.ListAttempts(c.Request.Context(), examID, status, page, perPage)
	if err != nil {
		failService(c, err)
		return
	}
	if attempts == nil {
		attempts = []model.Attempt{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"attempts": attempts}, pagination)
}

// GetAttemptResult godoc
// GET /api/v1/admin/attempts/:id/result
// Returns the full result of any finished attempt, answer key included.
func (h *ExamHandler) GetAttemptResult(c *gin.Context) {
	attemptID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.attemptService.GetExamResult(c.Request.Context(), attemptID, 0)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// isTooLarge reports whether err came from http.MaxBytesReader.
func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
