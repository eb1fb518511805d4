package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the account does not exist so unknown
// NISNs and emails take as long as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("exstem-proctor"), bcrypt.MinCost)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService    *service.AuthService
	studentService *service.StudentService
	adminService   *service.AdminService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService *service.AuthService,
	studentService *service.StudentService,
	adminService *service.AdminService,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		studentService: studentService,
		adminService:   adminService,
	}
}

// credentialCheck loads an account and verifies its password hash. Missing
// accounts and wrong passwords both yield ErrInvalidCredentials.
func (h *AuthHandler) credentialCheck(ctx context.Context, load func(context.Context) (string, error), password string) error {
	hash, err := load(ctx)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return service.ErrInvalidCredentials
	}
	if err != nil {
		return err
	}
	return h.authService.CheckPassword(hash, password)
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates NISN + password and claims the single-device session.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	ctx := c.Request.Context()

	var student *model.Student
	err := h.credentialCheck(ctx, func(ctx context.Context) (string, error) {
		s, err := h.studentService.GetByNISN(ctx, req.NISN)
		if err != nil {
			return "", err
		}
		student = s
		return s.PasswordHash, nil
	}, req.Password)
	if err != nil {
		failAuth(c, err)
		return
	}

	token, err := h.authService.GenerateStudentToken(ctx, student.ID, student.Name)
	if err != nil {
		failAuth(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":      token,
		"expires_at": h.authService.ExpiresAt(),
		"student":    student,
	})
}

// AdminLogin godoc
// POST /api/v1/auth/admin/login
// Validates email + password, returns JWT with permissions.
func (h *AuthHandler) AdminLogin(c *gin.Context) {
	var req model.AdminLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	var admin *model.Admin
	err := h.credentialCheck(c.Request.Context(), func(ctx context.Context) (string, error) {
		a, err := h.adminService.GetByEmail(ctx, req.Email)
		if err != nil {
			return "", err
		}
		admin = a
		return a.PasswordHash, nil
	}, req.Password)
	if err != nil {
		failAuth(c, err)
		return
	}

	token, err := h.authService.GenerateAdminToken(admin.ID, admin.Name, admin.Permissions)
	if err != nil {
		failAuth(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":       token,
		"expires_at":  h.authService.ExpiresAt(),
		"admin":       admin,
		"permissions": admin.Permissions,
	})
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Ends the session bound to the presented token.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.EndStudentSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
		failAuth(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// GetStudentProfile godoc
// GET /api/v1/auth/student/me
func (h *AuthHandler) GetStudentProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	student, err := h.studentService.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		failAuth(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"student":    student,
		"expires_at": expiryOf(claims),
	})
}

// GetAdminProfile godoc
// GET /api/v1/auth/admin/me
// Permissions are read from the database, so grants made after login show
// up here before the token is refreshed.
func (h *AuthHandler) GetAdminProfile(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	admin, err := h.adminService.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		failAuth(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"admin":       admin,
		"permissions": admin.Permissions,
		"expires_at":  expiryOf(claims),
	})
}

func expiryOf(claims *service.Claims) *time.Time {
	if claims.ExpiresAt == nil {
		return nil
	}
	return &claims.ExpiresAt.Time
}

func failAuth(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
	case errors.Is(err, service.ErrSessionAlreadyActive):
		response.Fail(c, http.StatusConflict, response.ErrSessionActive)
	case errors.Is(err, pgx.ErrNoRows):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	default:
		_ = c.Error(err)
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
