package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type stubLobby struct {
	verify func(examID uuid.UUID, studentID int, password string) (*model.VerifyPasswordResult, error)
}

func (s *stubLobby) ListLobby(context.Context, int) ([]model.LobbyExam, error) {
	return nil, nil
}

func (s *stubLobby) GetPublishedExam(context.Context, uuid.UUID) (*model.Exam, error) {
	return nil, service.ErrExamNotFound
}

func (s *stubLobby) VerifyPassword(_ context.Context, examID uuid.UUID, studentID int, password string) (*model.VerifyPasswordResult, error) {
	return s.verify(examID, studentID, password)
}

// asStudent stands in for the JWT middleware.
func asStudent(id int, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: id, Name: name})
		c.Next()
	}
}

func portalRouter(lobby examLobby) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewStudentPortalHandler(lobby, nil)
	r := gin.New()
	r.POST("/exams/:exam_id/verify-password", asStudent(12, "Siti Aminah"), h.VerifyPassword)
	r.GET("/exams/:exam_id", h.GetExam)
	return r
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func postJSON(r http.Handler, target, body string) (*httptest.ResponseRecorder, envelope) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestVerifyPassword_WrongPasswordIsNotAnHTTPError(t *testing.T) {
	examID := uuid.New()
	lobby := &stubLobby{verify: func(id uuid.UUID, studentID int, password string) (*model.VerifyPasswordResult, error) {
		assert.Equal(t, examID, id)
		assert.Equal(t, 12, studentID)
		assert.Equal(t, "tebak", password)
		return &model.VerifyPasswordResult{Success: false, Message: "Kata sandi ujian salah."}, service.ErrWrongExamPassword
	}}

	w, env := postJSON(portalRouter(lobby), "/exams/"+examID.String()+"/verify-password", `{"password":"tebak"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, env.Error)
	var result model.VerifyPasswordResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.False(t, result.Success)
	assert.Empty(t, result.NextStep)
	assert.NotEmpty(t, result.Message)
}

func TestVerifyPassword_ReturnsNextStep(t *testing.T) {
	lobby := &stubLobby{verify: func(uuid.UUID, int, string) (*model.VerifyPasswordResult, error) {
		return &model.VerifyPasswordResult{Success: true, NextStep: model.EntryStepAttempt}, nil
	}}

	w, env := postJSON(portalRouter(lobby), "/exams/"+uuid.NewString()+"/verify-password", `{"password":"benar"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var result model.VerifyPasswordResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Success)
	assert.Equal(t, model.EntryStepAttempt, result.NextStep)
}

func TestVerifyPassword_MapsServiceErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{service.ErrTooManyGuesses, http.StatusTooManyRequests, response.ErrRateLimitExceeded},
		{service.ErrExamNotFound, http.StatusNotFound, response.ErrNotFound},
		{service.ErrExamNotPublished, http.StatusBadRequest, response.ErrExamNotPublished},
		{errors.New("redis down"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			lobby := &stubLobby{verify: func(uuid.UUID, int, string) (*model.VerifyPasswordResult, error) {
				return nil, tc.err
			}}
			w, env := postJSON(portalRouter(lobby), "/exams/"+uuid.NewString()+"/verify-password", `{"password":"x"}`)
			assert.Equal(t, tc.status, w.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
		})
	}
}

func TestVerifyPassword_RejectsMalformedExamID(t *testing.T) {
	lobby := &stubLobby{verify: func(uuid.UUID, int, string) (*model.VerifyPasswordResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}

	w, env := postJSON(portalRouter(lobby), "/exams/not-a-uuid/verify-password", `{"password":"x"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)
}

func TestGetExam_NotFound(t *testing.T) {
	w := httptest.NewRecorder()
	portalRouter(&stubLobby{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/exams/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
