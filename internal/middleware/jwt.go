package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// tokenSource pulls the raw token out of a request.
type tokenSource func(c *gin.Context) string

// bearerOrQuery reads the Authorization header and falls back to ?token=
// for EventSource and <img> requests, which cannot set headers.
func bearerOrQuery(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return c.Query("token")
}

// queryOnly is used for WebSocket upgrades.
func queryOnly(c *gin.Context) string {
	return c.Query("token")
}

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, bearerOrQuery)
}

// RequireAdminJWT validates an admin JWT from the Authorization header.
func RequireAdminJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeAdmin, bearerOrQuery)
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Browsers cannot attach headers to a WebSocket handshake.
func RequireStudentWSAuth(authService *service.AuthService) gin.HandlerFunc {
	return requireToken(authService, service.TokenTypeStudent, queryOnly)
}

func requireToken(authService *service.AuthService, want service.TokenType, source tokenSource) gin.HandlerFunc {
	wrongType := response.ErrStudentAccessOnly
	if want == service.TokenTypeAdmin {
		wrongType = response.ErrAdminAccessOnly
	}

	return func(c *gin.Context) {
		raw := source(c)
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := authService.Authenticate(raw, want)
		switch {
		case errors.Is(err, service.ErrWrongTokenType):
			response.AbortFail(c, http.StatusForbidden, wrongType)
			return
		case errors.Is(err, jwt.ErrTokenExpired):
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
			return
		case err != nil:
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, _ := c.Get(ContextKeyClaims)
	claims, _ := val.(*service.Claims)
	return claims
}
