package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
)

func testAuthService() *AuthService {
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, nil)
}

func TestAdminTokenRoundTrip(t *testing.T) {
	s := testAuthService()

	token, err := s.GenerateAdminToken(7, "Bu Sari", []string{"exams:read", "exams:monitor"})
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAdmin, claims.TokenType)
	assert.Equal(t, 7, claims.UserID)
	assert.Equal(t, "Bu Sari", claims.Name)
	assert.True(t, claims.HasPermission("exams:monitor"))
	assert.False(t, claims.HasPermission("exams:write"))
}

func TestValidateTokenRejectsForeignSignature(t *testing.T) {
	s := testAuthService()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: TokenTypeAdmin,
		UserID:    1,
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(forged)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	s := testAuthService()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		TokenType: TokenTypeStudent,
		UserID:    3,
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(expired)
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	s := testAuthService()

	hash, err := s.HashPassword("rahasia123")
	require.NoError(t, err)
	assert.NoError(t, s.CheckPassword(hash, "rahasia123"))
	assert.ErrorIs(t, s.CheckPassword(hash, "salah"), ErrInvalidCredentials)
}

func TestAuthenticateChecksTokenType(t *testing.T) {
	s := testAuthService()

	token, err := s.GenerateAdminToken(2, "Pak Made", nil)
	require.NoError(t, err)

	claims, err := s.Authenticate(token, TokenTypeAdmin)
	require.NoError(t, err)
	assert.Equal(t, 2, claims.UserID)

	_, err = s.Authenticate(token, TokenTypeStudent)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestValidateTokenRequiresExpiry(t *testing.T) {
	s := testAuthService()

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TokenType: TokenTypeAdmin,
		UserID:    1,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(noExpiry)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsOtherAlgorithms(t *testing.T) {
	s := testAuthService()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenType: TokenTypeAdmin,
		UserID:    1,
	}
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = s.ValidateToken(hs512)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
