package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	config := DefaultJWTConfig("test-secret")
	userID := uuid.New()

	token, expiresAt, err := config.GenerateToken(userID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := config.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, _, err := DefaultJWTConfig("secret-one").GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = DefaultJWTConfig("secret-two").ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	config := NewJWTConfig("test-secret", -time.Minute)
	token, _, err := config.GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = config.ValidateToken(token)
	assert.Error(t, err)
}

func TestExtractTokenFromHeader(t *testing.T) {
	token, err := ExtractTokenFromHeader("Bearer abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	_, err = ExtractTokenFromHeader("")
	assert.Error(t, err)

	_, err = ExtractTokenFromHeader("Basic abc123")
	assert.Error(t, err)
}

func TestChiMiddleware(t *testing.T) {
	config := DefaultJWTConfig("test-secret")
	userID := uuid.New()
	token, _, err := config.GenerateToken(userID)
	require.NoError(t, err)

	handler := config.ChiMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err := GetUserIDFromContext(r.Context())
		require.NoError(t, err)
		assert.Equal(t, userID, got)
		w.WriteHeader(http.StatusOK)
	}))

	// Valid token reaches the handler with the user in context.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Missing token is rejected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Garbage token is rejected.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
