package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/docstream-backend/internal/logger"
)

const testSecret = "test-secret"

func newTestAuth(t *testing.T) *AuthMiddleware {
	t.Helper()
	log, err := logger.New("production")
	require.NoError(t, err)
	return NewAuthMiddleware(log, testSecret)
}

func mintToken(t *testing.T, secret string, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func TestResolveOwnerFromHeader(t *testing.T) {
	auth := newTestAuth(t)
	owner := uuid.New()

	req := httptest.NewRequest("GET", "/api/files", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, owner.String(), time.Hour))

	got, err := auth.ResolveOwner(req)
	require.NoError(t, err)
	assert.Equal(t, owner, got)
}

func TestResolveOwnerFromQueryFallback(t *testing.T) {
	auth := newTestAuth(t)
	owner := uuid.New()

	req := httptest.NewRequest("GET", "/api/stream?token="+mintToken(t, testSecret, owner.String(), time.Hour), nil)

	got, err := auth.ResolveOwner(req)
	require.NoError(t, err)
	assert.Equal(t, owner, got)
}

func TestResolveOwnerFailsClosed(t *testing.T) {
	auth := newTestAuth(t)
	owner := uuid.New()

	cases := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"wrong secret", mintToken(t, "other-secret", owner.String(), time.Hour)},
		{"expired", mintToken(t, testSecret, owner.String(), -time.Hour)},
		{"subject not a uuid", mintToken(t, testSecret, "alice", time.Hour)},
		{"nil subject", mintToken(t, testSecret, uuid.Nil.String(), time.Hour)},
		{"garbage", "not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/files", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			_, err := auth.ResolveOwner(req)
			assert.Error(t, err)
		})
	}
}

func TestRequireAuthBindsOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := newTestAuth(t)
	owner := uuid.New()

	router := gin.New()
	router.GET("/whoami", auth.RequireAuth(), func(c *gin.Context) {
		got, ok := OwnerID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"owner_id": got})
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, owner.String(), time.Hour))
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), owner.String())

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/whoami", nil)
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
