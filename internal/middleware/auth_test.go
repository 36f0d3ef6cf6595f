package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims OperatorClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func operatorClaims(subject string, expiresIn time.Duration) OperatorClaims {
	return OperatorClaims{
		Name: "Dr. Reception",
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
}

func authRouter(m *AuthMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/protected", m.Authenticate(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator_id": c.GetString(ContextOperatorID)})
	})
	return r
}

func doAuthRequest(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/protected", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateValidToken(t *testing.T) {
	m := NewAuthMiddleware(testSecret)
	r := authRouter(m)

	token := signToken(t, testSecret, operatorClaims("op-42", time.Hour))
	w := doAuthRequest(r, "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "op-42")
}

func TestAuthenticateRejections(t *testing.T) {
	m := NewAuthMiddleware(testSecret)
	r := authRouter(m)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc123"},
		{"garbage token", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signToken(t, "other-secret", operatorClaims("op-42", time.Hour))},
		{"expired", "Bearer " + signToken(t, testSecret, operatorClaims("op-42", -time.Hour))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthRequest(r, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthenticateCachesClaims(t *testing.T) {
	m := NewAuthMiddleware(testSecret)
	r := authRouter(m)

	token := signToken(t, testSecret, operatorClaims("op-42", time.Hour))
	require.Equal(t, http.StatusOK, doAuthRequest(r, "Bearer "+token).Code)

	// Second request is served from the claims cache.
	_, cached := m.cache.Get(token)
	assert.True(t, cached)
	assert.Equal(t, http.StatusOK, doAuthRequest(r, "Bearer "+token).Code)
}
