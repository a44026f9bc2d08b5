package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kudichat/kudichat/pkg/config"
	"github.com/kudichat/kudichat/pkg/utils"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:   "test-secret",
		AdminEmails: []string{"ops@kudichat.com", "Finance@kudichat.com"},
	}
}

func mintToken(t *testing.T, secret, email string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		utils.EmailKey: email,
		"name":         "Test Admin",
		utils.ExpKey:   time.Now().Add(expiresIn).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func request(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAdminJWTMiddleware(t *testing.T) {
	cfg := testConfig()

	var seen AdminClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AdminFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AdminJWTMiddleware(cfg)(next)

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"valid admin", mintToken(t, cfg.JWTSecret, "ops@kudichat.com", time.Hour), http.StatusOK},
		{"allow-list is case-insensitive", mintToken(t, cfg.JWTSecret, "finance@kudichat.com", time.Hour), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong secret", mintToken(t, "other-secret", "ops@kudichat.com", time.Hour), http.StatusUnauthorized},
		{"expired", mintToken(t, cfg.JWTSecret, "ops@kudichat.com", -time.Hour), http.StatusUnauthorized},
		{"not on allow-list", mintToken(t, cfg.JWTSecret, "intruder@kudichat.com", time.Hour), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, request(tt.token))
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	assert.Equal(t, "finance@kudichat.com", seen.Email)
}

func TestIsAdminEmail(t *testing.T) {
	cfg := testConfig()

	assert.True(t, IsAdminEmail(cfg, "ops@kudichat.com"))
	assert.True(t, IsAdminEmail(cfg, "FINANCE@kudichat.com"))
	assert.False(t, IsAdminEmail(cfg, ""))
	assert.False(t, IsAdminEmail(cfg, "someone@else.com"))
}
