package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateToken(t *testing.T) {
	a, err := NewAuthenticator("secret", time.Hour)
	require.NoError(t, err)

	tok, err := a.GenerateToken("t1")
	require.NoError(t, err)

	claims, err := a.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)
}

func TestValidateTokenRejects(t *testing.T) {
	a, err := NewAuthenticator("secret", time.Hour)
	require.NoError(t, err)
	other, err := NewAuthenticator("other", time.Hour)
	require.NoError(t, err)

	tok, err := other.GenerateToken("t1")
	require.NoError(t, err)
	_, err = a.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.ValidateToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := NewAuthenticator("secret", time.Minute)
	require.NoError(t, err)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err = expired.GenerateToken("t1")
	require.NoError(t, err)
	_, err = a.ValidateToken(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("", time.Hour)
	assert.Error(t, err)
}

func TestJWTAuthMiddleware(t *testing.T) {
	a, err := NewAuthenticator("secret", time.Hour)
	require.NoError(t, err)

	var seen string
	h := a.JWTAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetTenantID(r)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing or invalid Authorization header"}`, rec.Body.String())

	tok, err := a.GenerateToken("t1")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", seen)
}

func TestAdminMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{"match", "admin", "admin", http.StatusNoContent},
		{"mismatch", "admin", "nope", http.StatusUnauthorized},
		{"missing", "admin", "", http.StatusUnauthorized},
		{"unconfigured", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(AdminHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			AdminMiddleware(tc.token)(ok).ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
