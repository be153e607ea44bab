package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUser(t *testing.T) {
	auth := NewAuthManager(map[string]string{"admin": "s3cret"})

	assert.True(t, auth.ValidateUser("admin", "s3cret"))
	assert.False(t, auth.ValidateUser("admin", "wrong"))
	assert.False(t, auth.ValidateUser("nobody", "s3cret"))
	assert.False(t, auth.ValidateUser("", ""))
}

func TestAPIRequiresBasicAuth(t *testing.T) {
	server, _ := setupTestServer(t, map[string]string{"admin": "s3cret"})

	tests := []struct {
		name     string
		path     string
		user     string
		pass     string
		withAuth bool
		want     int
	}{
		{"health is public", "/api/health", "", "", false, http.StatusOK},
		{"no credentials", "/api/checks", "", "", false, http.StatusUnauthorized},
		{"wrong password", "/api/checks", "admin", "nope", true, http.StatusUnauthorized},
		{"valid credentials", "/api/checks", "admin", "s3cret", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.withAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			server.echo.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
