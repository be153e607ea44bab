package web

import (
	"crypto/subtle"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// AuthManager checks HTTP basic credentials against a fixed user table.
type AuthManager struct {
	users map[string]string // username -> password
}

func NewAuthManager(users map[string]string) *AuthManager {
	return &AuthManager{users: users}
}

func (a *AuthManager) ValidateUser(username, password string) bool {
	storedPass, exists := a.users[username]
	if !exists {
		// Compare anyway so unknown users take as long as known ones.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(storedPass)) == 1
}

func (a *AuthManager) RequireAuth() echo.MiddlewareFunc {
	return middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Realm: "fastchecks",
		Validator: func(username, password string, c echo.Context) (bool, error) {
			return a.ValidateUser(username, password), nil
		},
	})
}
