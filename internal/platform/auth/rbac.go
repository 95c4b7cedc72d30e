package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole passes requests whose caller holds one of roles. Admin passes
// every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole matches case-insensitively, since the user table stores
// "Doctor" and "Secretary".
func HasRole(userRoles []string, required ...string) bool {
	for _, has := range userRoles {
		if strings.EqualFold(has, RoleAdmin) {
			return true
		}
		for _, r := range required {
			if strings.EqualFold(has, r) {
				return true
			}
		}
	}
	return false
}
