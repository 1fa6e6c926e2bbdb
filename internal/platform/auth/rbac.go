package auth

import (
	"fmt"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/platform/apperr"
)

// RoleAdmin passes every role check.
const RoleAdmin = "admin"

// RequireRole returns middleware that checks if the user has one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			has := RoleFromContext(c.Request().Context())
			if has == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if has == required {
					return next(c)
				}
			}
			return apperr.ToHTTP(apperr.Authorization(
				fmt.Sprintf("required role: %s", strings.Join(roles, " or "))))
		}
	}
}
