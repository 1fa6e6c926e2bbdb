package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists route paths that bypass bearer authentication: health
// checks and the endpoints that hand out tokens. The socket route performs
// its own handshake authentication.
var publicPaths = map[string]bool{
	"/health":            true,
	"/health/db":         true,
	"/api/auth/register": true,
	"/api/auth/login":    true,
	"/ws":                true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path bypasses bearer authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
