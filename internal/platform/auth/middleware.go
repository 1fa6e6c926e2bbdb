package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medconnect/medconnect/internal/platform/apperr"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	UserRoleKey contextKey = "user_role"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Role   string
}

// UserChecker confirms that a token subject still names an existing user.
type UserChecker interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Authenticator verifies a bearer token and resolves it to a principal.
type Authenticator struct {
	tokens *Tokens
	users  UserChecker
}

func NewAuthenticator(tokens *Tokens, users UserChecker) *Authenticator {
	return &Authenticator{tokens: tokens, users: users}
}

// Authenticate returns the principal for tokenStr. The subject must parse as a
// user id and resolve to an existing user.
func (a *Authenticator) Authenticate(ctx context.Context, tokenStr string) (Principal, error) {
	claims, err := a.tokens.Verify(tokenStr)
	if err != nil {
		return Principal{}, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, apperr.Authentication("invalid token subject")
	}
	ok, err := a.users.Exists(ctx, userID)
	if err != nil {
		return Principal{}, apperr.Storage(err)
	}
	if !ok {
		return Principal{}, apperr.Authentication("user not found")
	}
	return Principal{UserID: userID, Role: claims.Role}, nil
}

// JWTMiddleware authenticates every request that the skipper does not exempt.
// Failures end the request with 401 before the handler runs.
func JWTMiddleware(a *Authenticator, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			tokenStr, ok := BearerToken(authHeader)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			p, err := a.Authenticate(c.Request().Context(), tokenStr)
			if err != nil {
				return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// TokenFromRequest reads a socket handshake token from the "token" query
// parameter, falling back to the Authorization header. Browsers cannot set
// headers on a websocket upgrade.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	token, _ := BearerToken(r.Header.Get("Authorization"))
	return token
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, p.UserID)
	return context.WithValue(ctx, UserRoleKey, p.Role)
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	uid, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return uid, ok
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}
