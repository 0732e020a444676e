package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/apperror"
	"github.com/skald-labs/skald/pkg/logger"
)

// AuthUser represents an authenticated user
type AuthUser struct {
	// ID is the JWT subject
	ID string `json:"id"`

	// User's email address
	Email string `json:"email,omitempty"`

	// Granted scopes from token
	Scopes []string `json:"scopes,omitempty"`
}

// ContextKey for storing auth user in context
type contextKey string

const UserContextKey contextKey = "auth_user"

// GetUser retrieves the authenticated user from the Echo context
func GetUser(c echo.Context) *AuthUser {
	if user, ok := c.Get(string(UserContextKey)).(*AuthUser); ok {
		return user
	}
	return nil
}

// Middleware handles authentication for routes
type Middleware struct {
	cfg        *config.AuthConfig
	log        *slog.Logger
	debugToken string
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(cfg *config.Config, log *slog.Logger) *Middleware {
	m := &Middleware{
		cfg: &cfg.Auth,
		log: log.With(logger.Scope("auth")),
	}

	if cfg.Debug && cfg.Auth.DebugToken != "" {
		m.debugToken = cfg.Auth.DebugToken
	}

	return m
}

// RequireAuth returns middleware that requires a valid bearer token
func (m *Middleware) RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, err := m.authenticate(c)
			if err != nil {
				m.log.Warn("authentication failed", logger.Error(err))
				return m.authError(c, err)
			}

			c.Set(string(UserContextKey), user)

			return next(c)
		}
	}
}

// RequireScopes returns middleware that requires specific scopes
func (m *Middleware) RequireScopes(scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetUser(c)
			if user == nil {
				return apperror.ErrUnauthorized
			}

			userScopes := make(map[string]bool)
			for _, s := range user.Scopes {
				userScopes[s] = true
			}

			missing := []string{}
			for _, required := range scopes {
				if !userScopes[required] {
					missing = append(missing, required)
				}
			}

			if len(missing) > 0 {
				return echo.NewHTTPError(http.StatusForbidden, map[string]any{
					"error": map[string]any{
						"code":    "forbidden",
						"message": "Insufficient permissions",
						"details": map[string]any{
							"missing": missing,
						},
					},
				})
			}

			return next(c)
		}
	}
}

// authenticate extracts and validates the token from the request
func (m *Middleware) authenticate(c echo.Context) (*AuthUser, error) {
	token := m.extractToken(c.Request())
	if token == "" {
		return nil, apperror.ErrMissingToken
	}

	if m.debugToken != "" && token == m.debugToken {
		return &AuthUser{
			ID:     "debug-user",
			Scopes: GetAllScopes(),
		}, nil
	}

	if !m.cfg.IsConfigured() {
		return nil, apperror.ErrInvalidToken.WithMessage("authentication not configured")
	}

	claims, err := ParseToken(m.cfg, token)
	if err != nil {
		return nil, apperror.ErrInvalidToken.WithInternal(err)
	}

	return &AuthUser{
		ID:     claims.Subject,
		Email:  claims.Email,
		Scopes: claims.Scopes,
	}, nil
}

// extractToken extracts the bearer token from request
func (m *Middleware) extractToken(r *http.Request) string {
	// Check Authorization header first
	auth := r.Header.Get("Authorization")
	if auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
	}

	// Fall back to query parameter (for SSE endpoints)
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

// authError returns a formatted authentication error
func (m *Middleware) authError(c echo.Context, err error) error {
	status, body := apperror.ToHTTPError(err)
	return c.JSON(status, body)
}

// GetAllScopes returns all available scopes (for the debug token)
func GetAllScopes() []string {
	return []string{
		"jobs:read",
		"jobs:write",
		"jobs:delete",
		"chunks:read",
		"search:read",
		"admin:read",
		"admin:write",
	}
}

// Module provides the auth middleware
var Module = fx.Module("auth",
	fx.Provide(NewMiddleware),
)
