package testutil

import (
	"github.com/skald-labs/skald/internal/config"
	"github.com/skald-labs/skald/pkg/auth"
)

// TestUser represents a test user fixture. Skald has no user table;
// a user is just a JWT subject, so fixtures are token configurations.
type TestUser struct {
	ID     string
	Email  string
	Scopes []string
}

// Predefined test users.
var (
	// AdminUser holds every scope, including admin:*.
	AdminUser = TestUser{
		ID:     "test-admin-user",
		Email:  "admin@test.local",
		Scopes: auth.GetAllScopes(),
	}

	// RegularUser has the scopes a normal API consumer gets.
	RegularUser = TestUser{
		ID:     "test-regular-user",
		Email:  "user@test.local",
		Scopes: []string{"jobs:read", "jobs:write", "jobs:delete", "chunks:read", "search:read"},
	}

	// ReadOnlyUser can look but not touch.
	ReadOnlyUser = TestUser{
		ID:     "test-read-only-user",
		Email:  "readonly@test.local",
		Scopes: []string{"jobs:read", "chunks:read", "search:read"},
	}

	// NoScopeUser authenticates but carries no scopes at all.
	NoScopeUser = TestUser{
		ID:     "test-no-scope-user",
		Email:  "noscope@test.local",
		Scopes: []string{},
	}

	// OtherUser is a second regular user for ownership-isolation tests.
	OtherUser = TestUser{
		ID:     "test-other-user",
		Email:  "other@test.local",
		Scopes: []string{"jobs:read", "jobs:write", "jobs:delete", "chunks:read", "search:read"},
	}
)

// IssueTestToken mints a real HS256 token for the given user, signed
// with the test server's secret. Tokens go through the same
// verification path as production tokens.
func IssueTestToken(cfg *config.Config, user TestUser) (string, error) {
	return auth.IssueToken(&cfg.Auth, user.ID, user.Email, user.Scopes)
}

// MustIssueTestToken is IssueTestToken that panics on error. Token
// minting only fails when JWT_SECRET is unset, which the test server
// guarantees against.
func MustIssueTestToken(cfg *config.Config, user TestUser) string {
	token, err := IssueTestToken(cfg, user)
	if err != nil {
		panic(err)
	}
	return token
}

// AuthHeader returns an Authorization header value for a token
func AuthHeader(token string) string {
	return "Bearer " + token
}

// StringPtr is a helper to create a pointer to a string
func StringPtr(s string) *string {
	return &s
}
