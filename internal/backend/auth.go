package backend

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/posterparlor/storefront/internal/domain"
)

// ErrMissingIDToken is returned when login is attempted without a Google ID token.
var ErrMissingIDToken = errors.New("backend: missing id token")

// LoginResult is the backend's answer to a Google sign-in. The session cookie is set on
// the transport's jar; AccessToken is kept for reference only.
type LoginResult struct {
	User        domain.User
	AccessToken string
}

// Login exchanges a Google ID token for a session cookie.
func (c *Client) Login(ctx context.Context, idToken string) (LoginResult, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return LoginResult{}, ErrMissingIDToken
	}
	var out loginResponse
	body := map[string]string{"idToken": idToken}
	if err := c.call(ctx, "login", http.MethodPost, "/auth/google/login", nil, body, "", &out); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: out.User.toDomain(), AccessToken: out.AccessToken}, nil
}

// Logout ends the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.call(ctx, "logout", http.MethodPost, "/auth/google/logout", nil, nil, "", nil)
}

// Me returns the profile of the signed-in user.
func (c *Client) Me(ctx context.Context) (domain.User, error) {
	var out userDTO
	if err := c.call(ctx, "me", http.MethodGet, "/auth/google/me", nil, nil, "", &out); err != nil {
		return domain.User{}, err
	}
	return out.toDomain(), nil
}
