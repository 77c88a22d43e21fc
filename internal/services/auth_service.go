package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/posterparlor/storefront/internal/backend"
	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/platform/observability"
	"github.com/posterparlor/storefront/internal/platform/session"
)

var (
	errAuthBackendRequired = errors.New("auth service: backend is required")
	errAuthSessionRequired = errors.New("auth service: session control is required")

	// ErrNotAuthenticated is returned when an operation needs a signed-in user.
	ErrNotAuthenticated = errors.New("auth service: not authenticated")
)

// AuthBackend is the subset of the backend client used for authentication.
type AuthBackend interface {
	Login(ctx context.Context, idToken string) (backend.LoginResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (domain.User, error)
}

// SessionControl resets the request layer's refresh state.
type SessionControl interface {
	ResetOnLogin()
	ResetOnLogout()
}

// AuthServiceDeps wires the auth service.
type AuthServiceDeps struct {
	Backend AuthBackend
	Session SessionControl
	Logger  func(context.Context, string, map[string]any)
}

// AuthService keeps the local authentication state in step with the backend session.
type AuthService struct {
	backend AuthBackend
	session SessionControl
	logger  func(context.Context, string, map[string]any)

	mu        sync.Mutex
	state     domain.AuthSession
	expiresAt time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(deps AuthServiceDeps) (*AuthService, error) {
	if deps.Backend == nil {
		return nil, errAuthBackendRequired
	}
	if deps.Session == nil {
		return nil, errAuthSessionRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AuthService{
		backend: deps.Backend,
		session: deps.Session,
		logger:  logger,
	}, nil
}

// accessClaims are the access-token fields the client reads for display. The
// signature is checked by the backend, never here.
type accessClaims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Login exchanges a Google ID token for a session and records the profile.
func (s *AuthService) Login(ctx context.Context, idToken string) (domain.User, error) {
	result, err := s.backend.Login(ctx, idToken)
	if err != nil {
		s.logger(ctx, "auth_login_failed", map[string]any{"error": err.Error()})
		return domain.User{}, fmt.Errorf("auth service: login: %w", err)
	}

	user := result.User
	var expiresAt time.Time
	if claims, ok := parseAccessClaims(result.AccessToken); ok {
		if user.ID == "" {
			user.ID = claims.Subject
		}
		if user.Name == "" {
			user.Name = claims.Name
		}
		if user.Email == "" {
			user.Email = claims.Email
		}
		if user.Role == "" {
			user.Role = claims.Role
		}
		if claims.ExpiresAt != nil {
			expiresAt = claims.ExpiresAt.Time.UTC()
		}
	}

	s.session.ResetOnLogin()
	s.mu.Lock()
	s.state = domain.AuthSession{IsAuthenticated: true, Profile: &user}
	s.expiresAt = expiresAt
	s.mu.Unlock()

	s.logger(ctx, "auth_login", map[string]any{"userId": observability.SanitizeUserID(user.ID)})
	return user, nil
}

func parseAccessClaims(token string) (accessClaims, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return accessClaims{}, false
	}
	var claims accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return accessClaims{}, false
	}
	return claims, true
}

// Logout ends the backend session. Local state is cleared even when the backend call fails.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.backend.Logout(ctx)
	s.session.ResetOnLogout()
	s.clear()
	if err != nil && !errors.Is(err, session.ErrAuthExpired) {
		s.logger(ctx, "auth_logout_failed", map[string]any{"error": err.Error()})
		return fmt.Errorf("auth service: logout: %w", err)
	}
	s.logger(ctx, "auth_logout", nil)
	return nil
}

// Refresh reloads the profile from the backend.
func (s *AuthService) Refresh(ctx context.Context) (domain.User, error) {
	user, err := s.backend.Me(ctx)
	if err != nil {
		if errors.Is(err, session.ErrAuthExpired) {
			s.clear()
			return domain.User{}, ErrNotAuthenticated
		}
		return domain.User{}, fmt.Errorf("auth service: me: %w", err)
	}
	s.mu.Lock()
	s.state = domain.AuthSession{IsAuthenticated: true, Profile: &user}
	s.mu.Unlock()
	return user, nil
}

// HandleSessionCleared is installed as the session gateway hook; it marks the
// client signed out once the backend session cannot be refreshed.
func (s *AuthService) HandleSessionCleared(ctx context.Context) {
	s.mu.Lock()
	was := s.state.IsAuthenticated
	s.mu.Unlock()
	s.clear()
	if was {
		s.logger(ctx, "auth_session_cleared", nil)
	}
}

// Restore seeds the local state, for example from a saved CLI session.
func (s *AuthService) Restore(state domain.AuthSession, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.Profile != nil {
		profile := *state.Profile
		state.Profile = &profile
	}
	s.state = state
	s.expiresAt = expiresAt
}

// State returns a copy of the local authentication state.
func (s *AuthService) State() domain.AuthSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.state
	if state.Profile != nil {
		profile := *state.Profile
		state.Profile = &profile
	}
	return state
}

// AccessExpiresAt returns when the current access token lapses, if known. An
// expired access token is not a signed-out session: the refresh cookie renews it.
func (s *AuthService) AccessExpiresAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt, !s.expiresAt.IsZero()
}

// Customer returns the signed-in user's id for order attribution.
func (s *AuthService) Customer() (domain.User, error) {
	state := s.State()
	if !state.IsAuthenticated || state.Profile == nil {
		return domain.User{}, ErrNotAuthenticated
	}
	return *state.Profile, nil
}

func (s *AuthService) clear() {
	s.mu.Lock()
	s.state = domain.AuthSession{}
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}
