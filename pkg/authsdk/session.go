package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"
)

// refreshBuffer is how long before expiry an access token is refreshed.
const refreshBuffer = 30 * time.Second

// Session represents an authenticated session with automatic token refresh.
// All Session methods automatically handle token expiration and refresh when needed.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	sessionID    string
	expiresAt    time.Time
	roles        []string
	permissions  []string
}

// newSession creates a new authenticated session from a token response.
func newSession(client *SDKClient, tokenResp *TokenResponse) *Session {
	s := &Session{client: client}
	s.update(tokenResp)
	return s
}

// update stores tokenResp. Callers hold mu or own s exclusively.
func (s *Session) update(tokenResp *TokenResponse) {
	lifetime := time.Duration(tokenResp.ExpiresIn) * time.Second

	s.accessToken = tokenResp.AccessToken
	s.refreshToken = tokenResp.RefreshToken
	s.expiresAt = time.Now().Add(lifetime - min(refreshBuffer, lifetime/2))
	if tokenResp.SessionID != "" {
		s.sessionID = tokenResp.SessionID
	}
	if tokenResp.Roles != nil || tokenResp.Permissions != nil {
		s.roles = tokenResp.Roles
		s.permissions = tokenResp.Permissions
	}
}

// getValidToken returns a valid access token, automatically refreshing if expired.
func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.accessToken != "" && time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another goroutine may have refreshed already, and a
	// second refresh of the same token would be taken as reuse
	if s.accessToken != "" && time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}

	if s.refreshToken == "" {
		return "", errors.New("access token expired and no refresh token available")
	}

	tokenResp, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.update(tokenResp)

	return s.accessToken, nil
}

// AccessToken returns the current access token without checking expiration.
// For most use cases, prefer using the Session methods which handle refresh automatically.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// RefreshToken returns the current refresh token.
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// ID returns the server side session id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Roles returns the role names resolved at login.
func (s *Session) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roles)
}

// Permissions returns the permissions resolved at login. They are a
// snapshot: use Authorize for a current decision.
func (s *Session) Permissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.permissions)
}

// Introspect asks the service to validate token. An invalid token is not an
// error; it comes back with Active false.
func (s *Session) Introspect(ctx context.Context, token string) (*IntrospectResponse, error) {
	var out IntrospectResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/tokens/introspect", IntrospectRequest{Token: token}, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Authorize asks whether the caller may perform action on resource.
func (s *Session) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	var out AuthorizeResponse
	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/authorize", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeToken revokes a token id: the caller's own access token id, a
// refresh record id, or with tokens:revoke any token.
func (s *Session) RevokeToken(ctx context.Context, tokenID string) error {
	return s.doAuthJSON(ctx, http.MethodPost, "/v1/tokens/revoke", RevokeRequest{TokenID: tokenID}, nil, http.StatusNoContent)
}

// Revoke revokes this session's refresh token chain. The session can no
// longer refresh afterwards.
func (s *Session) Revoke(ctx context.Context) error {
	s.mu.RLock()
	refreshToken := s.refreshToken
	s.mu.RUnlock()

	if refreshToken == "" {
		return errors.New("no refresh token to revoke")
	}

	if err := s.doAuthJSON(ctx, http.MethodPost, "/v1/tokens/revoke", RevokeRequest{RefreshToken: refreshToken}, nil, http.StatusNoContent); err != nil {
		return err
	}

	s.mu.Lock()
	s.refreshToken = ""
	s.mu.Unlock()
	return nil
}

// Logout ends the server side session and forgets the local tokens.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.doAuthJSON(ctx, http.MethodDelete, "/v1/sessions/current", nil, nil, http.StatusNoContent); err != nil {
		return err
	}

	s.mu.Lock()
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	return nil
}
