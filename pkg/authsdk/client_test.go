package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestExchange_SendsGatewayToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions" || r.Header.Get(GatewayTokenHeader) != "gw-secret" {
			ErrNotAuthorized.WriteError(w)
			return
		}

		var req AuthenticateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ErrInvalidRequest.WriteError(w)
			return
		}
		writeJSON(w, http.StatusCreated, TokenResponse{
			AccessToken:  "access-" + req.Identity.Subject,
			RefreshToken: "refresh-1",
			TokenType:    "Bearer",
			ExpiresIn:    900,
			SessionID:    "sess-1",
			Roles:        []string{"viewer"},
			Permissions:  []string{"document:read"},
		})
	}))
	defer srv.Close()

	client := NewSDKClient(srv.URL + "/")
	req := AuthenticateRequest{Identity: Identity{Subject: "alice", IssuedAt: time.Now()}, WorkspaceID: "acme"}

	_, err := client.Authenticate(context.Background(), req)
	require.ErrorIs(t, err, ErrNotAuthorized)

	client.GatewayToken = "gw-secret"
	session, err := client.Authenticate(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, "access-alice", session.AccessToken())
	require.Equal(t, "sess-1", session.ID())
	require.Equal(t, []string{"viewer"}, session.Roles())
	require.Equal(t, []string{"document:read"}, session.Permissions())
}

func TestParseErrorResponse(t *testing.T) {
	t.Parallel()

	t.Run("api error with fields", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadRequest}
		err := parseErrorResponse(resp, []byte(`{"error":"INVALID_POLICY","message":"invalid policy","fields":[{"field":"rules","message":"at least one rule is required"}]}`))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		require.Equal(t, ErrorCodeInvalidPolicy, apiErr.Code)
		require.Equal(t, []FieldError{{Field: "rules", Message: "at least one rule is required"}}, apiErr.Fields)
	})

	t.Run("unknown body", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusBadGateway}
		err := parseErrorResponse(resp, []byte("<html>bad gateway</html>"))
		require.ErrorContains(t, err, "HTTP 502")

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, ErrorCodeServerError, apiErr.Code)
	})

	t.Run("success", func(t *testing.T) {
		require.NoError(t, parseErrorResponse(&http.Response{StatusCode: http.StatusNoContent}, nil))
	})
}

func TestSession_RefreshesExpiredTokenOnce(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tokens/refresh":
			var req RefreshRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken != "refresh-1" {
				// A second use of a spent token would revoke the chain
				NewAPIError(http.StatusUnauthorized, ErrorCodeInvalidToken, "invalid token").WriteError(w)
				return
			}
			refreshes.Add(1)
			writeJSON(w, http.StatusOK, TokenResponse{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresIn: 900})

		case "/v1/authorize":
			if r.Header.Get("Authorization") != "Bearer access-2" {
				ErrInvalidToken.WriteError(w)
				return
			}
			writeJSON(w, http.StatusOK, AuthorizeResponse{Allowed: true})

		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewSDKClient(srv.URL)
	session := client.NewSessionFromTokens("access-1", "refresh-1", 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := session.Authorize(context.Background(), AuthorizeRequest{Resource: ResourceRef{Type: "document"}, Action: "read"})
			if err != nil {
				t.Errorf("authorize: %v", err)
				return
			}
			if !resp.Allowed {
				t.Errorf("expected allowed")
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, refreshes.Load())
	require.Equal(t, "refresh-2", session.RefreshToken())
}

func TestSession_LogoutForgetsTokens(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/sessions/current" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	session := NewSDKClient(srv.URL).NewSessionFromTokens("access-1", "refresh-1", 900)
	require.NoError(t, session.Logout(context.Background()))
	require.Empty(t, session.AccessToken())

	_, err := session.ListSessions(context.Background())
	require.ErrorContains(t, err, "no refresh token available")
}

func TestSession_ManagementPaths(t *testing.T) {
	t.Parallel()

	var seen []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.EscapedPath())
		mu.Unlock()

		switch {
		case r.Method == http.MethodDelete, r.URL.Path == "/v1/keys/kid/1/retire":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/roles":
			writeJSON(w, http.StatusCreated, Role{ID: "r1", Name: "viewer"})
		case r.Method == http.MethodPut:
			writeJSON(w, http.StatusConflict, APIError{Code: ErrorCodeConflict, Message: "policy version is stale"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	session := NewSDKClient(srv.URL).NewSessionFromTokens("access-1", "refresh-1", 900)

	role, err := session.CreateRole(ctx, RoleRequest{Name: "viewer", Permissions: []string{"document:read"}})
	require.NoError(t, err)
	require.Equal(t, "r1", role.ID)

	require.NoError(t, session.DeleteRole(ctx, "r1"))
	require.NoError(t, session.RevokeAssignment(ctx, "a 1"))
	require.NoError(t, session.RetireKey(ctx, "kid/1"))

	_, err = session.UpdatePolicy(ctx, "p1", PolicyRequest{Name: "p", Version: 1})
	require.ErrorIs(t, err, ErrConflict)

	_, err = session.ListMembers(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	require.Contains(t, seen, "DELETE /v1/assignments/a%201")
	require.Contains(t, seen, "POST /v1/keys/kid%2F1/retire")
}
