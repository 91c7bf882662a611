package app

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

func TestHandler_RevokeStaysInsideCallerWorkspace(t *testing.T) {
	cfg := testConfig(t)
	cfg.GatewayToken = "gateway-secret"
	seed := `
roles:
  - name: viewer
    workspace: acme
    permissions: ["document:read"]
  - name: revoker
    workspace: globex
    permissions: ["tokens:revoke"]
members:
  - workspace: acme
    user: bob
  - workspace: globex
    user: erin
assignments:
  - user: bob
    role: viewer
    workspace: acme
  - user: erin
    role: revoker
    workspace: globex
`
	require.NoError(t, os.WriteFile(cfg.SeedFile, []byte(seed), 0o600))

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	ctx := context.Background()
	client := authsdk.NewSDKClient(srv.URL)
	client.GatewayToken = cfg.GatewayToken
	login := func(user, workspace string) *authsdk.Session {
		sess, err := client.Authenticate(ctx, authsdk.AuthenticateRequest{
			Identity:    authsdk.Identity{Subject: user, IssuedAt: time.Now()},
			WorkspaceID: workspace,
		})
		require.NoError(t, err)
		return sess
	}
	bob := login("bob", "acme")
	erin := login("erin", "globex")

	records, err := a.db.RefreshTokens().ListSessionTokens(ctx, bob.ID())
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.ErrorIs(t, erin.RevokeToken(ctx, records[0].ID), authsdk.ErrNotFound)

	_, err = client.Refresh(ctx, bob.RefreshToken())
	require.NoError(t, err, "bob's chain survives")
}
