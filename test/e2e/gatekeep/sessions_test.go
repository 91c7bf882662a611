//go:build e2e

package gatekeep_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestLoginRefreshRotation covers the token lifecycle:
// 1. The gateway opens a session and receives a token pair
// 2. Refreshing rotates both tokens
// 3. Replaying the old refresh token revokes the whole chain
func TestLoginRefreshRotation(t *testing.T) {
	client := newGatewayClient(setupContainer(t, nil))
	ctx := t.Context()

	first, err := client.Exchange(ctx, authsdk.AuthenticateRequest{
		Identity:    authsdk.Identity{Subject: "victor", IssuedAt: time.Now()},
		WorkspaceID: workspace,
	})
	require.NoError(t, err)
	require.Equal(t, "Bearer", first.TokenType)
	require.NotEmpty(t, first.SessionID)
	require.Equal(t, []string{"viewer"}, first.Roles)

	second, err := client.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken, "access token should rotate")
	require.NotEqual(t, first.RefreshToken, second.RefreshToken, "refresh token should rotate")
	require.Equal(t, first.SessionID, second.SessionID)

	_, err = client.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken, "replay should be rejected")

	_, err = client.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken, "replay should revoke the newest token too")
}

func TestLoginRequiresGatewayToken(t *testing.T) {
	baseURL := setupContainer(t, nil)

	_, err := authsdk.NewSDKClient(baseURL).Exchange(t.Context(), authsdk.AuthenticateRequest{
		Identity:    authsdk.Identity{Subject: "victor", IssuedAt: time.Now()},
		WorkspaceID: workspace,
	})
	require.ErrorIs(t, err, authsdk.ErrNotAuthorized)
}

func TestLoginRejectsNonMembers(t *testing.T) {
	client := newGatewayClient(setupContainer(t, nil))

	_, err := client.Exchange(t.Context(), authsdk.AuthenticateRequest{
		Identity:    authsdk.Identity{Subject: "mallory", IssuedAt: time.Now()},
		WorkspaceID: workspace,
	})
	require.ErrorIs(t, err, authsdk.ErrNotAuthorized)
}

// TestSessionLimitEvictsOldest opens more sessions than allowed and checks
// the least recently used one is gone.
func TestSessionLimitEvictsOldest(t *testing.T) {
	client := newGatewayClient(setupContainer(t, map[string]string{
		"GATEKEEP_SESSION_LIMIT": "2",
	}))

	oldest := login(t, client, "victor")
	login(t, client, "victor")
	newest := login(t, client, "victor")

	sessions, err := newest.ListSessions(t.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 3, "ended sessions stay listed until housekeeping")

	active := 0
	for _, s := range sessions {
		if s.ID == oldest.ID() {
			require.NotEqual(t, "ACTIVE", s.Status)
			continue
		}
		require.Equal(t, "ACTIVE", s.Status)
		active++
	}
	require.Equal(t, 2, active)

	_, err = client.Refresh(t.Context(), oldest.RefreshToken())
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}

func TestLogoutEndsSession(t *testing.T) {
	client := newGatewayClient(setupContainer(t, nil))
	ctx := t.Context()

	session := login(t, client, "victor")
	token := session.AccessToken()
	refresh := session.RefreshToken()

	require.NoError(t, session.Logout(ctx))

	introspector := login(t, client, "erin")
	got, err := introspector.Introspect(ctx, token)
	require.NoError(t, err)
	require.False(t, got.Active, "logged out token should be inactive")

	_, err = client.Refresh(ctx, refresh)
	require.ErrorIs(t, err, authsdk.ErrInvalidToken)
}
