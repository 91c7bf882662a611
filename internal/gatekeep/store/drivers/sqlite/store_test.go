package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestRoles_RoundTripAndUniqueness(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	empty, err := s.Roles().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	now := time.Now()
	viewer := domain.Role{
		ID:          idx.New().String(),
		WorkspaceID: "ws1",
		Name:        "viewer",
		Permissions: []domain.Permission{domain.MustParsePermission("document:read")},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.Roles().CreateRole(ctx, viewer))

	editor := viewer
	editor.ID = idx.New().String()
	editor.Name = "editor"
	editor.Parents = []string{viewer.ID}
	editor.Permissions = []domain.Permission{domain.MustParsePermission("resource:document/d1:write")}
	require.NoError(t, s.Roles().CreateRole(ctx, editor))

	got, err := s.Roles().GetRole(ctx, editor.ID)
	require.NoError(t, err)
	require.Equal(t, editor.Permissions, got.Permissions)
	require.Equal(t, []string{viewer.ID}, got.Parents)
	require.True(t, now.Equal(got.CreatedAt))

	dup := viewer
	dup.ID = idx.New().String()
	require.ErrorIs(t, s.Roles().CreateRole(ctx, dup), store.ErrAlreadyExists)

	// Same name in another workspace is fine, and global roles are visible everywhere
	global := viewer
	global.ID = idx.New().String()
	global.WorkspaceID = ""
	require.NoError(t, s.Roles().CreateRole(ctx, global))

	list, err := s.Roles().ListRoles(ctx, "ws1")
	require.NoError(t, err)
	require.Len(t, list, 3)

	list, err = s.Roles().ListRoles(ctx, "ws2")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.Roles().GetRole(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.Roles().DeleteRole(ctx, "missing"), store.ErrNotFound)
}

func TestAssignments_CascadeAndConditions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	role := domain.Role{ID: idx.New().String(), Name: "ops", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.Roles().CreateRole(ctx, role))

	cond := condx.Equals("subject.department", "eng")
	exp := now.Add(time.Hour)
	a := domain.RoleAssignment{
		ID:          idx.New().String(),
		UserID:      "u1",
		RoleID:      role.ID,
		WorkspaceID: "ws1",
		AssignedAt:  now,
		ExpiresAt:   &exp,
		Conditions:  &cond,
	}
	require.NoError(t, s.Assignments().CreateAssignment(ctx, a))

	global := domain.RoleAssignment{ID: idx.New().String(), UserID: "u1", RoleID: role.ID, AssignedAt: now}
	require.NoError(t, s.Assignments().CreateAssignment(ctx, global))

	got, err := s.Assignments().ListAssignmentsForUser(ctx, "u1", "ws1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	var scoped domain.RoleAssignment
	for _, g := range got {
		if g.ID == a.ID {
			scoped = g
		}
	}
	require.NotNil(t, scoped.Conditions)
	require.Equal(t, condx.OpEquals, scoped.Conditions.Op)
	require.True(t, exp.Equal(*scoped.ExpiresAt))

	got, err = s.Assignments().ListAssignmentsForUser(ctx, "u1", "ws2")
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, s.Roles().DeleteRole(ctx, role.ID))
	got, err = s.Assignments().ListAssignmentsForUser(ctx, "u1", "ws1")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPolicies_OptimisticVersion(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	p := domain.Policy{
		ID:          idx.New().String(),
		WorkspaceID: "ws1",
		Name:        "confidential",
		Timezone:    "UTC",
		Resources:   []string{"document"},
		Rules: []domain.Rule{{
			Effect:    domain.EffectDeny,
			Condition: condx.Between("subject.clearance", 0, 2),
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.Policies().CreatePolicy(ctx, p))

	got, err := s.Policies().GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, p.Rules[0].Effect, got.Rules[0].Effect)
	require.Equal(t, []string{"document"}, got.Resources)
	require.Empty(t, got.Actions)

	p.Description = "updated"
	require.NoError(t, s.Policies().UpdatePolicy(ctx, p))

	// p still carries version 1, the stored one is now 2
	require.ErrorIs(t, s.Policies().UpdatePolicy(ctx, p), store.ErrConflict)

	got, err = s.Policies().GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Version)
	require.Equal(t, "updated", got.Description)

	missing := p
	missing.ID = "nope"
	require.ErrorIs(t, s.Policies().UpdatePolicy(ctx, missing), store.ErrNotFound)
}

func TestRefreshTokens_RotateOnceAndRevokeChain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	root := domain.RefreshToken{
		ID:              idx.New().String(),
		TokenHash:       "h1",
		UserID:          "u1",
		WorkspaceID:     "ws1",
		SessionID:       "s1",
		AccessTokenID:   "jti-1",
		AccessExpiresAt: now.Add(15 * time.Minute),
		IssuedAt:        now,
		ExpiresAt:       now.Add(time.Hour),
	}
	root.ChainID = root.ID
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, root))

	ok, err := s.RefreshTokens().MarkRotated(ctx, root.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.RefreshTokens().MarkRotated(ctx, root.ID, now)
	require.NoError(t, err)
	require.False(t, ok, "second rotation must lose")

	child := root
	child.ID = idx.New().String()
	child.TokenHash = "h2"
	child.ParentID = root.ID
	child.AccessTokenID = "jti-2"
	child.IssuedAt = now.Add(time.Second)
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, child))

	n, err := s.RefreshTokens().RevokeChain(ctx, root.ID, domain.ReasonReuseDetected, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	chain, err := s.RefreshTokens().ListChain(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	for _, c := range chain {
		require.Equal(t, domain.RefreshRevoked, c.Status)
		require.Equal(t, domain.ReasonReuseDetected, c.RevokeReason)
		require.NotNil(t, c.RevokedAt)
	}
	require.NotNil(t, chain[0].RotatedAt)

	// Revoking again changes nothing
	n, err = s.RefreshTokens().RevokeChain(ctx, root.ID, domain.ReasonLogout, now)
	require.NoError(t, err)
	require.Zero(t, n)

	byHash, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, "h2")
	require.NoError(t, err)
	require.Equal(t, child.ID, byHash.ID)

	deleted, err := s.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
}

func TestBlacklist_KeepsLaterUntil(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	require.NoError(t, s.Blacklist().PutBlacklistEntry(ctx, domain.BlacklistEntry{TokenID: "j1", Until: now.Add(time.Hour), CreatedAt: now}))
	require.NoError(t, s.Blacklist().PutBlacklistEntry(ctx, domain.BlacklistEntry{TokenID: "j1", Until: now.Add(time.Minute), CreatedAt: now}))
	require.NoError(t, s.Blacklist().PutBlacklistEntry(ctx, domain.BlacklistEntry{TokenID: "j2", Until: now.Add(-time.Minute), CreatedAt: now}))

	e, err := s.Blacklist().GetBlacklistEntry(ctx, "j1")
	require.NoError(t, err)
	require.True(t, now.Add(time.Hour).Equal(e.Until))

	live, err := s.Blacklist().ListBlacklistEntries(ctx, now)
	require.NoError(t, err)
	require.Len(t, live, 1)

	n, err := s.Blacklist().DeleteExpiredBlacklistEntries(ctx, now)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestSessions_EndIsOneShot(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	sess := domain.Session{
		ID:             "s1",
		UserID:         "u1",
		WorkspaceID:    "ws1",
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Hour),
		Status:         domain.SessionActive,
		MFAVerified:    true,
	}
	require.NoError(t, s.Sessions().CreateSession(ctx, sess))

	sess.RiskScore = 40
	sess.Flagged = true
	sess.IP = "10.0.0.2"
	sess.LastActivityAt = now.Add(time.Minute)
	ok, err := s.Sessions().UpdateActivity(ctx, sess)
	require.NoError(t, err)
	require.True(t, ok)

	// Touching never moves activity backwards
	ok, err = s.Sessions().TouchSession(ctx, "s1", now)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := s.Sessions().GetSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, got.LastActivityAt.Equal(now.Add(time.Minute)))

	ok, err = s.Sessions().TouchSession(ctx, "s1", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Sessions().EndSession(ctx, "s1", domain.SessionTerminated, domain.ReasonLogout)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Sessions().EndSession(ctx, "s1", domain.SessionExpired, "")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Sessions().UpdateActivity(ctx, sess)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Sessions().TouchSession(ctx, "s1", now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	got, err = s.Sessions().GetSession(ctx, "s1")
	require.NoError(t, err)
	require.True(t, got.LastActivityAt.Equal(now.Add(2*time.Minute)))
	require.Equal(t, domain.SessionTerminated, got.Status)
	require.Equal(t, domain.ReasonLogout, got.TerminatedReason)
	require.Equal(t, 40, got.RiskScore)
	require.True(t, got.Flagged)
	require.True(t, got.MFAVerified)

	all, err := s.Sessions().ListSessions(ctx, "u1", "")
	require.NoError(t, err)
	require.Len(t, all, 1)

	n, err := s.Sessions().DeleteEndedSessions(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMembers_Upsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m := domain.Member{WorkspaceID: "ws1", UserID: "u1", Attributes: map[string]any{"department": "eng"}, CreatedAt: time.Now()}
	require.NoError(t, s.Members().PutMember(ctx, m))

	m.Attributes["clearance"] = 3
	require.NoError(t, s.Members().PutMember(ctx, m))

	got, err := s.Members().GetMember(ctx, "ws1", "u1")
	require.NoError(t, err)
	require.Equal(t, "eng", got.Attributes["department"])
	require.EqualValues(t, 3, got.Attributes["clearance"])

	_, err = s.Members().GetMember(ctx, "ws2", "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSigningKeys_RetireAndList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	for _, kid := range []string{"k1", "k2"} {
		require.NoError(t, s.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
			ID:                  idx.New().String(),
			Kid:                 kid,
			Algorithm:           "EdDSA",
			PrivateKeyEncrypted: []byte("sealed"),
			CreatedAt:           now,
			ExpiresAt:           now.Add(365 * 24 * time.Hour),
		}))
	}

	require.NoError(t, s.SigningKeys().RetireSigningKey(ctx, "k1", now, now.Add(time.Hour)))
	require.ErrorIs(t, s.SigningKeys().RetireSigningKey(ctx, "k1", now, now.Add(time.Hour)), store.ErrNotFound)

	active, err := s.SigningKeys().ListActiveSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "k2", active[0].Kid)

	all, err := s.SigningKeys().ListAllSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	adapter := store.NewKeyStoreAdapter(s)
	records, err := adapter.ListAllSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Roles().CreateRole(ctx, domain.Role{ID: "r1", Name: "temp", CreatedAt: now, UpdatedAt: now}))
		return store.ErrConflict
	})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.Roles().GetRole(ctx, "r1")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
		return tx.Roles().CreateRole(ctx, domain.Role{ID: "r1", Name: "kept", CreatedAt: now, UpdatedAt: now})
	}))
	_, err = s.Roles().GetRole(ctx, "r1")
	require.NoError(t, err)
}
