package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestHousekeeping_RemovesDeadRecords(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedViewer(t, e)

	ended := e.login(t, "alice", "ws1", domain.Device{})
	live := e.login(t, "alice", "ws1", domain.Device{})
	require.NoError(t, e.sessions.TerminateSession(ctx, ended.Session.ID, domain.ReasonLogout))
	require.NoError(t, e.blacklist.Add(ctx, "jti-1", time.Now().Add(time.Hour), domain.ReasonAdmin))

	hk := NewHousekeepingService(e.store, quietLogger(), time.Minute)
	hk.Blacklist = e.blacklist
	later := time.Now().Add(90 * 24 * time.Hour)
	hk.Now = func() time.Time { return later }

	require.Equal(t, 5, hk.Cleanup(ctx))

	_, err := e.store.Sessions().GetSession(ctx, ended.Session.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.store.Sessions().GetSession(ctx, live.Session.ID)
	require.NoError(t, err)

	_, err = e.store.Blacklist().GetBlacklistEntry(ctx, "jti-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Every refresh token has passed expiry plus grace
	_, err = e.tokens.Refresh(ctx, live.Tokens.RefreshToken)
	require.ErrorIs(t, err, domain.ErrMalformed)
}

func TestHousekeeping_KeepsRecentRefreshTokensForReuseDetection(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedViewer(t, e)

	short := e.tokensWith(func(s *TokenService) { s.RefreshTTL = time.Minute })
	pair, err := short.Issue(ctx, IssueRequest{UserID: "alice", WorkspaceID: "ws1", SessionID: e.login(t, "alice", "ws1", domain.Device{}).Session.ID})
	require.NoError(t, err)
	_, err = short.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	hk := NewHousekeepingService(e.store, quietLogger(), time.Minute)
	later := time.Now().Add(time.Hour)
	hk.Now = func() time.Time { return later }
	require.Equal(t, 3, hk.Cleanup(ctx))

	// Housekeeping sees the rotated record as expired but inside the grace window
	_, err = short.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrTokenReused)
}

func TestHousekeeping_DropsKeysPastGrace(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	sealer, err := cryptox.NewSealer([]byte("master-key-for-tests"))
	require.NoError(t, err)
	km := persistentKeys(t, e.store, sealer)
	oldKid := km.GetSigners()[0].KID()

	// Rotated an hour ago with a one minute grace period
	past := time.Now().Add(-time.Hour)
	rot := &KeyRotationService{Store: e.store, Sealer: sealer, KeyManager: km, GracePeriod: time.Minute, Now: func() time.Time { return past }}
	resp, err := rot.RotateKey(ctx, RotateKeyRequest{RetireExisting: true}, "admin")
	require.NoError(t, err)
	require.Len(t, jwksKids(km), 2)

	hk := NewHousekeepingService(e.store, quietLogger(), time.Minute)
	hk.KeyManager = km
	hk.PersistentKeys = true
	require.Equal(t, 5, hk.Cleanup(ctx))

	require.Equal(t, []string{resp.NewKey.Kid}, jwksKids(km))
	all, err := e.store.SigningKeys().ListAllSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NotEqual(t, oldKid, all[0].Kid)
}

func TestHousekeeping_StepsFailIndependently(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// No expectations: every statement errors
	hk := NewHousekeepingService(sqlite.NewStoreFromDB(db), quietLogger(), 0)
	require.Equal(t, DefaultHousekeepingInterval, hk.Interval)
	require.Zero(t, hk.Cleanup(context.Background()))
}

func TestHousekeeping_StartStop(t *testing.T) {
	e := newEngine(t)
	hk := NewHousekeepingService(e.store, quietLogger(), 10*time.Millisecond)
	hk.Start()
	time.Sleep(30 * time.Millisecond)
	hk.Stop()
}
