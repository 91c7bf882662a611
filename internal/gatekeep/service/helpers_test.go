package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/idx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://gatekeep.test"

// engine is every service wired together the way app.New does it.
type engine struct {
	store     *sqlite.Store
	audit     *audit.Recorder
	keys      *jwtx.KeyManager
	blacklist *Blacklist
	tokens    *TokenService
	sessions  *SessionService
	rbac      *RBACService
	policies  *PolicyService
	authz     *Authorizer
	authn     *AuthnService
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmES256,
		Issuer:    testIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	rec := &audit.Recorder{}
	bl := NewBlacklist(st, false, quietLogger())
	require.NoError(t, bl.Warm(ctx))

	e := &engine{store: st, audit: rec, keys: km, blacklist: bl}
	e.rbac = &RBACService{Store: st, Audit: rec, CacheTTL: time.Nanosecond}
	e.policies = &PolicyService{Store: st, Audit: rec, CacheTTL: time.Nanosecond}
	e.sessions = &SessionService{Store: st, Audit: rec}
	e.tokens = &TokenService{
		KeyManager:  km,
		Store:       st,
		Revocations: bl,
		Sessions:    e.sessions,
		Audit:       rec,
		Issuer:      testIssuer,
	}
	e.authn = &AuthnService{Store: st, Tokens: e.tokens, Sessions: e.sessions, RBAC: e.rbac, Audit: rec}
	e.tokens.Claims = e.authn
	e.authz = &Authorizer{Sessions: e.sessions, RBAC: e.rbac, Policies: e.policies, Audit: rec}

	e.sessions.OnTerminate = func(ctx context.Context, s domain.Session, reason string) {
		if _, err := e.tokens.RevokeSession(ctx, s.ID, reason); err != nil {
			t.Errorf("revoke tokens of session %s: %v", s.ID, err)
		}
	}
	return e
}

func (e *engine) role(t *testing.T, workspaceID, name string, perms []string, parents ...string) domain.Role {
	t.Helper()
	ps, err := domain.ParsePermissions(perms)
	require.NoError(t, err)
	r, err := e.rbac.CreateRole(context.Background(), domain.Role{
		WorkspaceID: workspaceID,
		Name:        name,
		Permissions: ps,
		Parents:     parents,
	}, "test")
	require.NoError(t, err)
	return r
}

func (e *engine) member(t *testing.T, workspaceID, userID string, attrs map[string]any) {
	t.Helper()
	_, err := e.rbac.PutMember(context.Background(), domain.Member{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Attributes:  attrs,
	}, "test")
	require.NoError(t, err)
}

func (e *engine) assign(t *testing.T, userID, workspaceID, roleID string) domain.RoleAssignment {
	t.Helper()
	a, err := e.rbac.AssignRole(context.Background(), domain.RoleAssignment{
		ID:          idx.New().String(),
		UserID:      userID,
		RoleID:      roleID,
		WorkspaceID: workspaceID,
		AssignedBy:  "test",
	})
	require.NoError(t, err)
	return a
}

// tokensWith builds a TokenService sharing e's store and keys, adjusted by
// mut.
func (e *engine) tokensWith(mut func(*TokenService)) *TokenService {
	s := &TokenService{
		KeyManager:  e.keys,
		Store:       e.store,
		Revocations: e.blacklist,
		Claims:      e.authn,
		Sessions:    e.sessions,
		Audit:       e.audit,
		Issuer:      testIssuer,
	}
	mut(s)
	return s
}

// login authenticates userID into workspaceID with a fresh assertion.
func (e *engine) login(t *testing.T, userID, workspaceID string, device domain.Device) *AuthenticateResult {
	t.Helper()
	res, err := e.authn.Authenticate(context.Background(), AuthenticateRequest{
		Identity:    domain.Identity{Subject: userID, Provider: "test", IssuedAt: time.Now()},
		WorkspaceID: workspaceID,
		Device:      device,
	})
	require.NoError(t, err)
	return res
}

// clock is a settable time source.
type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Now().UTC()} }

func (c *clock) Now() time.Time { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }
