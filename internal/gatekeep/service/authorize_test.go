package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/obs"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store/drivers/sqlite"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// confidentialDocs denies reads of confidential documents to anyone outside
// the owning department.
func confidentialDocs(t *testing.T, e *engine) domain.Policy {
	return e.policy(t, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "confidential-docs",
		Resources:   []string{"document"},
		Rules: []domain.Rule{{
			Effect: domain.EffectDeny,
			Condition: condx.And(
				condx.Equals("resource.classification", "confidential"),
				condx.Not(condx.Equals("subject.department", "legal")),
			),
			Description: "confidential documents are legal only",
		}},
	})
}

func (e *engine) caller(t *testing.T, userID string) domain.AuthContext {
	t.Helper()
	res := e.login(t, userID, "ws1", domain.Device{})
	ac, err := e.tokens.Validate(context.Background(), res.Tokens.AccessToken)
	require.NoError(t, err)
	return ac
}

func TestAuthorize_RBACThenPolicy(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	viewer := seedViewer(t, e)
	e.member(t, "ws1", "bob", map[string]any{"department": "legal"})
	e.assign(t, "bob", "ws1", viewer.ID)
	policy := confidentialDocs(t, e)

	alice := e.caller(t, "alice")
	bob := e.caller(t, "bob")

	public := docRequest("read", map[string]any{"classification": "public"})
	secret := docRequest("read", map[string]any{"classification": "confidential"})

	d, err := e.authz.Authorize(ctx, alice, public)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = e.authz.Authorize(ctx, alice, secret)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.False(t, d.Allowed)
	require.Equal(t, ReasonPolicyDenied, d.Reason)
	require.Equal(t, policy.ID, d.PolicyID)

	d, err = e.authz.Authorize(ctx, bob, secret)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	// RBAC runs first; no policy can allow what no role grants
	d, err = e.authz.Authorize(ctx, alice, docRequest("delete", nil))
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.Equal(t, ReasonRBACDenied, d.Reason)

	denied := e.audit.OfKind(audit.KindPermissionDenied)
	require.Len(t, denied, 2)
	require.Equal(t, "alice", denied[0].Actor)
	require.Equal(t, policy.ID, denied[0].Fields["policy_id"])
	require.Equal(t, audit.OutcomeDenied, denied[0].Outcome)
}

func TestAuthorize_ForeignWorkspaceDenied(t *testing.T) {
	e := newEngine(t)
	seedViewer(t, e)
	alice := e.caller(t, "alice")

	req := docRequest("read", nil)
	req.Resource.WorkspaceID = "ws2"

	d, err := e.authz.Authorize(context.Background(), alice, req)
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.Equal(t, ReasonWorkspace, d.Reason)
}

func TestAuthorize_EndedSessionDenied(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	seedViewer(t, e)
	alice := e.caller(t, "alice")

	require.NoError(t, e.sessions.TerminateSession(ctx, alice.SessionID, domain.ReasonAdmin))

	d, err := e.authz.Authorize(ctx, alice, docRequest("read", nil))
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	require.Equal(t, ReasonSessionInactive, d.Reason)
}

type brokenSessions struct{}

func (brokenSessions) IsActive(context.Context, string) (bool, error) {
	return false, errors.New("session store offline")
}

type liveSessions struct{}

func (liveSessions) IsActive(context.Context, string) (bool, error) { return true, nil }

func TestAuthorize_FailsClosed(t *testing.T) {
	ctx := context.Background()
	caller := domain.AuthContext{UserID: "alice", WorkspaceID: "ws1", SessionID: "s1"}

	t.Run("session lookup", func(t *testing.T) {
		e := newEngine(t)
		seedViewer(t, e)
		e.authz.Sessions = brokenSessions{}

		d, err := e.authz.Authorize(ctx, caller, docRequest("read", nil))
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
		require.False(t, d.Allowed)
		require.Equal(t, ReasonDependency, d.Reason)

		denied := e.audit.OfKind(audit.KindPermissionDenied)
		require.Len(t, denied, 1)
		require.Equal(t, "session store offline", denied[0].Fields["error"])
	})

	t.Run("role store", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		mock.ExpectQuery(regexp.QuoteMeta("FROM role_assignments")).
			WillReturnError(errors.New("database is locked"))

		st := sqlite.NewStoreFromDB(db)
		reg := prometheus.NewRegistry()
		rec := &audit.Recorder{}
		authz := &Authorizer{
			Sessions: liveSessions{},
			RBAC:     &RBACService{Store: st},
			Policies: &PolicyService{Store: st},
			Audit:    rec,
			Metrics:  obs.NewMetrics(reg),
		}

		d, err := authz.Authorize(ctx, caller, docRequest("read", nil))
		require.ErrorIs(t, err, domain.ErrNotAuthorized)
		require.Equal(t, ReasonDependency, d.Reason)
		require.NoError(t, mock.ExpectationsWereMet())

		rw := httptest.NewRecorder()
		obs.Handler(reg).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		body, err := io.ReadAll(rw.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `gatekeep_authorization_decisions_total{allowed="false",reason="dependency"} 1`)
	})
}
