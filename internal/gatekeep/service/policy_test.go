package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/condx"
	"github.com/stretchr/testify/require"
)

func (e *engine) policy(t *testing.T, p domain.Policy) domain.Policy {
	t.Helper()
	out, err := e.policies.CreatePolicy(context.Background(), p, "test")
	require.NoError(t, err)
	return out
}

func docRequest(action string, attrs map[string]any) domain.AccessRequest {
	return domain.AccessRequest{
		Resource: domain.ResourceRef{Type: "document", ID: "doc-1", Attributes: attrs},
		Action:   action,
	}
}

func TestPolicy_NotApplicableWithoutPolicies(t *testing.T) {
	e := newEngine(t)

	d, err := e.policies.Evaluate(context.Background(), domain.AuthContext{UserID: "alice", WorkspaceID: "ws1"}, docRequest("read", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectNotApplicable, d.Effect)
	require.Equal(t, -1, d.RuleIndex)
}

func TestPolicy_DenyOverridesAllow(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	caller := domain.AuthContext{UserID: "alice", WorkspaceID: "ws1", Attributes: map[string]any{"department": "engineering"}}

	allow := e.policy(t, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "engineers-read",
		Resources:   []string{"document"},
		Rules: []domain.Rule{
			{Effect: domain.EffectAllow, Condition: condx.Equals("subject.department", "engineering")},
		},
	})

	d, err := e.policies.Evaluate(ctx, caller, docRequest("read", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectAllow, d.Effect)
	require.Equal(t, allow.ID, d.PolicyID)
	require.Equal(t, 0, d.RuleIndex)

	deny := e.policy(t, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "no-archived",
		Resources:   []string{"document"},
		Rules: []domain.Rule{
			{Effect: domain.EffectDeny, Condition: condx.Equals("resource.state", "archived"), Description: "archived documents are frozen"},
		},
	})

	d, err = e.policies.Evaluate(ctx, caller, docRequest("read", map[string]any{"state": "archived"}))
	require.NoError(t, err)
	require.Equal(t, domain.EffectDeny, d.Effect)
	require.Equal(t, deny.ID, d.PolicyID)
	require.Equal(t, "no-archived: archived documents are frozen", d.Reason)

	// The deny rule does not match live documents
	d, err = e.policies.Evaluate(ctx, caller, docRequest("read", map[string]any{"state": "live"}))
	require.NoError(t, err)
	require.Equal(t, domain.EffectAllow, d.Effect)
}

func TestPolicy_FirstMatchingRuleDecides(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	e.policy(t, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "ordered",
		Rules: []domain.Rule{
			{Effect: domain.EffectAllow, Condition: condx.Equals("subject.id", "alice")},
			{Effect: domain.EffectDeny, Condition: condx.Equals("action", "read")},
		},
	})

	d, err := e.policies.Evaluate(ctx, domain.AuthContext{UserID: "alice", WorkspaceID: "ws1"}, docRequest("read", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectAllow, d.Effect)

	d, err = e.policies.Evaluate(ctx, domain.AuthContext{UserID: "bob", WorkspaceID: "ws1"}, docRequest("read", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectDeny, d.Effect)
	require.Equal(t, 1, d.RuleIndex)
}

func TestPolicy_TargetsAndWorkspaces(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	deny := []domain.Rule{{Effect: domain.EffectDeny, Condition: condx.Equals("subject.id", "alice")}}

	e.policy(t, domain.Policy{WorkspaceID: "ws1", Name: "writes-only", Actions: []string{"write"}, Rules: deny})
	e.policy(t, domain.Policy{WorkspaceID: "ws2", Name: "elsewhere", Rules: deny})

	d, err := e.policies.Evaluate(ctx, domain.AuthContext{UserID: "alice", WorkspaceID: "ws1"}, docRequest("read", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectNotApplicable, d.Effect)

	d, err = e.policies.Evaluate(ctx, domain.AuthContext{UserID: "alice", WorkspaceID: "ws1"}, docRequest("write", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectDeny, d.Effect)

	// Global policies apply everywhere
	e.policy(t, domain.Policy{Name: "everywhere", Resources: []string{"*"}, Rules: deny})
	d, err = e.policies.Evaluate(ctx, domain.AuthContext{UserID: "alice", WorkspaceID: "ws3"}, docRequest("read", nil))
	require.NoError(t, err)
	require.Equal(t, domain.EffectDeny, d.Effect)
}

func TestPolicy_BusinessHoursInTimezone(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	e.policy(t, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "after-hours",
		Timezone:    "Australia/Sydney",
		Actions:     []string{"export"},
		Rules: []domain.Rule{
			{Effect: domain.EffectDeny, Condition: condx.Not(condx.Between("environment.time", "09:00", "17:00"))},
		},
	})

	syd, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)
	caller := domain.AuthContext{UserID: "alice", WorkspaceID: "ws1"}

	at := func(hour int) domain.AccessRequest {
		req := docRequest("export", nil)
		req.Environment = map[string]any{"time": time.Date(2025, 3, 3, hour, 30, 0, 0, syd)}
		return req
	}

	d, err := e.policies.Evaluate(ctx, caller, at(10))
	require.NoError(t, err)
	require.Equal(t, domain.EffectNotApplicable, d.Effect)

	d, err = e.policies.Evaluate(ctx, caller, at(22))
	require.NoError(t, err)
	require.Equal(t, domain.EffectDeny, d.Effect)
}

func TestPolicy_ValidationAndVersions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)

	_, err := e.policies.CreatePolicy(ctx, domain.Policy{WorkspaceID: "ws1", Name: "empty"}, "admin")
	require.ErrorIs(t, err, domain.ErrInvalidPolicy)

	_, err = e.policies.CreatePolicy(ctx, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "bad-op",
		Rules:       []domain.Rule{{Effect: domain.EffectDeny, Condition: condx.Node{Op: "xor"}}},
	}, "admin")
	require.ErrorIs(t, err, domain.ErrInvalidPolicy)

	p := e.policy(t, domain.Policy{
		WorkspaceID: "ws1",
		Name:        "versioned",
		Rules:       []domain.Rule{{Effect: domain.EffectAllow, Condition: condx.Equals("action", "read")}},
	})
	require.Equal(t, 1, p.Version)

	stale := p
	p.Description = "first edit"
	p, err = e.policies.UpdatePolicy(ctx, p, "admin")
	require.NoError(t, err)
	require.Equal(t, 2, p.Version)

	stale.Description = "lost update"
	_, err = e.policies.UpdatePolicy(ctx, stale, "admin")
	require.ErrorIs(t, err, domain.ErrConflict)

	got, err := e.policies.GetPolicy(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "first edit", got.Description)
	require.Equal(t, 2, got.Version)

	require.NoError(t, e.policies.DeletePolicy(ctx, p.ID, "admin"))
	_, err = e.policies.GetPolicy(ctx, p.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, e.audit.OfKind(audit.KindPolicyChanged), 3)
}
