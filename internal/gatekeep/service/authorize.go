package service

import (
	"context"
	"log/slog"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/audit"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/obs"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// Decision reasons. They go to logs, metrics and audit, never to callers.
const (
	ReasonSessionInactive = "session_inactive"
	ReasonRBACDenied      = "rbac"
	ReasonPolicyDenied    = "policy"
	ReasonDependency      = "dependency"
	ReasonAllowed         = "allowed"
	ReasonWorkspace       = "workspace_mismatch"
)

// SessionChecker reports whether a session is still live.
type SessionChecker interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

// Authorizer combines RBAC and ABAC. RBAC runs first and a denial there is
// final; when RBAC allows, any ABAC DENY overrides it. Every failure along
// the way denies.
type Authorizer struct {
	Sessions SessionChecker
	RBAC     *RBACService
	Policies *PolicyService
	Audit    audit.Emitter
	Metrics  *obs.Metrics
}

// Authorize decides whether caller may perform req. A denial is returned
// both as Decision.Allowed == false and as domain.ErrNotAuthorized; a
// dependency failure is only visible in logs and audit.
func (a *Authorizer) Authorize(ctx context.Context, caller domain.AuthContext, req domain.AccessRequest) (domain.Decision, error) {
	d, cause := a.decide(ctx, caller, req)
	a.Metrics.ObserveDecision(d.Allowed, d.Reason)

	if d.Allowed {
		return d, nil
	}

	l := slogx.FromContext(ctx)
	attrs := []any{
		slog.String("user_id", caller.UserID),
		slog.String("workspace_id", caller.WorkspaceID),
		slog.String("resource", req.Resource.Type),
		slog.String("resource_id", req.Resource.ID),
		slog.String("action", req.Action),
		slog.String("reason", d.Reason),
	}
	if cause != nil {
		l.Error("authorization failed closed", append(attrs, slog.Any("error", cause))...)
	} else {
		l.Info("authorization denied", attrs...)
	}

	if a.Audit != nil {
		ev := audit.New(audit.KindPermissionDenied, caller.UserID, caller.WorkspaceID).
			Failed(audit.OutcomeDenied, d.Reason).
			With("resource", req.Resource.Type).
			With("action", req.Action).
			With("session_id", caller.SessionID)
		if req.Resource.ID != "" {
			ev = ev.With("resource_id", req.Resource.ID)
		}
		if d.PolicyID != "" {
			ev = ev.With("policy_id", d.PolicyID)
		}
		if cause != nil {
			ev = ev.With("error", cause.Error())
		}
		_ = a.Audit.Emit(ctx, ev)
	}

	return d, domain.ErrNotAuthorized
}

func (a *Authorizer) decide(ctx context.Context, caller domain.AuthContext, req domain.AccessRequest) (domain.Decision, error) {
	deny := func(reason string) domain.Decision { return domain.Decision{Reason: reason} }

	if req.Resource.WorkspaceID != "" && req.Resource.WorkspaceID != caller.WorkspaceID {
		// Tokens are scoped to one workspace
		return deny(ReasonWorkspace), nil
	}

	active, err := a.Sessions.IsActive(ctx, caller.SessionID)
	if err != nil {
		return deny(ReasonDependency), err
	}
	if !active {
		return deny(ReasonSessionInactive), nil
	}

	ok, err := a.RBAC.HasPermission(ctx, caller.UserID, caller.WorkspaceID, req.Check(),
		WithAttributes(RequestAttributes(caller, req, a.RBAC.now())))
	if err != nil {
		return deny(ReasonDependency), err
	}
	if !ok {
		return deny(ReasonRBACDenied), nil
	}

	pd, err := a.Policies.Evaluate(ctx, caller, req)
	if err != nil {
		return deny(ReasonDependency), err
	}
	if pd.Effect == domain.EffectDeny {
		return domain.Decision{Reason: ReasonPolicyDenied, PolicyID: pd.PolicyID}, nil
	}

	return domain.Decision{Allowed: true, Reason: ReasonAllowed, PolicyID: pd.PolicyID}, nil
}
