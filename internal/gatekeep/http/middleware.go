package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/cryptox"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// Headers set by the fronting proxy describing the client device.
const (
	DeviceFingerprintHeader = "X-Device-Fingerprint"
	ClientCountryHeader     = "X-Client-Country"
)

type authContextKey struct{}

// WithAuthContext stores the verified caller in ctx.
func WithAuthContext(ctx context.Context, ac domain.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthContextFrom returns the caller stored by AuthnMiddleware.
func AuthContextFrom(ctx context.Context) (domain.AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(domain.AuthContext)
	return ac, ok
}

// callerID keys per-user rate limits.
func callerID(ctx context.Context) string {
	ac, _ := AuthContextFrom(ctx)
	return ac.UserID
}

type TokenValidator interface {
	Validate(ctx context.Context, raw string) (domain.AuthContext, error)
}

// AuthnMiddleware verifies the bearer access token and stores the caller in
// the request context.
func AuthnMiddleware(tokens TokenValidator) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := httpx.BearerToken(r)
			if !ok {
				httpx.WriteBearerError(w, authsdk.ErrorCodeInvalidToken, "missing bearer token")
				return
			}

			ac, err := tokens.Validate(r.Context(), raw)
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := WithAuthContext(r.Context(), ac)
			ctx = slogx.With(ctx, "user_id", ac.UserID, "workspace_id", ac.WorkspaceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type ActivityRecorder interface {
	UpdateActivity(ctx context.Context, id string, act domain.Activity) (domain.RiskAssessment, error)
	IsActive(ctx context.Context, id string) (bool, error)
}

// activityFrom describes the request for risk scoring.
func activityFrom(r *http.Request) domain.Activity {
	return domain.Activity{
		IP:                httpx.ClientIP(r),
		Country:           r.Header.Get(ClientCountryHeader),
		DeviceFingerprint: r.Header.Get(DeviceFingerprintHeader),
		UserAgent:         r.UserAgent(),
		At:                time.Now(),
	}
}

// TrackActivity records the request against the caller's session and
// rejects it when the session has ended, including when this very request
// pushed its risk score over the termination threshold.
func TrackActivity(sessions ActivityRecorder) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AuthContextFrom(r.Context())
			if !ok {
				writeError(w, r, domain.ErrNotAuthorized)
				return
			}

			ra, err := sessions.UpdateActivity(r.Context(), ac.SessionID, activityFrom(r))
			if err != nil {
				writeError(w, r, err)
				return
			}
			if ra.Terminated {
				writeError(w, r, domain.ErrSessionInactive)
				return
			}

			// UpdateActivity ignores ended sessions, so check liveness here
			active, err := sessions.IsActive(r.Context(), ac.SessionID)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !active {
				writeError(w, r, domain.ErrSessionInactive)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type Decider interface {
	Authorize(ctx context.Context, caller domain.AuthContext, req domain.AccessRequest) (domain.Decision, error)
}

// RequirePermission asks the authorizer whether the caller may perform
// action on resource type in its own workspace.
func RequirePermission(authz Decider, resource, action string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AuthContextFrom(r.Context())
			if !ok {
				writeError(w, r, domain.ErrNotAuthorized)
				return
			}

			_, err := authz.Authorize(r.Context(), ac, domain.AccessRequest{
				Resource: domain.ResourceRef{Type: resource, WorkspaceID: ac.WorkspaceID},
				Action:   action,
			})
			if err != nil {
				writeError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type PermissionResolver interface {
	ResolvePermissions(ctx context.Context, userID, workspaceID string, opts ...service.ResolveOption) ([]domain.Permission, error)
}

// hasGlobalPermission reports whether the caller holds a global-scope
// permission for action on resource. Workspace permissions never reach
// entities shared by every workspace.
func hasGlobalPermission(ctx context.Context, rbac PermissionResolver, ac domain.AuthContext, resource, action string) (bool, error) {
	req := domain.AccessRequest{Resource: domain.ResourceRef{Type: resource}, Action: action}
	perms, err := rbac.ResolvePermissions(ctx, ac.UserID, ac.WorkspaceID,
		service.WithAttributes(service.RequestAttributes(ac, req, time.Now())))
	if err != nil {
		return false, err
	}

	check := req.Check()
	for _, p := range perms {
		if p.Scope == domain.ScopeGlobal && p.Grants(ac.WorkspaceID, check) {
			return true, nil
		}
	}
	return false, nil
}

// RequireGlobalPermission guards routes that act on every workspace.
func RequireGlobalPermission(rbac PermissionResolver, resource, action string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := AuthContextFrom(r.Context())
			if !ok {
				writeError(w, r, domain.ErrNotAuthorized)
				return
			}

			allowed, err := hasGlobalPermission(r.Context(), rbac, ac, resource, action)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !allowed {
				slogx.FromContext(r.Context()).Info("global permission missing", "resource", resource, "action", action)
				writeError(w, r, domain.ErrNotAuthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireGatewayToken admits only the identity gateway. An empty token
// closes the route.
func RequireGatewayToken(token string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || !cryptox.EqualSecret(r.Header.Get(authsdk.GatewayTokenHeader), token) {
				slogx.FromContext(r.Context()).Warn("gateway token rejected", "remote_addr", httpx.ClientIP(r))
				authsdk.ErrNotAuthorized.WriteError(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkOwner decides whether the caller may manage an entity owned by
// workspace. Entities of other workspaces do not exist as far as the caller
// is concerned; global entities need the global form of the permission.
func checkOwner(ctx context.Context, rbac PermissionResolver, ac domain.AuthContext, workspace, resource, action string) error {
	switch workspace {
	case ac.WorkspaceID:
		return nil
	case "":
		allowed, err := hasGlobalPermission(ctx, rbac, ac, resource, action)
		if err != nil {
			return err
		}
		if !allowed {
			return domain.ErrNotAuthorized
		}
		return nil
	default:
		return domain.ErrNotFound
	}
}

// targetWorkspace is the workspace a create request writes to.
func targetWorkspace(ac domain.AuthContext, global bool) string {
	if global {
		return ""
	}
	return ac.WorkspaceID
}
