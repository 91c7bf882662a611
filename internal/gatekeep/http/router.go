package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/obs"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/store"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/jwtx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
	"github.com/prometheus/client_golang/prometheus"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	limits       httpx.RateLimitProfiles

	store    store.Store
	metrics  *obs.Metrics
	gatherer prometheus.Gatherer

	// GatewayToken admits the identity gateway to POST /v1/sessions. Empty
	// closes the route.
	GatewayToken string

	AuthnService       *service.AuthnService
	TokenService       *service.TokenService
	SessionService     *service.SessionService
	RBACService        *service.RBACService
	PolicyService      *service.PolicyService
	Authorizer         *service.Authorizer
	Blacklist          *service.Blacklist
	KeyRotationService *service.KeyRotationService
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	metrics *obs.Metrics,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		limits:       httpx.DefaultRateLimitProfiles(),
		store:        st,
		metrics:      metrics,
		gatherer:     gatherer,
	}

	// Instrument reads the matched pattern, so it sits inside the logger and
	// outside the mux
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		r.metrics.Instrument,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSessions()
	r.registerTokens()
	r.registerAuthorize()
	r.registerRoles()
	r.registerMembers()
	r.registerPolicies()
	r.registerKeyRotation()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authed is the chain every bearer-authenticated route shares: verify the
// token, record activity on its session, then limit per user.
func (r *Router) authed(h http.HandlerFunc, limit httpx.RateLimitConfig, extra ...httpx.Middleware) http.Handler {
	mws := append([]httpx.Middleware{
		AuthnMiddleware(r.TokenService),
		TrackActivity(r.SessionService),
		httpx.RateLimitBy(limit, callerID),
	}, extra...)
	return httpx.Chain(h, mws...)
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Authn: r.AuthnService, Sessions: r.SessionService}

	// POST /v1/sessions - gateway only, strict limit by IP
	r.Mux.Handle("POST /v1/sessions",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			RequireGatewayToken(r.GatewayToken),
			httpx.RateLimitByIP(r.limits.Strict),
		),
	)

	r.Mux.Handle("GET /v1/sessions", r.authed(h.HandleList, r.limits.Moderate))
	r.Mux.Handle("DELETE /v1/sessions/current", r.authed(h.HandleLogout, r.limits.Moderate))
	r.Mux.Handle("DELETE /v1/sessions/{id}", r.authed(h.HandleTerminate, r.limits.Moderate))
	r.Mux.Handle("POST /v1/sessions/terminate-others", r.authed(h.HandleTerminateOthers, r.limits.Moderate))
}

func (r *Router) registerTokens() {
	h := &TokensHandler{Tokens: r.TokenService, Authz: r.Authorizer}

	// POST /v1/tokens/refresh - the refresh token is the credential; strict limit by IP
	r.Mux.Handle("POST /v1/tokens/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(r.limits.Strict),
		),
	)

	r.Mux.Handle("POST /v1/tokens/revoke", r.authed(h.HandleRevoke, r.limits.Moderate))

	// Introspection is for resource servers holding their own token
	r.Mux.Handle("POST /v1/tokens/introspect",
		httpx.Chain(http.HandlerFunc(h.HandleIntrospect),
			AuthnMiddleware(r.TokenService),
			httpx.RateLimitBy(r.limits.Lenient, callerID),
		),
	)
}

func (r *Router) registerAuthorize() {
	h := &AuthorizeHandler{Authz: r.Authorizer}

	// Session liveness is part of the decision itself, so no TrackActivity here
	r.Mux.Handle("POST /v1/authorize",
		httpx.Chain(http.HandlerFunc(h.HandleAuthorize),
			AuthnMiddleware(r.TokenService),
			httpx.RateLimitBy(r.limits.Lenient, callerID),
		),
	)
}

func (r *Router) registerRoles() {
	h := &RolesHandler{RBAC: r.RBACService}
	manage := RequirePermission(r.Authorizer, resourceRoles, actionManage)

	r.Mux.Handle("GET /v1/roles", r.authed(h.HandleListRoles, r.limits.Moderate, manage))
	r.Mux.Handle("POST /v1/roles", r.authed(h.HandleCreateRole, r.limits.Moderate, manage))
	r.Mux.Handle("PUT /v1/roles/{id}", r.authed(h.HandleUpdateRole, r.limits.Moderate, manage))
	r.Mux.Handle("DELETE /v1/roles/{id}", r.authed(h.HandleDeleteRole, r.limits.Moderate, manage))

	r.Mux.Handle("GET /v1/assignments", r.authed(h.HandleListAssignments, r.limits.Moderate, manage))
	r.Mux.Handle("POST /v1/assignments", r.authed(h.HandleAssign, r.limits.Moderate, manage))
	r.Mux.Handle("DELETE /v1/assignments/{id}", r.authed(h.HandleRevokeAssignment, r.limits.Moderate, manage))
}

func (r *Router) registerMembers() {
	h := &MembersHandler{RBAC: r.RBACService}
	manage := RequirePermission(r.Authorizer, "members", actionManage)

	r.Mux.Handle("GET /v1/members", r.authed(h.HandleList, r.limits.Moderate, manage))
	r.Mux.Handle("PUT /v1/members/{user}", r.authed(h.HandlePut, r.limits.Moderate, manage))
	r.Mux.Handle("DELETE /v1/members/{user}", r.authed(h.HandleRemove, r.limits.Moderate, manage))
}

func (r *Router) registerPolicies() {
	h := &PoliciesHandler{Policies: r.PolicyService, RBAC: r.RBACService}
	manage := RequirePermission(r.Authorizer, resourcePolicies, actionManage)

	r.Mux.Handle("GET /v1/policies", r.authed(h.HandleList, r.limits.Moderate, manage))
	r.Mux.Handle("GET /v1/policies/{id}", r.authed(h.HandleGet, r.limits.Moderate, manage))
	r.Mux.Handle("POST /v1/policies", r.authed(h.HandleCreate, r.limits.Moderate, manage))
	r.Mux.Handle("PUT /v1/policies/{id}", r.authed(h.HandleUpdate, r.limits.Moderate, manage))
	r.Mux.Handle("DELETE /v1/policies/{id}", r.authed(h.HandleDelete, r.limits.Moderate, manage))
}

func (r *Router) registerKeyRotation() {
	h := &KeyRotationHandler{KeyRotationService: r.KeyRotationService}
	manage := RequireGlobalPermission(r.RBACService, "keys", actionManage)

	r.Mux.Handle("POST /v1/keys/rotate", r.authed(h.HandleRotate, r.limits.Moderate, manage))
	r.Mux.Handle("GET /v1/keys", r.authed(h.HandleListKeys, r.limits.Moderate, manage))
	r.Mux.Handle("POST /v1/keys/{kid}/retire", r.authed(h.HandleRetireKey, r.limits.Moderate, manage))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys),
			httpx.RateLimitByIP(r.limits.Public),
		),
	)

	var blacklist DegradedChecker
	if r.Blacklist != nil {
		blacklist = r.Blacklist
	}

	// Health check endpoints - monitoring systems may poll frequently
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.limits.Public),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys, blacklist),
			httpx.RateLimitByIP(r.limits.Public),
		),
	)

	r.Mux.Handle("GET /metrics", obs.Handler(r.gatherer))
}
