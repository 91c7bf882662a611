package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// SessionsHandler serves login, logout and session management for the
// calling user.
type SessionsHandler struct {
	Authn    *service.AuthnService
	Sessions *service.SessionService
}

// HandleCreate exchanges an identity assertion for a session and tokens.
// Only the identity gateway reaches it.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.AuthenticateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	// The gateway may relay the device details; fill gaps from the request
	device := domain.Device{
		Fingerprint: req.Device.Fingerprint,
		IP:          req.Device.IP,
		Country:     req.Device.Country,
		UserAgent:   req.Device.UserAgent,
	}
	if device.IP == "" {
		device.IP = httpx.ClientIP(r)
	}
	if device.UserAgent == "" {
		device.UserAgent = r.UserAgent()
	}

	res, err := h.Authn.Authenticate(ctx, service.AuthenticateRequest{
		Identity: domain.Identity{
			Subject:     req.Identity.Subject,
			Email:       req.Identity.Email,
			DisplayName: req.Identity.DisplayName,
			Provider:    req.Identity.Provider,
			IssuedAt:    req.Identity.IssuedAt,
			Attributes:  req.Identity.Attributes,
		},
		WorkspaceID: req.WorkspaceID,
		Device:      device,
		MFAVerified: req.MFAVerified,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("session created",
		"user_id", res.Session.UserID,
		"workspace_id", res.Session.WorkspaceID,
		"session_id", res.Session.ID,
	)

	resp := tokenResponse(res.Tokens)
	resp.Roles = res.Roles
	resp.Permissions = domain.PermissionStrings(res.Permissions)
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

// HandleList returns the caller's sessions in the token's workspace.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	list, err := h.Sessions.ListSessions(r.Context(), ac.UserID, ac.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := authsdk.ListSessionsResponse{Sessions: make([]authsdk.SessionInfo, len(list))}
	for i, s := range list {
		resp.Sessions[i] = sessionInfo(s, ac.SessionID)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleLogout ends the session the request was made with.
func (h *SessionsHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	if err := h.Authn.Logout(r.Context(), ac); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTerminate ends one of the caller's own sessions. Sessions of other
// users look the same as sessions that do not exist.
func (h *SessionsHandler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)
	id := r.PathValue("id")

	sess, err := h.Sessions.GetSession(ctx, id)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && sess.UserID != ac.UserID) {
		writeError(w, r, domain.ErrNotAuthorized)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Sessions.TerminateSession(ctx, id, domain.ReasonUser); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTerminateOthers ends every session of the caller but this one.
func (h *SessionsHandler) HandleTerminateOthers(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	n, err := h.Sessions.TerminateAllSessions(r.Context(), ac.UserID, ac.SessionID, domain.ReasonUser)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.TerminateOthersResponse{Terminated: n})
}
