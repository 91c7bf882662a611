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

type TokensHandler struct {
	Tokens *service.TokenService
	Authz  Decider
}

// HandleRefresh rotates a refresh token. The refresh token is the only
// credential, so the route carries no bearer authentication.
func (h *TokensHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	httpx.NoCache(w)

	var req authsdk.RefreshRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	pair, err := h.Tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleRevoke revokes one token. Callers may always revoke their own
// tokens; revoking anyone else's needs tokens:revoke in the workspace. Refresh
// tokens of other workspaces are reported as not found.
func (h *TokensHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	var req authsdk.RevokeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if (req.TokenID == "") == (req.RefreshToken == "") {
		writeError(w, r, domain.WithMessage(domain.ErrInvalidRequest, "exactly one of token_id or refresh_token is required"))
		return
	}

	id := req.TokenID
	owned := id != "" && id == ac.TokenID

	switch {
	case req.RefreshToken != "":
		rec, err := h.Tokens.LookupRefreshToken(ctx, req.RefreshToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		id = rec.ID
		owned = rec.UserID == ac.UserID
		if !owned && rec.WorkspaceID != ac.WorkspaceID {
			writeError(w, r, domain.ErrNotFound)
			return
		}

	case !owned:
		rec, err := h.Tokens.RefreshRecord(ctx, id)
		switch {
		case err == nil:
			owned = rec.UserID == ac.UserID
			if !owned && rec.WorkspaceID != ac.WorkspaceID {
				writeError(w, r, domain.ErrNotFound)
				return
			}
		case !errors.Is(err, domain.ErrNotFound):
			writeError(w, r, err)
			return
		}
	}

	reason := domain.ReasonUser
	if !owned {
		_, err := h.Authz.Authorize(ctx, ac, domain.AccessRequest{
			Resource: domain.ResourceRef{Type: "tokens", ID: id, WorkspaceID: ac.WorkspaceID},
			Action:   "revoke",
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		reason = domain.ReasonAdmin
	}

	if err := h.Tokens.Revoke(ctx, id, reason); err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("token revoked", "token_id", id, "reason", reason)
	w.WriteHeader(http.StatusNoContent)
}

// HandleIntrospect describes a token for resource servers. Any token that
// fails validation is reported inactive without saying why.
func (h *TokensHandler) HandleIntrospect(w http.ResponseWriter, r *http.Request) {
	httpx.NoCache(w)

	var req authsdk.IntrospectRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	ac, err := h.Tokens.Validate(r.Context(), req.Token)
	if err != nil {
		if domain.CategoryOf(err) == domain.CategoryDependency {
			writeError(w, r, err)
			return
		}
		slogx.FromContext(r.Context()).Debug("introspected inactive token", "error", err)
		httpx.WriteJSON(w, http.StatusOK, authsdk.IntrospectResponse{Active: false})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, introspection(ac))
}
