package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

// auditRead lets a caller see why a decision was made.
var auditRead = domain.PermissionCheck{Resource: "audit", Action: "read"}

type AuthorizeHandler struct {
	Authz Decider
}

// HandleAuthorize answers whether the caller may perform an action. A denial
// is a normal 200 response, never an error status.
func (h *AuthorizeHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	var req authsdk.AuthorizeRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	ve := &domain.ValidationError{Code: domain.CodeInvalidRequest}
	if req.Resource.Type == "" {
		ve.Add("resource.type", "is required")
	}
	if req.Action == "" {
		ve.Add("action", "is required")
	}
	if err := ve.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	ref := domain.ResourceRef(req.Resource)
	if ref.WorkspaceID == "" {
		ref.WorkspaceID = ac.WorkspaceID
	}

	// Every failure has already been turned into a deny
	d, _ := h.Authz.Authorize(r.Context(), ac, domain.AccessRequest{
		Resource:    ref,
		Action:      req.Action,
		Environment: req.Environment,
	})

	resp := authsdk.AuthorizeResponse{Allowed: d.Allowed}
	if ac.Can(auditRead) {
		resp.Reason = d.Reason
		resp.PolicyID = d.PolicyID
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
