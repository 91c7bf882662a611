package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

const resourcePolicies = "policies"

// PoliciesHandler manages ABAC policies. Global policies apply to every
// workspace and need the global permission to change.
type PoliciesHandler struct {
	Policies *service.PolicyService
	RBAC     PermissionResolver
}

func (h *PoliciesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	list, err := h.Policies.ListPolicies(r.Context(), ac.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := authsdk.ListPoliciesResponse{Policies: make([]authsdk.Policy, len(list))}
	for i, p := range list {
		resp.Policies[i] = policyInfo(p)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleGet returns one policy. Global policies are readable by anyone who
// may manage policies in their own workspace.
func (h *PoliciesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	p, err := h.Policies.GetPolicy(r.Context(), r.PathValue("id"))
	if err == nil && p.WorkspaceID != "" && p.WorkspaceID != ac.WorkspaceID {
		err = domain.ErrNotFound
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, policyInfo(p))
}

func (h *PoliciesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	var req authsdk.PolicyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	ws := targetWorkspace(ac, req.Global)
	if err := checkOwner(ctx, h.RBAC, ac, ws, resourcePolicies, actionManage); err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.Policies.CreatePolicy(ctx, policyFromRequest(req, ws), ac.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("policy created", "policy_id", created.ID, "name", created.Name)
	httpx.WriteJSON(w, http.StatusCreated, policyInfo(created))
}

// HandleUpdate replaces a policy. A version other than the stored one is a
// conflict; zero replaces whatever is stored.
func (h *PoliciesHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	existing, ok := h.ownedPolicy(w, r, ac)
	if !ok {
		return
	}

	var req authsdk.PolicyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	p := policyFromRequest(req, existing.WorkspaceID)
	p.ID = existing.ID

	updated, err := h.Policies.UpdatePolicy(ctx, p, ac.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, policyInfo(updated))
}

func (h *PoliciesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	existing, ok := h.ownedPolicy(w, r, ac)
	if !ok {
		return
	}

	if err := h.Policies.DeletePolicy(ctx, existing.ID, ac.UserID); err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("policy deleted", "policy_id", existing.ID, "name", existing.Name)
	w.WriteHeader(http.StatusNoContent)
}

func (h *PoliciesHandler) ownedPolicy(w http.ResponseWriter, r *http.Request, ac domain.AuthContext) (domain.Policy, bool) {
	p, err := h.Policies.GetPolicy(r.Context(), r.PathValue("id"))
	if err == nil {
		err = checkOwner(r.Context(), h.RBAC, ac, p.WorkspaceID, resourcePolicies, actionManage)
	}
	if err != nil {
		writeError(w, r, err)
		return domain.Policy{}, false
	}
	return p, true
}
