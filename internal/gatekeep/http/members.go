package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
)

// MembersHandler manages who belongs to the caller's workspace.
type MembersHandler struct {
	RBAC *service.RBACService
}

func (h *MembersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	list, err := h.RBAC.ListMembers(r.Context(), ac.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := authsdk.ListMembersResponse{Members: make([]authsdk.Member, len(list))}
	for i, m := range list {
		resp.Members[i] = memberInfo(m)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandlePut adds a member or replaces their attributes, keeping the original
// join time.
func (h *MembersHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)
	userID := r.PathValue("user")

	var req authsdk.MemberRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	m := domain.Member{WorkspaceID: ac.WorkspaceID, UserID: userID, Attributes: req.Attributes}

	existing, err := h.RBAC.GetMember(ctx, ac.WorkspaceID, userID)
	switch {
	case err == nil:
		m.CreatedAt = existing.CreatedAt
	case !errors.Is(err, domain.ErrNotFound):
		writeError(w, r, err)
		return
	}

	saved, err := h.RBAC.PutMember(ctx, m, ac.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, memberInfo(saved))
}

func (h *MembersHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	if err := h.RBAC.RemoveMember(r.Context(), ac.WorkspaceID, r.PathValue("user"), ac.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
