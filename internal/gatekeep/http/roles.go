package http

import (
	"net/http"

	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/domain"
	"github.com/aussiebroadwan/gatekeep/internal/gatekeep/service"
	"github.com/aussiebroadwan/gatekeep/pkg/authsdk"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

const (
	resourceRoles = "roles"
	actionManage  = "manage"
)

// RolesHandler manages roles and role assignments of the caller's workspace.
type RolesHandler struct {
	RBAC *service.RBACService
}

func (h *RolesHandler) HandleListRoles(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	roles, err := h.RBAC.ListRoles(r.Context(), ac.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := authsdk.ListRolesResponse{Roles: make([]authsdk.Role, len(roles))}
	for i, role := range roles {
		resp.Roles[i] = roleInfo(role)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *RolesHandler) HandleCreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	var req authsdk.RoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	ws := targetWorkspace(ac, req.Global)
	if err := checkOwner(ctx, h.RBAC, ac, ws, resourceRoles, actionManage); err != nil {
		writeError(w, r, err)
		return
	}

	role, err := roleFromRequest(req, ws)
	if err != nil {
		writeError(w, r, err)
		return
	}

	created, err := h.RBAC.CreateRole(ctx, role, ac.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("role created", "role_id", created.ID, "name", created.Name)
	httpx.WriteJSON(w, http.StatusCreated, roleInfo(created))
}

// HandleUpdateRole replaces a role's definition. The role keeps its
// workspace.
func (h *RolesHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	existing, ok := h.ownedRole(w, r, ac)
	if !ok {
		return
	}

	var req authsdk.RoleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	role, err := roleFromRequest(req, existing.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	role.ID = existing.ID

	updated, err := h.RBAC.UpdateRole(ctx, role, ac.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, roleInfo(updated))
}

func (h *RolesHandler) HandleDeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	existing, ok := h.ownedRole(w, r, ac)
	if !ok {
		return
	}

	if err := h.RBAC.DeleteRole(ctx, existing.ID, ac.UserID); err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("role deleted", "role_id", existing.ID, "name", existing.Name)
	w.WriteHeader(http.StatusNoContent)
}

// ownedRole loads the role named in the path if the caller may manage it,
// writing the error response otherwise.
func (h *RolesHandler) ownedRole(w http.ResponseWriter, r *http.Request, ac domain.AuthContext) (domain.Role, bool) {
	role, err := h.RBAC.GetRole(r.Context(), r.PathValue("id"))
	if err == nil {
		err = checkOwner(r.Context(), h.RBAC, ac, role.WorkspaceID, resourceRoles, actionManage)
	}
	if err != nil {
		writeError(w, r, err)
		return domain.Role{}, false
	}
	return role, true
}

func (h *RolesHandler) HandleListAssignments(w http.ResponseWriter, r *http.Request) {
	ac, _ := AuthContextFrom(r.Context())

	list, err := h.RBAC.ListAssignments(r.Context(), ac.WorkspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := authsdk.ListAssignmentsResponse{Assignments: make([]authsdk.Assignment, len(list))}
	for i, a := range list {
		resp.Assignments[i] = assignmentInfo(a)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleAssign grants a role. A global assignment applies in every
// workspace and needs the global permission, as does handing out a global
// role even inside the caller's own workspace.
func (h *RolesHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	var req authsdk.AssignRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		badRequest(w, r, err)
		return
	}

	ws := targetWorkspace(ac, req.Global)
	if err := checkOwner(ctx, h.RBAC, ac, ws, resourceRoles, actionManage); err != nil {
		writeError(w, r, err)
		return
	}

	if req.RoleID != "" {
		role, err := h.RBAC.GetRole(ctx, req.RoleID)
		if err == nil && role.WorkspaceID == "" && ws != "" {
			err = checkOwner(ctx, h.RBAC, ac, "", resourceRoles, actionManage)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	a, err := h.RBAC.AssignRole(ctx, domain.RoleAssignment{
		UserID:      req.UserID,
		RoleID:      req.RoleID,
		WorkspaceID: ws,
		AssignedBy:  ac.UserID,
		ExpiresAt:   req.ExpiresAt,
		Conditions:  req.Conditions,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	slogx.FromContext(ctx).Info("role assigned", "assignment_id", a.ID, "target_user", a.UserID, "role_id", a.RoleID)
	httpx.WriteJSON(w, http.StatusCreated, assignmentInfo(a))
}

func (h *RolesHandler) HandleRevokeAssignment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ac, _ := AuthContextFrom(ctx)

	a, err := h.RBAC.GetAssignment(ctx, r.PathValue("id"))
	if err == nil {
		err = checkOwner(ctx, h.RBAC, ac, a.WorkspaceID, resourceRoles, actionManage)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.RBAC.RevokeRole(ctx, a.ID, ac.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
