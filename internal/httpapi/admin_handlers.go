package httpapi

import (
	"net/http"
	"strings"

	"codemingle.dev/internal/audit"
	"codemingle.dev/internal/auth"
	"codemingle.dev/internal/ids"
)

type updateRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type assignRoleRequest struct {
	RoleID string `json:"roleId"`
}

type rolePermissionsResponse struct {
	RoleID      string             `json:"roleId"`
	Permissions auth.PermissionSet `json:"permissions"`
}

// handleRoleResource serves PUT /admin/roles/{roleID}/permissions.
func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathParam(r.URL.Path, "/admin/roles/", "permissions")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, auth.AllResources()) {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	set, err := a.auth.SetRolePermissions(r.Context(), roleID, req.Permissions)
	if err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.record(r.Context(), audit.EventGrantsChanged, "", map[string]any{
		"role_id":     roleID,
		"permissions": set.Strings(),
	})
	writeJSON(w, http.StatusOK, rolePermissionsResponse{RoleID: roleID, Permissions: set})
}

// handleUserResource serves PUT /admin/users/{userID}/role.
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathParam(r.URL.Path, "/admin/users/", "role")
	if !ok {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, auth.AllResources()) {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.RoleID = strings.TrimSpace(req.RoleID)
	if req.RoleID == "" {
		writeError(w, r, http.StatusBadRequest, "roleId is required")
		return
	}
	if err := a.auth.AssignRole(r.Context(), userID, req.RoleID); err != nil {
		a.writeAuthError(w, r, err)
		return
	}
	a.record(r.Context(), audit.EventRoleChanged, userID, map[string]any{"role_id": req.RoleID})
	w.WriteHeader(http.StatusNoContent)
}

// pathParam extracts the ULID {id} from prefix{id}/suffix.
func pathParam(path, prefix, suffix string) (string, bool) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != suffix || !ids.Valid(parts[0]) {
		return "", false
	}
	return parts[0], true
}
