package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"b2bstore.org/internal/auth"
)

type createUserRequest struct {
	Email          string     `json:"email"`
	Password       string     `json:"password"`
	OrganizationID *uuid.UUID `json:"organization_id"`
	Groups         []string   `json:"groups"`
}

type updateUserRequest struct {
	Status   *string `json:"status"`
	Password *string `json:"password"`
}

type userResponse struct {
	User   *auth.User `json:"user"`
	Groups []string   `json:"groups"`
}

type listUsersResponse struct {
	Items []auth.User `json:"items"`
}

type listGroupsResponse struct {
	Items []auth.PermissionGroup `json:"items"`
}

type assignGroupRequest struct {
	Group string `json:"group"`
}

type setGroupPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// directoryAdmin guards every directory route with directory.manage. Routing
// and the availability check run only after authorization.
func (a *API) directoryAdmin(next http.HandlerFunc) http.Handler {
	return a.RequirePermission(auth.PermDirectoryManage, func(w http.ResponseWriter, r *http.Request) {
		if a.directory == nil {
			writeError(w, r, http.StatusServiceUnavailable, "directory service unavailable")
			return
		}
		next(w, r)
	})
}

func (a *API) handleDirectoryUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDirectoryUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/directory/users/"), "/")
	parts := strings.Split(path, "/")
	userID, err := uuid.Parse(parts[0])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			a.getUser(w, r, userID)
		case http.MethodPatch:
			a.updateUser(w, r, userID)
		case http.MethodDelete:
			a.deleteUser(w, r, userID)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
		}
	case len(parts) == 2 && parts[1] == "groups":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.assignGroup(w, r, userID)
	case len(parts) == 3 && parts[1] == "groups" && parts[2] != "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, r, http.MethodDelete)
			return
		}
		a.removeGroup(w, r, userID, parts[2])
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleDirectoryGroups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	groups, err := a.directory.ListGroups(r.Context())
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listGroupsResponse{Items: groups})
}

func (a *API) handleDirectoryGroupResource(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/directory/groups/"), "/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	var req setGroupPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Permissions == nil {
		writeError(w, r, http.StatusBadRequest, "permissions is required")
		return
	}
	if err := a.directory.SetGroupPermissions(r.Context(), name, req.Permissions); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.group.set_permissions", map[string]any{
		"group":       name,
		"permissions": req.Permissions,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.directory.ListUsers(r.Context())
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Items: users})
}

// createUser stores the account and its memberships atomically.
func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, r, http.StatusBadRequest, "password is required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "password could not be hashed")
		return
	}
	user := &auth.User{
		Email:          req.Email,
		PasswordHash:   hash,
		OrganizationID: req.OrganizationID,
	}
	if err := a.directory.CreateUserWithGroups(r.Context(), user, req.Groups); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	resp, err := a.userView(r.Context(), user)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.user.create", map[string]any{
		"created_user_id": user.ID.String(),
		"email":           user.Email,
		"groups":          resp.Groups,
	})
	w.Header().Set("Location", "/v1/directory/users/"+user.ID.String())
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	user, err := a.directory.GetUser(r.Context(), id)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	resp, err := a.userView(r.Context(), user)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// updateUser changes status or password. Disabling an account blocks new
// logins; tokens already issued stay valid until they expire.
func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil && *req.Status != auth.UserStatusActive && isSelf(r.Context(), id) {
		writeError(w, r, http.StatusConflict, "cannot disable your own account")
		return
	}
	upd := auth.UserUpdate{Status: req.Status}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "password could not be hashed")
			return
		}
		upd.PasswordHash = &hash
	}
	user, err := a.directory.UpdateUser(r.Context(), id, upd)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	resp, err := a.userView(r.Context(), user)
	if err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.user.update", map[string]any{
		"target_user_id":   id.String(),
		"status":           user.Status,
		"password_changed": req.Password != nil,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if isSelf(r.Context(), id) {
		writeError(w, r, http.StatusConflict, "cannot delete your own account")
		return
	}
	if err := a.directory.DeleteUser(r.Context(), id); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.user.delete", map[string]any{"target_user_id": id.String()})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) assignGroup(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req assignGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Group = strings.TrimSpace(req.Group)
	if req.Group == "" {
		writeError(w, r, http.StatusBadRequest, "group is required")
		return
	}
	if err := a.directory.AssignGroup(r.Context(), userID, req.Group); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.user.assign_group", map[string]any{
		"target_user_id": userID.String(),
		"group":          req.Group,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) removeGroup(w http.ResponseWriter, r *http.Request, userID uuid.UUID, group string) {
	if err := a.directory.RemoveGroup(r.Context(), userID, group); err != nil {
		handleDirectoryError(w, r, err)
		return
	}
	a.audit(r.Context(), "directory.user.remove_group", map[string]any{
		"target_user_id": userID.String(),
		"group":          group,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) userView(ctx context.Context, u *auth.User) (userResponse, error) {
	ident, err := a.directory.ResolveIdentity(ctx, u.ID)
	if err != nil {
		return userResponse{}, err
	}
	return userResponse{User: u, Groups: ident.PermissionGroups}, nil
}

func isSelf(ctx context.Context, id uuid.UUID) bool {
	ident, ok := auth.IdentityFromContext(ctx)
	return ok && ident.ID == id
}

func handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "directory operation failed")
	}
}
