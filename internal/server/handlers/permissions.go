package handlers

import (
	"net/http"
	"strings"

	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/apperr"
	"github.com/Senseiglobal/supabase-rls-test-sub001/internal/permissions"
)

type permissionEntry struct {
	PermissionType permissions.Type `json:"permission_type"`
	Granted        bool             `json:"granted"`
}

type permissionRequest struct {
	UserID         string `json:"userId"`
	PermissionType string `json:"permissionType"`
}

type permissionResponse struct {
	Success        bool             `json:"success"`
	PermissionType permissions.Type `json:"permission_type"`
	Granted        bool             `json:"granted"`
}

// actingUser resolves the userId argument against the session. An empty
// argument means the session user; any other user is forbidden.
func actingUser(r *http.Request, requested string) (string, error) {
	userID, err := sessionUser(r)
	if err != nil {
		return "", err
	}
	requested = strings.TrimSpace(requested)
	if requested != "" && requested != userID {
		return "", apperr.Forbidden("Cannot manage permissions of another user")
	}
	return userID, nil
}

// ListPermissionsHandler returns every known capability with its consent
// state. Capabilities without a record are reported as not granted.
func ListPermissionsHandler(gate permissions.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actingUser(r, r.URL.Query().Get("userId"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		records, err := gate.List(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		granted := make(map[permissions.Type]bool, len(records))
		for _, rec := range records {
			granted[rec.PermissionType] = rec.Granted
		}
		out := make([]permissionEntry, 0, len(permissions.Types()))
		for _, t := range permissions.Types() {
			out = append(out, permissionEntry{PermissionType: t, Granted: granted[t]})
		}
		writeJSON(w, r, http.StatusOK, out)
	}
}

// GrantPermissionHandler records consent for a capability.
func GrantPermissionHandler(gate permissions.Gate) http.HandlerFunc {
	return setPermission(gate, true)
}

// RevokePermissionHandler withdraws consent; the record is kept.
func RevokePermissionHandler(gate permissions.Gate) http.HandlerFunc {
	return setPermission(gate, false)
}

func setPermission(gate permissions.Gate, grant bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := sessionUser(r); err != nil {
			writeError(w, r, err)
			return
		}
		var req permissionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
		userID, err := actingUser(r, req.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t, err := permissions.ParseType(req.PermissionType)
		if err != nil {
			writeError(w, r, err)
			return
		}

		if grant {
			err = gate.Grant(r.Context(), userID, t)
		} else {
			err = gate.Revoke(r.Context(), userID, t)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, permissionResponse{Success: true, PermissionType: t, Granted: grant})
	}
}
