package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/users"
)

const maxJSONBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	limitBody(w, r, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return common.WithDetail(common.ErrValidation, "invalid JSON body: "+err.Error())
	}
	return nil
}

// GET /users/{username}
func handleGetUser(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	target := rc.resolveUsername(r.PathValue("username"))
	rec, err := rc.Users.Get(r.Context(), target)
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.User)
}

// PUT /users/{username}
func handleUpdateUser(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	target := rc.resolveUsername(r.PathValue("username"))
	if err := rc.authorize(target); err != nil {
		writeError(w, r, rc.Log, err)
		return
	}

	var patch users.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, rc.Log, err)
		return
	}

	u, err := rc.Users.Update(r.Context(), rc.User, target, patch)
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// GET /users/
func handleListUsers(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	list, err := rc.Users.List(r.Context())
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /users/
func handleCreateUser(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	if !rc.User.IsAdmin() {
		writeError(w, r, rc.Log, errAdminRequired)
		return
	}

	var nu users.NewUser
	if err := decodeJSON(w, r, &nu); err != nil {
		writeError(w, r, rc.Log, err)
		return
	}

	u, err := rc.Users.Create(r.Context(), nu)
	if err != nil {
		writeError(w, r, rc.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// DELETE /users/{username}. A missing user is a 400 here, not a 404.
func handleDeleteUser(w http.ResponseWriter, r *http.Request, rc *requestContext) {
	target := rc.resolveUsername(r.PathValue("username"))
	if err := rc.authorize(target); err != nil {
		writeError(w, r, rc.Log, err)
		return
	}

	if err := rc.Users.Delete(r.Context(), target); err != nil {
		status := statusFor(err)
		if errors.Is(err, common.ErrNotFound) {
			status = http.StatusBadRequest
		}
		writeErrorStatus(w, r, rc.Log, err, status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
