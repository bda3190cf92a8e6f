package handlers

import (
	"errors"
	"net/http"

	"convod/pkg/conversation"
	"convod/pkg/store"
	"convod/pkg/utils"
)

// writeDomainError maps domain errors onto HTTP statuses. Anything not
// recognized is a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrPermissionDenied):
		utils.JSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrConversationNotFound):
		utils.JSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrKeyOrListUserIDRequired):
		utils.JSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "not found")
	default:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
	}
}

// requireBackend rejects callers whose gateway role is not backend or
// admin. Returns false after writing the response when rejected.
func requireBackend(w http.ResponseWriter, r *http.Request) bool {
	role := r.Header.Get("X-Role-Name")
	if role != "backend" && role != "admin" {
		utils.JSONError(w, http.StatusForbidden, "backend key required")
		return false
	}
	return true
}
