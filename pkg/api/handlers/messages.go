package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"convod/pkg/auth"
	"convod/pkg/conversation"
	"convod/pkg/models"
	"convod/pkg/utils"
)

// RegisterMessages registers message HTTP routes to the provided router.
func RegisterMessages(r *mux.Router) {
	r.HandleFunc("/messages", createMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages", getMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", deleteMessage).Methods(http.MethodDelete)
}

// createMessage handles POST /messages. The target thread resolves from
// conversation_id, key or user_ids, in that order.
func createMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID         string              `json:"user_id"`
		ConversationID string              `json:"conversation_id"`
		Key            string              `json:"key"`
		UserIDs        []string            `json:"user_ids"`
		Body           string              `json:"body"`
		Type           models.MessageType  `json:"type"`
		Attachments    []models.Attachment `json:"attachments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	actor, status, msg := auth.ResolveUserFromRequest(r, body.UserID)
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if body.Body == "" && len(body.Attachments) == 0 {
		utils.JSONError(w, http.StatusBadRequest, "body or attachments required")
		return
	}
	m, err := conversation.CreateMessage(actor, conversation.CreateInput{
		ConversationID: body.ConversationID,
		Key:            body.Key,
		UserIDs:        body.UserIDs,
		Body:           body.Body,
		Type:           body.Type,
		Attachments:    body.Attachments,
		Touch:          true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}

// getMessages handles GET /messages?key=|user_ids=a,b&limit=n. Listing
// marks the conversation read for the caller.
func getMessages(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	key := r.URL.Query().Get("key")
	var userIDs []string
	if raw := r.URL.Query().Get("user_ids"); raw != "" {
		userIDs = strings.Split(raw, ",")
	}
	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 {
			limit = lim
		}
	}
	c, msgs, err := conversation.GetMessages(actor, key, userIDs, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversation *models.Conversation `json:"conversation"`
		Messages     []models.Message     `json:"messages"`
	}{Conversation: c, Messages: msgs})
}

// deleteMessage handles DELETE /messages/{id}. Only the author may
// delete; the row stays as a blanked tombstone.
func deleteMessage(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := conversation.DeleteMessage(actor, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
