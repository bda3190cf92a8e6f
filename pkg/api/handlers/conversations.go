package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"convod/pkg/auth"
	"convod/pkg/conversation"
	"convod/pkg/utils"
)

// RegisterConversations registers all conversation-scoped HTTP routes to
// the provided router.
func RegisterConversations(r *mux.Router) {
	r.HandleFunc("/conversations", createConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations", listInbox).Methods(http.MethodGet)
	r.HandleFunc("/conversations/unread_count", conversationUnreadCount).Methods(http.MethodGet)

	r.HandleFunc("/conversations/{id}", getConversation).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", softDeleteConversation).Methods(http.MethodDelete)
	r.HandleFunc("/conversations/{id}/users", addConversationUsers).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/users/remove", removeConversationUsers).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/admin", assignConversationAdmin).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/name", renameConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/read", markConversationRead).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/notify", setConversationNotify).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/attachments", getConversationAttachments).Methods(http.MethodGet)

	r.HandleFunc("/users/{id}/block", blockUser).Methods(http.MethodPost)
	r.HandleFunc("/users/{id}/unblock", unblockUser).Methods(http.MethodPost)
}

// createConversation handles POST /conversations. It is idempotent: an
// existing pair or group for the same member set is returned unchanged.
func createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string   `json:"user_id"`
		UserIDs []string `json:"user_ids"`
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
	c, err := conversation.GetOrCreate(body.UserIDs, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func listInbox(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	entries, err := conversation.ListInbox(actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []conversation.InboxEntry `json:"conversations"`
	}{Conversations: entries})
}

func conversationUnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	n, err := conversation.CountUnread(actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": n})
}

func getConversation(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	c, err := conversation.Get(mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !c.CanRead(actor) {
		utils.JSONError(w, http.StatusForbidden, "permission denied")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func softDeleteConversation(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := conversation.SoftDelete(mux.Vars(r)["id"], actor); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func addConversationUsers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string   `json:"user_id"`
		UserIDs []string `json:"user_ids"`
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
	c, err := conversation.AddUsers(mux.Vars(r)["id"], actor, body.UserIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func removeConversationUsers(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string   `json:"user_id"`
		UserIDs []string `json:"user_ids"`
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
	c, err := conversation.RemoveUsers(mux.Vars(r)["id"], actor, body.UserIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func assignConversationAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"user_id"`
		NewAdmin string `json:"new_admin_id"`
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
	c, err := conversation.SetAdmin(mux.Vars(r)["id"], actor, body.NewAdmin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func renameConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
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
	if body.Name == "" {
		utils.JSONError(w, http.StatusBadRequest, "name required")
		return
	}
	c, err := conversation.Rename(mux.Vars(r)["id"], actor, body.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func markConversationRead(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := conversation.MarkRead(mux.Vars(r)["id"], actor); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func setConversationNotify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID  string `json:"user_id"`
		Enabled bool   `json:"enabled"`
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
	c, err := conversation.SetNotify(mux.Vars(r)["id"], actor, body.Enabled)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, c)
}

func getConversationAttachments(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	kind := r.URL.Query().Get("type")
	page, err := conversation.GetAttachments(actor, mux.Vars(r)["id"], kind)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, page)
}

func blockUser(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := conversation.BlockUser(actor, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func unblockUser(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := conversation.UnblockUser(actor, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
