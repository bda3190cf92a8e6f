package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"convod/pkg/auth"
	"convod/pkg/models"
	"convod/pkg/notify"
	"convod/pkg/store"
	"convod/pkg/utils"
)

// RegisterRegistry registers the account, device and media registries.
// Accounts and media are fed by trusted backends; devices come from the
// clients themselves.
func RegisterRegistry(r *mux.Router) {
	r.HandleFunc("/accounts", upsertAccount).Methods(http.MethodPost)
	r.HandleFunc("/accounts/{id}", getAccount).Methods(http.MethodGet)
	r.HandleFunc("/devices", registerDevice).Methods(http.MethodPost)
	r.HandleFunc("/media", upsertMedia).Methods(http.MethodPost)
}

// upsertAccount handles POST /accounts. The social backend mirrors user
// and page profiles here so name resolution and page-owner redirection
// never leave the service.
func upsertAccount(w http.ResponseWriter, r *http.Request) {
	if !requireBackend(w, r) {
		return
	}
	var a models.Account
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if a.ID == "" {
		utils.JSONError(w, http.StatusBadRequest, "id required")
		return
	}
	if a.Type == "" {
		a.Type = models.AccountUser
	}
	if a.Type == models.AccountPage && a.OwnerID == "" {
		utils.JSONError(w, http.StatusBadRequest, "owner_id required for pages")
		return
	}
	b, err := json.Marshal(a)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "marshal failed")
		return
	}
	if err := store.PutDoc(store.NSAccount, a.ID, b); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, a)
}

func getAccount(w http.ResponseWriter, r *http.Request) {
	if _, status, msg := auth.ResolveUserFromRequest(r, ""); status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	b, err := store.GetDoc(store.NSAccount, mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// registerDevice handles POST /devices. Re-posting the same token
// refreshes language and platform.
func registerDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID   string `json:"user_id"`
		Token    string `json:"token"`
		Language string `json:"language"`
		Platform string `json:"platform"`
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
	if body.Token == "" {
		utils.JSONError(w, http.StatusBadRequest, "token required")
		return
	}
	if body.Language == "" {
		body.Language = "en"
	}
	d := models.Device{
		UserID:   actor,
		Token:    body.Token,
		Language: body.Language,
		Platform: body.Platform,
	}
	if err := notify.RegisterDevice(d); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, d)
}

// upsertMedia handles POST /media. Attachment rows reference media by id
// and resolve kind/url at read time from this registry.
func upsertMedia(w http.ResponseWriter, r *http.Request) {
	if !requireBackend(w, r) {
		return
	}
	var m models.Media
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if m.URL == "" {
		utils.JSONError(w, http.StatusBadRequest, "url required")
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedTS == 0 {
		m.CreatedTS = time.Now().UTC().UnixNano()
	}
	b, err := json.Marshal(m)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "marshal failed")
		return
	}
	if err := store.PutDoc(store.NSMedia, m.ID, b); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, m)
}
