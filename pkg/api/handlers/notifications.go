package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"convod/pkg/auth"
	"convod/pkg/models"
	"convod/pkg/notify"
	"convod/pkg/outbox"
	"convod/pkg/utils"
)

// RegisterNotifications registers notification HTTP routes. Creation
// endpoints are backend-only; everything else acts on the caller's feed.
func RegisterNotifications(r *mux.Router) {
	r.HandleFunc("/notifications", createNotification).Methods(http.MethodPost)
	r.HandleFunc("/notifications", listNotifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/unread_count", notificationUnreadCount).Methods(http.MethodGet)
	r.HandleFunc("/notifications/read_all", markAllNotificationsRead).Methods(http.MethodPost)
	r.HandleFunc("/notifications/{id}/read", markNotificationRead).Methods(http.MethodPost)
	r.HandleFunc("/bookings/notifications", createBookingNotification).Methods(http.MethodPost)
}

// createNotification handles POST /notifications from trusted backends.
// The event is queued; dedup and fan-out happen on outbox workers.
func createNotification(w http.ResponseWriter, r *http.Request) {
	if !requireBackend(w, r) {
		return
	}
	var ev notify.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if ev.Type == "" || ev.CreatorID == "" {
		utils.JSONError(w, http.StatusBadRequest, "type and creator_id required")
		return
	}
	if err := outbox.Publish(outbox.KindNotification, ev); err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "notification queue full")
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// createBookingNotification validates the route eagerly so bad events
// fail the request, then queues; fan-out runs on outbox workers.
func createBookingNotification(w http.ResponseWriter, r *http.Request) {
	if !requireBackend(w, r) {
		return
	}
	var ev notify.BookingEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if ev.BookingID == "" || ev.CustomerID == "" || ev.PageID == "" {
		utils.JSONError(w, http.StatusBadRequest, "booking_id, customer_id and page_id required")
		return
	}
	if !ev.KnownRoute() {
		utils.JSONError(w, http.StatusBadRequest, "unknown booking route")
		return
	}
	if err := outbox.Publish(outbox.KindBooking, ev); err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "notification queue full")
		return
	}
	_ = utils.JSONWrite(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// listNotifications handles GET /notifications?limit=n. Listing flips
// fresh rows to "before" so clients can render the seen divider once.
func listNotifications(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	limit := 0
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 {
			limit = lim
		}
	}
	rows, err := notify.List(actor, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Notifications []models.Notification `json:"notifications"`
	}{Notifications: rows})
}

func notificationUnreadCount(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	n, err := notify.CountUnread(actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": n})
}

func markNotificationRead(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := notify.MarkRead(actor, mux.Vars(r)["id"]); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	actor, status, msg := auth.ResolveUserFromRequest(r, "")
	if status != 0 {
		utils.JSONError(w, status, msg)
		return
	}
	if err := notify.MarkAllRead(actor); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
