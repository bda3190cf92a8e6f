package notify

import (
	"fmt"

	"convod/pkg/models"
)

// BookingEvent is a booking lifecycle change reported by the booking
// backend. CancelledBy only matters for status "cancelled".
type BookingEvent struct {
	BookingID   string `json:"booking_id"`
	CustomerID  string `json:"customer_id"`
	PageID      string `json:"page_id"`
	BookingType string `json:"booking_type"` // "tour" or "stay"
	Status      string `json:"status"`       // request, accept, reject, cancelled
	CancelledBy string `json:"cancelled_by"` // "user" or "page"
}

type bookingRoute struct {
	typ    models.NotificationType
	toPage bool // recipient is the page, otherwise the customer
}

// bookingRoutes maps (booking type, status, cancelled-by) onto a
// notification type and a recipient side. Requests and user cancels go
// to the page; accepts, rejects and page cancels go to the customer.
var bookingRoutes = map[string]bookingRoute{
	"tour/request":        {models.NotifyTourRequest, true},
	"tour/accept":         {models.NotifyTourAccept, false},
	"tour/reject":         {models.NotifyTourReject, false},
	"tour/cancelled/user": {models.NotifyTourUserCancel, true},
	"tour/cancelled/page": {models.NotifyTourPageCancel, false},
	"stay/request":        {models.NotifyStayRequest, true},
	"stay/accept":         {models.NotifyStayAccept, false},
	"stay/reject":         {models.NotifyStayReject, false},
	"stay/cancelled/user": {models.NotifyStayUserCancel, true},
	"stay/cancelled/page": {models.NotifyStayPageCancel, false},
}

// KnownRoute reports whether the event maps onto a notification route.
func (ev BookingEvent) KnownRoute() bool {
	_, ok := bookingRoutes[ev.routeKey()]
	return ok
}

func (ev BookingEvent) routeKey() string {
	k := ev.BookingType + "/" + ev.Status
	if ev.Status == "cancelled" {
		k += "/" + ev.CancelledBy
	}
	return k
}

// CreateBookingNotification translates a booking event into a
// notification through the regular dedup path. Page-side recipients go
// through resolution, so a page target still lands on the page owner.
func (e *Engine) CreateBookingNotification(ev BookingEvent) error {
	route, ok := bookingRoutes[ev.routeKey()]
	if !ok {
		return fmt.Errorf("unknown booking route %q", ev.routeKey())
	}
	recipient := ev.CustomerID
	creator := ev.PageID
	if route.toPage {
		recipient = ev.PageID
		creator = ev.CustomerID
	}
	return e.Create(Event{
		Type:       route.typ,
		CreatorID:  creator,
		Recipients: []string{recipient},
		BookingID:  ev.BookingID,
		PageID:     ev.PageID,
	})
}
