package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"convod/pkg/config"
	"convod/pkg/models"
	"convod/pkg/notify"
	"convod/pkg/outbox"
	"convod/pkg/search"
	"convod/pkg/store"
)

// setupAPI mirrors the startup wiring: store, signing keys, and an outbox
// worker pool dispatching to the notification engine and a disabled
// search client.
func setupAPI(t *testing.T) http.Handler {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	config.SetRuntime(&config.RuntimeConfig{
		SigningKeys: map[string]struct{}{"test-signing-key": {}},
	})
	t.Cleanup(func() { config.SetRuntime(&config.RuntimeConfig{}) })

	engine := notify.NewEngine(notify.NewStoreResolver(), notify.LogGateway{})
	searchClient := search.NewClient("", "convod", 0)
	outbox.Register(outbox.KindMessageFanout, func(_ string, payload []byte) error {
		var task outbox.MessageFanout
		if err := json.Unmarshal(payload, &task); err != nil {
			return err
		}
		return engine.MessageFanout(task.ConversationID, task.MessageID)
	})
	outbox.Register(outbox.KindNotification, func(_ string, payload []byte) error {
		var ev notify.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return engine.Create(ev)
	})
	outbox.Register(outbox.KindBooking, func(_ string, payload []byte) error {
		var ev notify.BookingEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		return engine.CreateBookingNotification(ev)
	})
	outbox.Register(outbox.KindSearchSync, func(_ string, payload []byte) error {
		var task outbox.SearchSync
		if err := json.Unmarshal(payload, &task); err != nil {
			return err
		}
		return search.SyncConversation(searchClient, task.ConversationID)
	})

	queue := outbox.NewQueue(outbox.Options{})
	prev := outbox.Default
	outbox.SetDefault(queue)
	stop := make(chan struct{})
	// Workers can still be mid-dispatch when the test's store closes;
	// gate the handler so cleanup waits for in-flight dispatches and
	// no-ops any started afterwards.
	var shutdown sync.RWMutex
	stopped := false
	queue.RunWorkers(2, stop, func(kind string, payload []byte) error {
		shutdown.RLock()
		defer shutdown.RUnlock()
		if stopped {
			return nil
		}
		return outbox.Dispatch(kind, payload)
	})
	t.Cleanup(func() {
		close(stop)
		shutdown.Lock()
		stopped = true
		shutdown.Unlock()
		outbox.SetDefault(prev)
	})
	return Handler()
}

// waitFor polls cond until it holds or the deadline passes; outbox side
// effects land asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func backendReq(t *testing.T, method, path, user string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Role-Name", "backend")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	return req
}

func signedReq(t *testing.T, method, path, user string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	mac := hmac.New(sha256.New, []byte("test-signing-key"))
	mac.Write([]byte(user))
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", user)
	req.Header.Set("X-User-Signature", hex.EncodeToString(mac.Sum(nil)))
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

// TestConversationMessageFlow drives the chat surface end to end over
// HTTP: create a pair, exchange a message, read it back, check unread.
func TestConversationMessageFlow(t *testing.T) {
	h := setupAPI(t)

	rr := do(h, backendReq(t, http.MethodPost, "/v1/conversations", "u1",
		map[string]any{"user_ids": []string{"u1", "u2"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("create conversation: %d %s", rr.Code, rr.Body.String())
	}
	conv := decode[models.Conversation](t, rr)
	if conv.Key != "u1-u2" {
		t.Fatalf("pair key = %q", conv.Key)
	}

	rr = do(h, backendReq(t, http.MethodPost, "/v1/messages", "u1",
		map[string]any{"key": conv.Key, "body": "xin chào"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("create message: %d %s", rr.Code, rr.Body.String())
	}
	msg := decode[models.Message](t, rr)
	if msg.Type != models.MessageSimple || msg.Author != "u1" {
		t.Fatalf("message = %+v", msg)
	}

	rr = do(h, backendReq(t, http.MethodGet, "/v1/conversations/unread_count", "u2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unread count: %d %s", rr.Code, rr.Body.String())
	}
	if n := decode[map[string]int](t, rr)["unread"]; n != 1 {
		t.Fatalf("unread = %d", n)
	}

	rr = do(h, backendReq(t, http.MethodGet, "/v1/messages?key=u1-u2", "u2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get messages: %d %s", rr.Code, rr.Body.String())
	}
	page := decode[struct {
		Messages []models.Message `json:"messages"`
	}](t, rr)
	if len(page.Messages) != 1 || page.Messages[0].Body != "xin chào" {
		t.Fatalf("messages = %+v", page.Messages)
	}

	// listing marked the thread read
	rr = do(h, backendReq(t, http.MethodGet, "/v1/conversations/unread_count", "u2", nil))
	if n := decode[map[string]int](t, rr)["unread"]; n != 0 {
		t.Fatalf("unread after read = %d", n)
	}
}

func TestMessageRequiresContent(t *testing.T) {
	h := setupAPI(t)

	rr := do(h, backendReq(t, http.MethodPost, "/v1/messages", "u1",
		map[string]any{"user_ids": []string{"u1", "u2"}}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty message: %d", rr.Code)
	}
}

func TestGetForeignConversationForbidden(t *testing.T) {
	h := setupAPI(t)

	rr := do(h, backendReq(t, http.MethodPost, "/v1/conversations", "u1",
		map[string]any{"user_ids": []string{"u1", "u2"}}))
	conv := decode[models.Conversation](t, rr)

	rr = do(h, backendReq(t, http.MethodGet, "/v1/conversations/"+conv.ID, "stranger", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("foreign read: %d", rr.Code)
	}
}

func TestSignedFrontendFlow(t *testing.T) {
	h := setupAPI(t)

	rr := do(h, signedReq(t, http.MethodPost, "/v1/conversations", "u1",
		map[string]any{"user_ids": []string{"u1", "u2"}}))
	if rr.Code != http.StatusOK {
		t.Fatalf("signed create: %d %s", rr.Code, rr.Body.String())
	}

	// missing signature on a frontend call is rejected at the middleware
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("X-Role-Name", "frontend")
	req.Header.Set("X-User-ID", "u1")
	if rr := do(h, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned frontend: %d", rr.Code)
	}
}

func TestNotificationEndpoints(t *testing.T) {
	h := setupAPI(t)

	// direct creation is backend-only
	rr := do(h, signedReq(t, http.MethodPost, "/v1/notifications", "u1",
		map[string]any{"type": "follow", "creator_id": "u1", "recipients": []string{"u2"}}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("frontend create notification: %d", rr.Code)
	}

	rr = do(h, backendReq(t, http.MethodPost, "/v1/notifications", "",
		map[string]any{"type": "follow", "creator_id": "u1", "recipients": []string{"u2"}}))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("backend create notification: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(h, backendReq(t, http.MethodPost, "/v1/notifications", "",
		map[string]any{"creator_id": "u1"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing type: %d", rr.Code)
	}
}

func TestBookingNotificationEndpoint(t *testing.T) {
	h := setupAPI(t)

	rr := do(h, backendReq(t, http.MethodPost, "/v1/bookings/notifications", "", map[string]any{
		"booking_id":   "b1",
		"customer_id":  "cust1",
		"page_id":      "pg1",
		"booking_type": "tour",
		"status":       "request",
	}))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("booking notification: %d %s", rr.Code, rr.Body.String())
	}

	// the page side sees the request in its feed once the workers run it
	var feed struct {
		Notifications []models.Notification `json:"notifications"`
	}
	waitFor(t, func() bool {
		rr = do(h, backendReq(t, http.MethodGet, "/v1/notifications", "pg1", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("list notifications: %d %s", rr.Code, rr.Body.String())
		}
		feed = decode[struct {
			Notifications []models.Notification `json:"notifications"`
		}](t, rr)
		return len(feed.Notifications) == 1
	})
	if feed.Notifications[0].Type != models.NotifyTourRequest {
		t.Fatalf("feed = %+v", feed.Notifications)
	}

	rr = do(h, backendReq(t, http.MethodPost, "/v1/bookings/notifications", "", map[string]any{
		"booking_id":   "b2",
		"customer_id":  "cust1",
		"page_id":      "pg1",
		"booking_type": "tour",
		"status":       "nonsense",
	}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown route: %d", rr.Code)
	}
}

func TestDeviceRegistration(t *testing.T) {
	h := setupAPI(t)

	rr := do(h, backendReq(t, http.MethodPost, "/v1/devices", "u1",
		map[string]any{"token": "tok-1", "language": "vi", "platform": "android"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("register device: %d %s", rr.Code, rr.Body.String())
	}
	devices := notify.Devices("u1")
	if len(devices) != 1 || devices[0].Language != "vi" {
		t.Fatalf("devices = %+v", devices)
	}

	rr = do(h, backendReq(t, http.MethodPost, "/v1/devices", "u1",
		map[string]any{"language": "vi"}))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing token: %d", rr.Code)
	}
}
