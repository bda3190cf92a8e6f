package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/valyala/fasthttp"

	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/store"
)

var (
	inserts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_notifications_inserted_total",
		Help: "Notification rows inserted, by type.",
	}, []string{"type"})
	merges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_notifications_merged_total",
		Help: "Notification rows merged on dedup hit, by type.",
	}, []string{"type"})
	pushSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_push_sends_total",
		Help: "Push gateway deliveries, by outcome.",
	}, []string{"outcome"})
)

// PushMessage is a rendered device payload.
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Gateway delivers one payload to one device token. Implementations are
// fire-and-forget: callers discard per-device failures by design.
type Gateway interface {
	SendToDevice(token string, msg PushMessage) error
}

// HTTPGateway posts FCM-style payloads to a push relay endpoint.
type HTTPGateway struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	client   *fasthttp.Client
}

// NewHTTPGateway builds a gateway client. A zero timeout defaults to 5s.
func NewHTTPGateway(endpoint, apiKey string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		timeout:  timeout,
		client:   &fasthttp.Client{},
	}
}

type pushEnvelope struct {
	To           string            `json:"to"`
	Notification PushMessage       `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

// SendToDevice implements Gateway over HTTP.
func (g *HTTPGateway) SendToDevice(token string, msg PushMessage) error {
	body, err := json.Marshal(pushEnvelope{To: token, Notification: msg, Data: msg.Data})
	if err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(g.endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "key="+g.apiKey)
	}
	req.SetBody(body)
	if err := g.client.DoTimeout(req, resp, g.timeout); err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("push gateway status %d", resp.StatusCode())
	}
	return nil
}

// LogGateway logs payloads instead of delivering them; used when push is
// disabled in config and in tests.
type LogGateway struct{}

func (LogGateway) SendToDevice(token string, msg PushMessage) error {
	logger.Debug("push_logged", "token", token, "title", msg.Title)
	return nil
}

// SendPush fans one notification out to every device registered to the
// recipient, rendering per-device language copy. Failures are counted,
// logged and dropped; there is no retry and no dead-letter for push.
func (e *Engine) SendPush(userID string, n *models.Notification) {
	devices := Devices(userID)
	if len(devices) == 0 {
		return
	}
	actor := accountName(n.EventCreatorID)
	for _, d := range devices {
		msg := BuildMessage(d.Language, n, actor)
		if err := e.gateway.SendToDevice(d.Token, msg); err != nil {
			pushSends.WithLabelValues("error").Inc()
			logger.Warn("push_send_failed", "user", userID, "token", d.Token, "error", err)
			continue
		}
		pushSends.WithLabelValues("ok").Inc()
	}
}

// SendRawPush delivers an ad-hoc payload (e.g. a chat message preview) to
// every device of a user, with the same discard-on-failure policy.
func (e *Engine) SendRawPush(userID string, build func(lang string) PushMessage) {
	for _, d := range Devices(userID) {
		msg := build(d.Language)
		if err := e.gateway.SendToDevice(d.Token, msg); err != nil {
			pushSends.WithLabelValues("error").Inc()
			logger.Warn("push_send_failed", "user", userID, "token", d.Token, "error", err)
			continue
		}
		pushSends.WithLabelValues("ok").Inc()
	}
}

// Devices lists a user's registered push devices.
func Devices(userID string) []models.Device {
	raw, err := store.ListDocs(store.NSDevice, userID+":")
	if err != nil {
		logger.Warn("device_list_failed", "user", userID, "error", err)
		return nil
	}
	out := make([]models.Device, 0, len(raw))
	for _, b := range raw {
		var d models.Device
		if err := json.Unmarshal(b, &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// RegisterDevice upserts a device token for a user. The document id keys
// on (user, token) so re-registration refreshes language/platform.
func RegisterDevice(d models.Device) error {
	if d.CreatedTS == 0 {
		d.CreatedTS = time.Now().UTC().UnixNano()
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return store.PutDoc(store.NSDevice, d.UserID+":"+d.Token, b)
}
