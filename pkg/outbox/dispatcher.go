package outbox

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_outbox_enqueued_total",
		Help: "Tasks accepted into the outbox, by kind.",
	}, []string{"kind"})
	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_outbox_dropped_total",
		Help: "Tasks rejected on a full queue, by kind.",
	}, []string{"kind"})
	retried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_outbox_retries_total",
		Help: "Task delivery retries, by kind.",
	}, []string{"kind"})
	deadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convod_outbox_dead_letters_total",
		Help: "Tasks moved to the dead-letter namespace, by kind.",
	}, []string{"kind"})
)

var (
	handlersMu sync.RWMutex
	handlers   = map[string]Handler{}
)

// Register binds a handler to a task kind. Later registrations replace
// earlier ones; main wires these at startup.
func Register(kind string, h Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[kind] = h
}

// Dispatch routes a task to its registered handler. Unknown kinds fail so
// they land in the dead-letter namespace rather than vanish.
func Dispatch(kind string, payload []byte) error {
	handlersMu.RLock()
	h, ok := handlers[kind]
	handlersMu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for task kind %q", kind)
	}
	return h(kind, payload)
}
