package outbox

import (
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"convod/pkg/store"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueueDeliversToWorkers(t *testing.T) {
	q := NewQueue(Options{Capacity: 8})
	stop := make(chan struct{})
	defer close(stop)

	var got atomic.Value
	done := make(chan struct{})
	q.RunWorkers(1, stop, func(kind string, payload []byte) error {
		got.Store(kind + ":" + string(payload))
		close(done)
		return nil
	})

	if err := q.TryEnqueue(&Task{Kind: "ping", Payload: []byte(`{"n":1}`)}); err != nil {
		t.Fatalf("TryEnqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never reached the worker")
	}
	if got.Load() != `ping:{"n":1}` {
		t.Fatalf("worker saw %v", got.Load())
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(Options{Capacity: 2})
	for i := 0; i < 2; i++ {
		if err := q.TryEnqueue(&Task{Kind: "k", Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("TryEnqueue %d: %v", i, err)
		}
	}
	if err := q.TryEnqueue(&Task{Kind: "k", Payload: []byte(`{}`)}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Fatalf("dropped = %d", q.Dropped())
	}
	q.CloseAndDrain()
}

// TestRetryThenDeadLetter verifies a task that keeps failing is retried
// with backoff and finally persisted to the dead-letter namespace.
func TestRetryThenDeadLetter(t *testing.T) {
	openTestDB(t)

	q := NewQueue(Options{Capacity: 8, MaxAttempts: 3, Backoff: 5 * time.Millisecond})
	stop := make(chan struct{})
	defer close(stop)

	var calls int64
	q.RunWorkers(1, stop, func(kind string, payload []byte) error {
		atomic.AddInt64(&calls, 1)
		return errors.New("downstream unavailable")
	})

	if err := q.TryEnqueue(&Task{Kind: "flaky", Payload: []byte(`{"id":"x"}`)}); err != nil {
		t.Fatalf("TryEnqueue: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		rows, err := store.FindDocs(store.NSDeadLetter, store.Query{})
		return err == nil && len(rows) == 1
	})
	if n := atomic.LoadInt64(&calls); n != 3 {
		t.Fatalf("handler called %d times, want 3", n)
	}

	rows, err := store.FindDocs(store.NSDeadLetter, store.Query{})
	if err != nil || len(rows) != 1 {
		t.Fatalf("dead letters: %d, %v", len(rows), err)
	}
	var dl DeadLetter
	if err := json.Unmarshal(rows[0], &dl); err != nil {
		t.Fatalf("unmarshal dead letter: %v", err)
	}
	if dl.Kind != "flaky" || dl.Attempts != 3 {
		t.Fatalf("dead letter = %+v", dl)
	}
	if string(dl.Payload) != `{"id":"x"}` {
		t.Fatalf("payload = %s", dl.Payload)
	}
	if dl.LastError == "" || dl.CreatedTS == 0 {
		t.Fatalf("dead letter missing cause or timestamp: %+v", dl)
	}
}

func TestRetrySucceedsSecondAttempt(t *testing.T) {
	openTestDB(t)

	q := NewQueue(Options{Capacity: 8, MaxAttempts: 3, Backoff: 5 * time.Millisecond})
	stop := make(chan struct{})
	defer close(stop)

	var calls int64
	done := make(chan struct{})
	q.RunWorkers(1, stop, func(kind string, payload []byte) error {
		if atomic.AddInt64(&calls, 1) == 1 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	if err := q.TryEnqueue(&Task{Kind: "k", Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("TryEnqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry never succeeded")
	}
	rows, err := store.FindDocs(store.NSDeadLetter, store.Query{})
	if err != nil {
		t.Fatalf("FindDocs: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("recovered task must not dead-letter, got %d rows", len(rows))
	}
}

func TestDispatchRouting(t *testing.T) {
	var seen string
	Register("test_dispatch_kind", func(kind string, payload []byte) error {
		seen = string(payload)
		return nil
	})
	if err := Dispatch("test_dispatch_kind", []byte("hello")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if seen != "hello" {
		t.Fatalf("handler saw %q", seen)
	}
	if err := Dispatch("never_registered_kind", nil); err == nil {
		t.Fatal("unknown kind must error so it can dead-letter")
	}
}

func TestPublishRoundTrip(t *testing.T) {
	old := Default
	Default = NewQueue(Options{Capacity: 4})
	t.Cleanup(func() { Default = old })

	if err := Publish(KindSearchSync, SearchSync{ConversationID: "c1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if Default.Len() != 1 {
		t.Fatalf("queue len = %d", Default.Len())
	}

	stop := make(chan struct{})
	defer close(stop)
	done := make(chan SearchSync, 1)
	Default.RunWorkers(1, stop, func(kind string, payload []byte) error {
		if kind != KindSearchSync {
			t.Errorf("kind = %q", kind)
		}
		var ss SearchSync
		if err := json.Unmarshal(payload, &ss); err != nil {
			return err
		}
		done <- ss
		return nil
	})
	select {
	case ss := <-done:
		if ss.ConversationID != "c1" {
			t.Fatalf("payload = %+v", ss)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("published task never delivered")
	}
}
