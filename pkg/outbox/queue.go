package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"convod/pkg/logger"
	"convod/pkg/store"
)

// Task kinds carried by the outbox.
const (
	KindMessageFanout = "message_fanout"
	KindNotification  = "notification"
	KindBooking       = "booking_notification"
	KindSearchSync    = "search_sync"
)

// MessageFanout asks the dispatcher to deliver one freshly persisted
// message: per-recipient pushes plus page-message notification rows.
type MessageFanout struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// SearchSync asks the dispatcher to re-denormalize one conversation into
// the search collaborator.
type SearchSync struct {
	ConversationID string `json:"conversation_id"`
}

// Task is one queued side-effect. Payload may be backed by a pooled
// ByteBuffer; consumers must call Item.Done() when finished.
type Task struct {
	Kind    string
	Payload []byte
	// Attempts counts prior failed deliveries of this task.
	Attempts int
	// EnqSeq is a monotonic enqueue sequence assigned on acceptance.
	EnqSeq uint64
}

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("outbox queue full")

// Item wraps a Task and owns a pooled ByteBuffer if one was used.
// Consumers MUST call Done() exactly once after processing.
type Item struct {
	Task *Task

	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

// Done releases pooled resources back to their pools.
func (it *Item) Done() {
	it.once.Do(func() {
		if it.buf != nil {
			if cap(it.buf.B) > maxPooledBuffer {
				// drop oversize buffers so GC can reclaim the array
				it.buf = nil
			} else {
				bytebufferpool.Put(it.buf)
				it.buf = nil
			}
		}
		if it.Task != nil {
			it.Task.Payload = nil
			taskPool.Put(it.Task)
			it.Task = nil
		}
		itemPool.Put(it)
	})
}

// Queue is a bounded in-memory task queue with a bounded-retry worker pool
// and a persisted dead-letter path. It is safe for concurrent producers.
type Queue struct {
	ch          chan *Item
	capacity    int
	dropped     uint64
	maxAttempts int
	backoff     time.Duration
}

var (
	taskPool = sync.Pool{New: func() any { return &Task{} }}
	itemPool = sync.Pool{New: func() any { return &Item{} }}
	enqSeq   uint64
)

// maxPooledBuffer controls the largest payload buffer returned to the
// pool; larger ones are dropped to bound resident memory.
var maxPooledBuffer = 256 * 1024 // 256 KiB

// Options tunes a Queue.
type Options struct {
	Capacity    int
	MaxAttempts int
	Backoff     time.Duration
}

// NewQueue creates a bounded Queue.
func NewQueue(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 16 * 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	return &Queue{
		ch:          make(chan *Item, opts.Capacity),
		capacity:    opts.Capacity,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
	}
}

// Default is the global queue used by producers. It can be replaced at
// startup via SetDefault.
var Default = NewQueue(Options{})

// SetDefault replaces the package default queue.
func SetDefault(q *Queue) {
	if q != nil {
		Default = q
	}
}

// Publish marshals v and enqueues it on the default queue without
// blocking. Producers treat errors as best-effort losses.
func Publish(kind string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return Default.TryEnqueue(&Task{Kind: kind, Payload: b})
}

// TryEnqueue attempts to enqueue a task, copying the payload into a pooled
// buffer. Returns ErrQueueFull when at capacity.
func (q *Queue) TryEnqueue(t *Task) error {
	newTask := taskPool.Get().(*Task)
	*newTask = *t
	newTask.EnqSeq = atomic.AddUint64(&enqSeq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(t.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], t.Payload...)
		newTask.Payload = bb.B[:len(t.Payload)]
	}
	it := itemPool.Get().(*Item)
	*it = Item{Task: newTask, buf: bb}

	select {
	case q.ch <- it:
		enqueued.WithLabelValues(t.Kind).Inc()
		return nil
	default:
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		taskPool.Put(newTask)
		atomic.AddUint64(&q.dropped, 1)
		droppedTotal.WithLabelValues(t.Kind).Inc()
		return ErrQueueFull
	}
}

// Enqueue blocks until space is available or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, t *Task) error {
	newTask := taskPool.Get().(*Task)
	*newTask = *t
	newTask.EnqSeq = atomic.AddUint64(&enqSeq, 1)
	var bb *bytebufferpool.ByteBuffer
	if len(t.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], t.Payload...)
		newTask.Payload = bb.B[:len(t.Payload)]
	}
	it := itemPool.Get().(*Item)
	*it = Item{Task: newTask, buf: bb}
	select {
	case q.ch <- it:
		enqueued.WithLabelValues(t.Kind).Inc()
		return nil
	case <-ctx.Done():
		if bb != nil {
			bytebufferpool.Put(bb)
		}
		taskPool.Put(newTask)
		atomic.AddUint64(&q.dropped, 1)
		return ctx.Err()
	}
}

// RunWorkers starts n worker goroutines invoking handler for each task.
// A failed task is re-enqueued with backoff until maxAttempts, then moved
// to the dead-letter namespace. Workers exit when stop closes.
func (q *Queue) RunWorkers(n int, stop <-chan struct{}, handler Handler) {
	if n <= 0 {
		n = 2
	}
	for i := 0; i < n; i++ {
		go q.worker(stop, handler)
	}
}

// Handler processes one task payload.
type Handler func(kind string, payload []byte) error

func (q *Queue) worker(stop <-chan struct{}, handler Handler) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			q.process(it, handler)
		case <-stop:
			return
		}
	}
}

func (q *Queue) process(it *Item, handler Handler) {
	kind := it.Task.Kind
	attempts := it.Task.Attempts
	// copy out before Done() returns the buffer
	payload := append([]byte(nil), it.Task.Payload...)
	it.Done()

	err := handler(kind, payload)
	if err == nil {
		return
	}
	attempts++
	if attempts >= q.maxAttempts {
		q.deadLetter(kind, payload, attempts, err)
		return
	}
	retried.WithLabelValues(kind).Inc()
	logger.Warn("outbox_task_retry", "kind", kind, "attempt", attempts, "error", err)
	delay := q.backoff * time.Duration(attempts)
	time.AfterFunc(delay, func() {
		if qerr := q.TryEnqueue(&Task{Kind: kind, Payload: payload, Attempts: attempts}); qerr != nil {
			q.deadLetter(kind, payload, attempts, qerr)
		}
	})
}

// DeadLetter is the persisted record of a task that exhausted its retries.
type DeadLetter struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	CreatedTS int64  `json:"created_ts"`
}

func (q *Queue) deadLetter(kind string, payload []byte, attempts int, cause error) {
	deadLettered.WithLabelValues(kind).Inc()
	dl := DeadLetter{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   json.RawMessage(payload),
		Attempts:  attempts,
		LastError: cause.Error(),
		CreatedTS: time.Now().UTC().UnixNano(),
	}
	b, err := json.Marshal(dl)
	if err != nil {
		logger.Error("dead_letter_marshal_failed", "kind", kind, "error", err)
		return
	}
	if err := store.PutDoc(store.NSDeadLetter, dl.ID, b); err != nil {
		logger.Error("dead_letter_persist_failed", "kind", kind, "error", err)
		return
	}
	logger.Error("outbox_task_dead_lettered", "kind", kind, "attempts", attempts, "cause", cause)
}

// CloseAndDrain closes the queue channel and drains remaining items,
// ensuring their resources are released.
func (q *Queue) CloseAndDrain() {
	close(q.ch)
	for it := range q.ch {
		it.Done()
	}
}

// Len returns the current number of queued items.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// Dropped returns how many tasks were rejected on a full queue.
func (q *Queue) Dropped() uint64 { return atomic.LoadUint64(&q.dropped) }
