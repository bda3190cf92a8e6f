package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"convod/pkg/logger"
)

var (
	db     *pebble.DB
	dbPath string

	// seq reduces key collisions when multiple messages share the same
	// nanosecond timestamp.
	seq uint64

	// casMu serializes compare-and-swap document updates. Pebble has no
	// transactions; a single-process mutex is sufficient for the rev check.
	casMu sync.Mutex
)

// Document namespaces. Keys are "<namespace>:<id>".
const (
	NSConversation = "conv"
	NSNotification = "notif"
	NSAccount      = "account"
	NSDevice       = "device"
	NSMedia        = "media"
	NSDeadLetter   = "deadletter"
)

var (
	// ErrNotFound is returned when a document or index entry is absent.
	ErrNotFound = errors.New("not found")
	// ErrRevConflict is returned by SwapDoc when the stored rev does not
	// match the caller's expectation.
	ErrRevConflict = errors.New("rev conflict")
)

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	dbPath = path
	logger.Info("pebble_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func docKey(ns, id string) []byte { return []byte(ns + ":" + id) }

// PutDoc stores a JSON document under ns:id.
func PutDoc(ns, id string, data []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	if err := db.Set(docKey(ns, id), data, pebble.Sync); err != nil {
		logger.Error("put_doc_failed", "ns", ns, "id", id, "error", err)
		return err
	}
	docWrites.WithLabelValues(ns).Inc()
	return nil
}

// GetDoc returns the raw document stored under ns:id.
func GetDoc(ns, id string) ([]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(docKey(ns, id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	docReads.WithLabelValues(ns).Inc()
	return out, nil
}

// DeleteDoc removes the document stored under ns:id.
func DeleteDoc(ns, id string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete(docKey(ns, id), pebble.Sync)
}

// SwapDoc updates ns:id only when the stored document's "rev" field equals
// expectedRev. A missing document matches expectedRev 0, so SwapDoc doubles
// as insert-if-absent. Callers must already have bumped the rev inside data.
func SwapDoc(ns, id string, expectedRev int64, data []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	casMu.Lock()
	defer casMu.Unlock()
	cur, err := GetDoc(ns, id)
	switch {
	case errors.Is(err, ErrNotFound):
		if expectedRev != 0 {
			revConflicts.WithLabelValues(ns).Inc()
			return ErrRevConflict
		}
	case err != nil:
		return err
	default:
		var probe struct {
			Rev int64 `json:"rev"`
		}
		if err := json.Unmarshal(cur, &probe); err != nil {
			return fmt.Errorf("invalid stored document %s:%s: %w", ns, id, err)
		}
		if probe.Rev != expectedRev {
			revConflicts.WithLabelValues(ns).Inc()
			return ErrRevConflict
		}
	}
	if err := db.Set(docKey(ns, id), data, pebble.Sync); err != nil {
		return err
	}
	docWrites.WithLabelValues(ns).Inc()
	return nil
}

// ListDocs returns every raw document in a namespace, or those whose id
// starts with idPrefix when non-empty.
func ListDocs(ns, idPrefix string) ([][]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte(ns + ":" + idPrefix)
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !hasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, nil
}

// SetIndex stores a small index entry (key -> value) outside any document
// namespace. Callers use reserved index prefixes like "convkey:".
func SetIndex(key, value string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Set([]byte(key), []byte(value), pebble.Sync)
}

// GetIndex returns the value of an index entry.
func GetIndex(key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	out := string(v)
	_ = closer.Close()
	return out, nil
}

// DeleteIndex removes an index entry.
func DeleteIndex(key string) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	return db.Delete([]byte(key), pebble.Sync)
}

// AppendMessage inserts a message under a sortable per-conversation key and
// indexes it by message id so it can be looked up and soft-deleted later.
// Key format: msg:<convID>:<unix_nano_padded>-<seq>
func AppendMessage(convID, msgID string, data []byte) error {
	if db == nil {
		return fmt.Errorf("pebble not opened; call store.Open first")
	}
	ts := time.Now().UTC().UnixNano()
	s := atomic.AddUint64(&seq, 1)
	key := fmt.Sprintf("msg:%s:%020d-%06d", convID, ts, s)
	if err := db.Set([]byte(key), data, pebble.Sync); err != nil {
		logger.Error("append_message_failed", "conversation", convID, "key", key, "error", err)
		return err
	}
	if msgID != "" {
		if err := db.Set([]byte("msgid:"+msgID), []byte(key), pebble.Sync); err != nil {
			logger.Error("append_message_index_failed", "msg_id", msgID, "error", err)
			return err
		}
	}
	docWrites.WithLabelValues("msg").Inc()
	logger.Debug("message_saved", "conversation", convID, "key", key, "msg_id", msgID)
	return nil
}

// ListMessages returns all messages for a conversation in insertion order.
func ListMessages(convID string) ([][]byte, error) {
	if db == nil {
		return nil, fmt.Errorf("pebble not opened; call store.Open first")
	}
	prefix := []byte("msg:" + convID + ":")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !hasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	docReads.WithLabelValues("msg").Inc()
	return out, nil
}

// GetMessage returns the raw message stored under the given message id.
func GetMessage(msgID string) ([]byte, error) {
	key, err := GetIndex("msgid:" + msgID)
	if err != nil {
		return nil, err
	}
	v, closer, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := append([]byte(nil), v...)
	_ = closer.Close()
	return out, nil
}

// UpdateMessage overwrites a message in place at its original sortable key.
func UpdateMessage(msgID string, data []byte) error {
	key, err := GetIndex("msgid:" + msgID)
	if err != nil {
		return err
	}
	return db.Set([]byte(key), data, pebble.Sync)
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
