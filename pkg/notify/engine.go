package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/store"
)

// Engine turns domain events into deduplicated notification rows and
// best-effort push deliveries.
type Engine struct {
	resolver RecipientResolver
	gateway  Gateway

	// locks serialize insert-or-merge per dedup key so the upsert is
	// atomic without a store transaction.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine builds an engine from a recipient resolver and push gateway.
func NewEngine(resolver RecipientResolver, gateway Gateway) *Engine {
	return &Engine{resolver: resolver, gateway: gateway, locks: map[string]*sync.Mutex{}}
}

// Create fans an event out to every recipient except the creator. Page
// recipients redirect to their owner with a second owner-surface row. Push
// goes out once per resolved human, on the primary surface.
func (e *Engine) Create(ev Event) error {
	var firstErr error
	for _, raw := range ev.Recipients {
		if raw == "" || raw == ev.CreatorID {
			continue
		}
		targets, err := e.resolver.Resolve(raw)
		if err != nil {
			logger.Warn("recipient_resolve_failed", "account", raw, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for i, t := range targets {
			n, err := e.upsert(t, ev)
			if err != nil {
				logger.Warn("notification_upsert_failed", "user", t.UserID, "type", string(ev.Type), "error", err)
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if i == 0 {
				e.SendPush(t.UserID, n)
			}
		}
	}
	return firstErr
}

// dedupKeyIndex is the index entry mapping a dedup key to its row id.
func dedupKeyIndex(userID string, typ models.NotificationType, surface models.NotificationFor, groupingID string) string {
	return fmt.Sprintf("notifdedup:%s:%s:%s:%s", userID, typ, surface, groupingID)
}

// DedupIndexKey rebuilds the dedup index entry for a persisted row, used
// by the janitor to clean the index alongside purged rows.
func DedupIndexKey(n *models.Notification) string {
	return dedupKeyIndex(n.UserID, n.Type, n.For, n.GroupingID())
}

// upsert is the atomic insert-or-merge: exempt types always insert; other
// types merge into the existing row for the same (user, type, surface,
// grouping), refreshing its feed state and unioning the creator into the
// participants accumulator.
func (e *Engine) upsert(t Recipient, ev Event) (*models.Notification, error) {
	now := time.Now().UTC().UnixNano()
	if ev.Type.DedupExempt() {
		return e.insert(t, ev, now)
	}

	key := dedupKeyIndex(t.UserID, ev.Type, t.For, ev.groupingID())
	lock := e.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	id, err := store.GetIndex(key)
	if errors.Is(err, store.ErrNotFound) {
		n, ierr := e.insert(t, ev, now)
		if ierr != nil {
			return nil, ierr
		}
		if serr := store.SetIndex(key, n.ID); serr != nil {
			return nil, serr
		}
		return n, nil
	}
	if err != nil {
		return nil, err
	}

	b, err := store.GetDoc(store.NSNotification, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// stale index (row purged); reinsert
			n, ierr := e.insert(t, ev, now)
			if ierr != nil {
				return nil, ierr
			}
			return n, store.SetIndex(key, n.ID)
		}
		return nil, err
	}
	var n models.Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return nil, err
	}
	expected := n.Rev
	n.Status = models.StatusNew
	n.Read = false
	n.CreatedTS = now
	n.UpdatedTS = now
	n.EventCreatorID = ev.CreatorID
	n.AddParticipant(ev.CreatorID)
	n.Rev = expected + 1
	nb, err := json.Marshal(&n)
	if err != nil {
		return nil, err
	}
	if err := store.SwapDoc(store.NSNotification, n.ID, expected, nb); err != nil {
		return nil, err
	}
	merges.WithLabelValues(string(ev.Type)).Inc()
	logger.Debug("notification_merged", "user", t.UserID, "type", string(ev.Type), "id", n.ID)
	return &n, nil
}

func (e *Engine) insert(t Recipient, ev Event, now int64) (*models.Notification, error) {
	n := &models.Notification{
		ID:             uuid.NewString(),
		UserID:         t.UserID,
		EventCreatorID: ev.CreatorID,
		Type:           ev.Type,
		PostID:         ev.PostID,
		CommentID:      ev.CommentID,
		RankingID:      ev.RankingID,
		BookingID:      ev.BookingID,
		PageID:         ev.PageID,
		ConversationID: ev.ConversationID,
		Participants:   ev.CreatorID,
		Status:         models.StatusNew,
		For:            t.For,
		CreatedTS:      now,
		UpdatedTS:      now,
		Rev:            1,
	}
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	if err := store.PutDoc(store.NSNotification, n.ID, b); err != nil {
		return nil, err
	}
	inserts.WithLabelValues(string(ev.Type)).Inc()
	return n, nil
}

func (e *Engine) keyLock(key string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// List returns a user's notification rows newest first and flips their
// feed status to BEFORE (fetched). The read flag is untouched; it flips
// when a row is opened.
func List(userID string, limit int) ([]models.Notification, error) {
	hits, err := store.FindDocs(store.NSNotification, store.Query{
		Where:   []store.Cond{{Field: "user_id", Op: store.OpEq, Value: userID}},
		OrderBy: "updated_ts",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(hits))
	for _, b := range hits {
		var n models.Notification
		if err := json.Unmarshal(b, &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedTS > out[j].UpdatedTS })
	for i := range out {
		if out[i].Status == models.StatusNew {
			n := out[i]
			n.Status = models.StatusBefore
			n.Rev++
			if b, err := json.Marshal(&n); err == nil {
				if err := store.SwapDoc(store.NSNotification, n.ID, out[i].Rev, b); err != nil {
					logger.Debug("notification_status_flip_conflict", "id", n.ID, "error", err)
				}
			}
		}
	}
	return out, nil
}

// MarkRead flips one row to read for its recipient.
func MarkRead(userID, id string) error {
	b, err := store.GetDoc(store.NSNotification, id)
	if err != nil {
		return err
	}
	var n models.Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if n.UserID != userID {
		return store.ErrNotFound
	}
	expected := n.Rev
	n.Read = true
	n.Status = models.StatusBefore
	n.UpdatedTS = time.Now().UTC().UnixNano()
	n.Rev = expected + 1
	nb, err := json.Marshal(&n)
	if err != nil {
		return err
	}
	return store.SwapDoc(store.NSNotification, n.ID, expected, nb)
}

// MarkAllRead flips every unread row of a user.
func MarkAllRead(userID string) error {
	hits, err := store.FindDocs(store.NSNotification, store.Query{
		Where: []store.Cond{
			{Field: "user_id", Op: store.OpEq, Value: userID},
			{Field: "read", Op: store.OpEq, Value: false},
		},
	})
	if err != nil {
		return err
	}
	for _, b := range hits {
		var n models.Notification
		if err := json.Unmarshal(b, &n); err != nil {
			continue
		}
		expected := n.Rev
		n.Read = true
		n.Status = models.StatusBefore
		n.Rev = expected + 1
		if nb, err := json.Marshal(&n); err == nil {
			if err := store.SwapDoc(store.NSNotification, n.ID, expected, nb); err != nil {
				logger.Debug("notification_mark_all_conflict", "id", n.ID, "error", err)
			}
		}
	}
	return nil
}

// CountUnread counts a user's unread rows.
func CountUnread(userID string) (int, error) {
	hits, err := store.FindDocs(store.NSNotification, store.Query{
		Where: []store.Cond{
			{Field: "user_id", Op: store.OpEq, Value: userID},
			{Field: "read", Op: store.OpEq, Value: false},
		},
	})
	if err != nil {
		return 0, err
	}
	return len(hits), nil
}
