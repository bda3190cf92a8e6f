package conversation

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/outbox"
	"convod/pkg/store"
)

// PairKey computes the stable identity for a two-party conversation: the
// two ids sorted ascending and joined with "-". Symmetric by construction.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// SystemKey is the identity of a user's system announcement thread.
func SystemKey(userID string) string {
	return "system-" + userID
}

// GetByKey looks up a conversation by its key.
func GetByKey(key string) (*models.Conversation, error) {
	id, err := store.GetIndex("convkey:" + key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return Get(id)
}

// Get loads a conversation by id.
func Get(id string) (*models.Conversation, error) {
	b, err := store.GetDoc(store.NSConversation, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	var c models.Conversation
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveGroup searches for an existing conversation whose access_read
// contains every given id. Note this asserts "contains all of", not "equals
// exactly": a strict superset group can match. That mirrors how clients
// reopen "my chat with these people" and is pinned by tests.
func ResolveGroup(userIDs []string) (*models.Conversation, error) {
	q := store.Query{OrderBy: "created_ts", Desc: false}
	for _, u := range userIDs {
		q.Where = append(q.Where, store.Cond{Field: "access_read", Op: store.OpContains, Value: u})
	}
	q.Where = append(q.Where, store.Cond{Field: "type", Op: store.OpEq, Value: string(models.ConversationGroup)})
	hits, err := store.FindDocs(store.NSConversation, q)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	var c models.Conversation
	if err := json.Unmarshal(hits[0], &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreate returns the conversation for the given member set, creating
// it when absent. Idempotent: repeated calls with the same member set
// return the same conversation. At least two distinct members are required;
// one-person system threads go through GetOrCreateSystem.
func GetOrCreate(userIDs []string, creatorID string) (*models.Conversation, error) {
	ids := dedupe(userIDs)
	if len(ids) < 2 {
		return nil, ErrKeyOrListUserIDRequired
	}

	var key string
	if len(ids) == 2 {
		key = PairKey(ids[0], ids[1])
		if c, err := GetByKey(key); err == nil {
			return c, nil
		} else if !errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
	} else {
		existing, err := ResolveGroup(ids)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		key = uuid.NewString()
	}

	now := time.Now().UTC().UnixNano()
	c := &models.Conversation{
		ID:           uuid.NewString(),
		Key:          key,
		Type:         models.ConversationGroup,
		Participants: ids,
		AccessRead:   append([]string(nil), ids...),
		AccessWrite:  append([]string(nil), ids...),
		Contributors: append([]string(nil), ids...),
		Notify:       map[string]bool{},
		ReadAt:       map[string]int64{},
		CreatedTS:    now,
		UpdatedTS:    now,
		Rev:          1,
	}
	if len(ids) == 2 {
		c.Type = models.ConversationPair
	} else {
		c.AdminList = []string{creatorID}
	}
	for _, u := range ids {
		c.Notify[u] = true
		c.ReadAt[u] = now
	}
	if err := saveNew(c); err != nil {
		return nil, err
	}
	logger.Info("conversation_created", "id", c.ID, "key", c.Key, "type", string(c.Type), "members", len(ids))
	publishSearchSync(c.ID)
	return c, nil
}

// GetOrCreateSystem returns the user's system announcement conversation,
// creating it on first contact. The read_at map is intentionally left empty
// so the thread counts as unread until the user first opens it.
func GetOrCreateSystem(userID string) (*models.Conversation, error) {
	if userID == "" {
		return nil, ErrKeyOrListUserIDRequired
	}
	key := SystemKey(userID)
	if c, err := GetByKey(key); err == nil {
		return c, nil
	} else if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}
	now := time.Now().UTC().UnixNano()
	c := &models.Conversation{
		ID:           uuid.NewString(),
		Key:          key,
		Type:         models.ConversationSystem,
		Participants: []string{userID},
		AccessRead:   []string{userID},
		AccessWrite:  []string{userID},
		Contributors: []string{userID},
		Notify:       map[string]bool{userID: true},
		ReadAt:       map[string]int64{},
		CreatedTS:    now,
		UpdatedTS:    now,
		Rev:          1,
	}
	if err := saveNew(c); err != nil {
		return nil, err
	}
	return c, nil
}

func saveNew(c *models.Conversation) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := store.PutDoc(store.NSConversation, c.ID, b); err != nil {
		return err
	}
	return store.SetIndex("convkey:"+c.Key, c.ID)
}

// maxUpdateRetries bounds the rev-conflict retry loop for read-modify-write
// conversation updates.
const maxUpdateRetries = 3

// update runs a compare-and-swap read-modify-write cycle against a
// conversation document, retrying a bounded number of times on rev
// conflicts. mutate may return a sentinel error to abort.
func update(convID string, mutate func(*models.Conversation) error) (*models.Conversation, error) {
	var lastErr error
	for i := 0; i < maxUpdateRetries; i++ {
		c, err := Get(convID)
		if err != nil {
			return nil, err
		}
		expected := c.Rev
		if err := mutate(c); err != nil {
			return nil, err
		}
		c.Rev = expected + 1
		b, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		err = store.SwapDoc(store.NSConversation, c.ID, expected, b)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, store.ErrRevConflict) {
			return nil, err
		}
		lastErr = err
		logger.Debug("conversation_update_conflict", "id", convID, "attempt", i+1)
	}
	return nil, lastErr
}

func publishSearchSync(convID string) {
	if err := outbox.Publish(outbox.KindSearchSync, outbox.SearchSync{ConversationID: convID}); err != nil {
		logger.Warn("search_sync_enqueue_failed", "conversation", convID, "error", err)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
