package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/outbox"
	"convod/pkg/store"
)

// CreateInput carries a message write request. Exactly one of
// ConversationID, Key or UserIDs must identify the target thread.
type CreateInput struct {
	ConversationID string
	Key            string
	UserIDs        []string

	Body        string
	Type        models.MessageType
	Attachments []models.Attachment
	// AccessReadOverride narrows the visibility snapshot, used for system
	// records targeted at one user. Empty means "current access_read".
	AccessReadOverride []string
	// Touch controls whether the conversation's updated_ts moves, i.e.
	// whether the thread resurfaces in inboxes.
	Touch bool
}

// CreateMessage validates write permission, heals membership, persists the
// message with its visibility snapshot, advances the sender's read_at and
// hands fan-out to the outbox. Fan-out failures never reach the caller.
func CreateMessage(actorID string, in CreateInput) (*models.Message, error) {
	c, err := resolveTarget(in.ConversationID, in.Key, in.UserIDs)
	if err != nil {
		return nil, err
	}
	if !c.CanWrite(actorID) {
		return nil, ErrPermissionDenied
	}

	now := time.Now().UTC().UnixNano()
	c, err = update(c.ID, func(c *models.Conversation) error {
		if HealMembership(c) {
			logger.Info("membership_healed", "conversation", c.ID)
		}
		if c.ReadAt == nil {
			c.ReadAt = map[string]int64{}
		}
		c.ReadAt[actorID] = now
		if in.Touch {
			c.UpdatedTS = now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	snapshot := in.AccessReadOverride
	if len(snapshot) == 0 {
		snapshot = append([]string(nil), c.AccessRead...)
	}
	m := &models.Message{
		ID:           uuid.NewString(),
		Conversation: c.ID,
		Author:       actorID,
		Body:         in.Body,
		Type:         classify(in),
		Attachments:  in.Attachments,
		AccessRead:   snapshot,
		TS:           now,
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	if err := store.AppendMessage(c.ID, m.ID, b); err != nil {
		return nil, err
	}

	// best-effort fan-out; enqueue failures are logged and discarded
	if err := outbox.Publish(outbox.KindMessageFanout, outbox.MessageFanout{
		ConversationID: c.ID,
		MessageID:      m.ID,
	}); err != nil {
		logger.Warn("message_fanout_enqueue_failed", "conversation", c.ID, "msg", m.ID, "error", err)
	}
	publishSearchSync(c.ID)
	return m, nil
}

// classify picks the message type when the caller did not: attachments make
// it an attach_file, a bare link body a link, everything else simple.
func classify(in CreateInput) models.MessageType {
	if in.Type != "" {
		return in.Type
	}
	if len(in.Attachments) > 0 {
		return models.MessageAttachFile
	}
	body := strings.TrimSpace(in.Body)
	if strings.HasPrefix(body, "http://") || strings.HasPrefix(body, "https://") {
		return models.MessageLink
	}
	return models.MessageSimple
}

// GetMessages resolves the target thread, applies the caller's view-start
// window (pair conversations only), resolves attachment media and marks the
// caller read. Fails with ErrConversationNotFound when nothing matches and
// ErrPermissionDenied when the caller is not a member.
func GetMessages(userID, key string, userIDs []string, limit int) (*models.Conversation, []models.Message, error) {
	c, err := resolveTarget("", key, userIDs)
	if err != nil {
		return nil, nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, nil, ErrPermissionDenied
	}
	msgs, err := visibleMessages(c, userID)
	if err != nil {
		return nil, nil, err
	}
	for i := range msgs {
		resolveAttachments(&msgs[i])
	}
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	if err := MarkRead(c.ID, userID); err != nil {
		logger.Warn("mark_read_failed", "conversation", c.ID, "user", userID, "error", err)
	}
	return c, msgs, nil
}

// DeleteMessage soft-deletes: body and attachments blank out and the type
// flips to DELETE. The row itself is never removed.
func DeleteMessage(actorID, msgID string) error {
	b, err := store.GetMessage(msgID)
	if err != nil {
		return err
	}
	var m models.Message
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m.Author != actorID {
		return ErrPermissionDenied
	}
	m.Body = ""
	m.Attachments = nil
	m.Type = models.MessageDelete
	m.UpdatedTS = time.Now().UTC().UnixNano()
	nb, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return store.UpdateMessage(msgID, nb)
}

// visibleMessages returns the messages of c that userID may see, applying
// the access_read snapshot and, for pair conversations, the view-start
// window set by a prior soft-delete.
func visibleMessages(c *models.Conversation, userID string) ([]models.Message, error) {
	raw, err := store.ListMessages(c.ID)
	if err != nil {
		return nil, err
	}
	viewStart := int64(0)
	if c.Type == models.ConversationPair {
		viewStart = c.ViewStart(userID)
	}
	out := make([]models.Message, 0, len(raw))
	for _, b := range raw {
		var m models.Message
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		if viewStart > 0 && m.TS <= viewStart {
			continue
		}
		if len(m.AccessRead) > 0 && !containsStr(m.AccessRead, userID) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// resolveTarget finds the conversation by id, key, or member list, in that
// order of preference.
func resolveTarget(id, key string, userIDs []string) (*models.Conversation, error) {
	switch {
	case id != "":
		return Get(id)
	case key != "":
		return GetByKey(key)
	case len(userIDs) >= 2:
		if len(userIDs) == 2 {
			return GetByKey(PairKey(userIDs[0], userIDs[1]))
		}
		c, err := ResolveGroup(dedupe(userIDs))
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, ErrConversationNotFound
		}
		return c, nil
	default:
		return nil, ErrKeyOrListUserIDRequired
	}
}

func resolveAttachments(m *models.Message) {
	for i := range m.Attachments {
		a := &m.Attachments[i]
		if a.URL != "" || a.MediaID == "" {
			continue
		}
		b, err := store.GetDoc(store.NSMedia, a.MediaID)
		if err != nil {
			continue
		}
		var md models.Media
		if err := json.Unmarshal(b, &md); err == nil {
			a.URL = md.URL
			if a.Kind == "" {
				a.Kind = md.Kind
			}
		}
	}
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
