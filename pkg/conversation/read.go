package conversation

import (
	"encoding/json"
	"sort"
	"time"

	"convod/pkg/models"
	"convod/pkg/store"
)

// MarkRead advances userID's read_at to now.
func MarkRead(convID, userID string) error {
	_, err := update(convID, func(c *models.Conversation) error {
		if c.ReadAt == nil {
			c.ReadAt = map[string]int64{}
		}
		c.ReadAt[userID] = time.Now().UTC().UnixNano()
		return nil
	})
	return err
}

// IsUnread reports the conversation-level unread flag for userID. A system
// conversation nobody has opened yet (empty read_at map) is always unread.
func IsUnread(c *models.Conversation, userID string) bool {
	if c.Type == models.ConversationSystem && len(c.ReadAt) == 0 {
		return true
	}
	return c.UpdatedTS > c.ReadAt[userID]
}

// CountUnread counts the conversations in the user's inbox whose unread
// flag is set. This is a conversation-level count, not a message count.
func CountUnread(userID string) (int, error) {
	convs, err := inboxConversations(userID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range convs {
		if IsUnread(&convs[i], userID) {
			n++
		}
	}
	return n, nil
}

// InboxEntry is one row of a user's conversation list.
type InboxEntry struct {
	Conversation models.Conversation `json:"conversation"`
	Unread       bool                `json:"unread"`
	// Latest is the newest user-visible chat message; management records
	// are skipped.
	Latest *models.Message `json:"latest,omitempty"`
}

// ListInbox returns the user's conversations newest-activity first, each
// with its unread flag and latest non-management message.
func ListInbox(userID string) ([]InboxEntry, error) {
	convs, err := inboxConversations(userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool { return convs[i].UpdatedTS > convs[j].UpdatedTS })
	out := make([]InboxEntry, 0, len(convs))
	for i := range convs {
		c := convs[i]
		entry := InboxEntry{Conversation: c, Unread: IsUnread(&c, userID)}
		msgs, err := visibleMessages(&c, userID)
		if err == nil {
			for j := len(msgs) - 1; j >= 0; j-- {
				if msgs[j].Type.IsManagement() {
					continue
				}
				m := msgs[j]
				entry.Latest = &m
				break
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func inboxConversations(userID string) ([]models.Conversation, error) {
	hits, err := store.FindDocs(store.NSConversation, store.Query{
		Where: []store.Cond{{Field: "access_read", Op: store.OpContains, Value: userID}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(hits))
	for _, b := range hits {
		var c models.Conversation
		if err := json.Unmarshal(b, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
