package search

import (
	"encoding/json"
	"strings"

	"convod/pkg/models"
	"convod/pkg/store"
)

const conversationIndex = "conversations"

// ConversationDoc is the denormalized search row for one conversation.
// Member names are flattened and folded so a free-text query matches a
// conversation by any participant's display name.
type ConversationDoc struct {
	ID           string   `json:"id"`
	Key          string   `json:"key"`
	Type         string   `json:"type"`
	Name         string   `json:"name,omitempty"`
	NameFolded   string   `json:"name_folded,omitempty"`
	Participants []string `json:"participants"`
	MemberNames  []string `json:"member_names"`
	MemberSearch string   `json:"member_search"`
	UpdatedTS    int64    `json:"updated_ts"`
}

// SyncConversation rebuilds the search row for one conversation from the
// store. Conversations nobody can read anymore are dropped from the
// index instead.
func SyncConversation(c *Client, conversationID string) error {
	raw, err := store.GetDoc(store.NSConversation, conversationID)
	if err != nil {
		if err == store.ErrNotFound {
			return c.Delete(conversationIndex, conversationID)
		}
		return err
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return err
	}
	if len(conv.AccessRead) == 0 {
		return c.Delete(conversationIndex, conversationID)
	}

	names := make([]string, 0, len(conv.Participants))
	folded := make([]string, 0, len(conv.Participants))
	for _, id := range conv.Participants {
		name := displayName(id)
		names = append(names, name)
		folded = append(folded, Fold(name))
	}
	doc := ConversationDoc{
		ID:           conv.ID,
		Key:          conv.Key,
		Type:         string(conv.Type),
		Name:         conv.Name,
		NameFolded:   Fold(conv.Name),
		Participants: conv.Participants,
		MemberNames:  names,
		MemberSearch: strings.Join(folded, " "),
		UpdatedTS:    conv.UpdatedTS,
	}
	return c.Index(conversationIndex, conv.ID, doc)
}

func displayName(id string) string {
	b, err := store.GetDoc(store.NSAccount, id)
	if err != nil {
		return id
	}
	var a models.Account
	if err := json.Unmarshal(b, &a); err != nil || a.Name == "" {
		return id
	}
	return a.Name
}
