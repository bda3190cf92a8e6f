package notify

import (
	"encoding/json"
	"fmt"

	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/store"
)

// MessageFanout pushes a new chat message to every other participant of
// its conversation. Participants that muted the conversation or lost
// read access are skipped. Recipients that are pages produce a
// message_page notification for the page owner instead of a direct push.
func (e *Engine) MessageFanout(conversationID, messageID string) error {
	raw, err := store.GetDoc(store.NSConversation, conversationID)
	if err != nil {
		return fmt.Errorf("fanout conversation %s: %w", conversationID, err)
	}
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return err
	}
	mb, err := store.GetMessage(messageID)
	if err != nil {
		return fmt.Errorf("fanout message %s: %w", messageID, err)
	}
	var msg models.Message
	if err := json.Unmarshal(mb, &msg); err != nil {
		return err
	}

	authorName := accountName(msg.Author)
	for _, uid := range conv.Participants {
		if uid == msg.Author {
			continue
		}
		if !conv.CanRead(uid) {
			continue
		}
		if enabled, ok := conv.Notify[uid]; ok && !enabled {
			continue
		}
		acct, err := loadAccount(uid)
		if err == nil && acct.Type == models.AccountPage {
			if err := e.Create(Event{
				Type:           models.NotifyMessagePage,
				CreatorID:      msg.Author,
				Recipients:     []string{uid},
				PageID:         uid,
				ConversationID: conv.ID,
			}); err != nil {
				logger.Warn("fanout_page_notify_failed", "page", uid, "error", err)
			}
			continue
		}
		e.SendRawPush(uid, func(lang string) PushMessage {
			return chatPreview(lang, authorName, &conv, &msg)
		})
	}
	return nil
}

// chatPreview renders the direct-push payload for a chat message.
func chatPreview(lang, authorName string, conv *models.Conversation, msg *models.Message) PushMessage {
	body := msg.Body
	switch {
	case msg.Type == models.MessageAttachFile:
		if lang == "vi" {
			body = "đã gửi một tệp đính kèm"
		} else {
			body = "sent an attachment"
		}
	case msg.Type == models.MessageLink && body == "":
		body = "sent a link"
		if lang == "vi" {
			body = "đã gửi một liên kết"
		}
	}
	title := authorName
	if conv.Type == models.ConversationGroup && conv.Name != "" {
		title = conv.Name
	}
	return PushMessage{
		Title: title,
		Body:  authorName + ": " + body,
		Data: map[string]string{
			"conversation_id": conv.ID,
			"message_id":      msg.ID,
			"type":            "message",
		},
	}
}

func loadAccount(id string) (*models.Account, error) {
	b, err := store.GetDoc(store.NSAccount, id)
	if err != nil {
		return nil, err
	}
	var a models.Account
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
