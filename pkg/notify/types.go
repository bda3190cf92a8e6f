package notify

import "convod/pkg/models"

// Event is one domain occurrence entering the engine: who did what, to
// which target, and who should hear about it.
type Event struct {
	Type      models.NotificationType `json:"type"`
	CreatorID string                  `json:"creator_id"`
	// Recipients is the raw listUserReceive; the creator is always skipped.
	Recipients []string `json:"recipients"`

	PostID         string `json:"post_id,omitempty"`
	CommentID      string `json:"comment_id,omitempty"`
	RankingID      string `json:"ranking_id,omitempty"`
	BookingID      string `json:"booking_id,omitempty"`
	PageID         string `json:"page_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// groupingID mirrors Notification.GroupingID for an incoming event.
func (ev Event) groupingID() string {
	switch ev.Type {
	case models.NotifyRankingPage, models.NotifyMessagePage:
		return ev.PageID
	}
	return ev.PostID
}
