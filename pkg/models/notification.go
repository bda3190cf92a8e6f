package models

import "strings"

// NotificationType names the domain events that produce notification rows.
type NotificationType string

const (
	NotifyFollow         NotificationType = "follow"
	NotifyAcceptedFollow NotificationType = "accepted_follow"
	NotifyLikePost       NotificationType = "like_post"
	NotifyCommentPost    NotificationType = "comment_post"
	NotifyReplyComment   NotificationType = "reply_comment"
	NotifySharePost      NotificationType = "share_post"
	NotifyRankingPage    NotificationType = "ranking_page"
	NotifyMessagePage    NotificationType = "message_page"

	NotifyTourRequest    NotificationType = "tour_order_request"
	NotifyStayRequest    NotificationType = "stay_order_request"
	NotifyTourAccept     NotificationType = "tour_order_accept"
	NotifyStayAccept     NotificationType = "stay_order_accept"
	NotifyTourReject     NotificationType = "tour_order_reject"
	NotifyStayReject     NotificationType = "stay_order_reject"
	NotifyTourUserCancel NotificationType = "tour_order_user_cancel"
	NotifyStayUserCancel NotificationType = "stay_order_user_cancel"
	NotifyTourPageCancel NotificationType = "tour_order_page_cancel"
	NotifyStayPageCancel NotificationType = "stay_order_page_cancel"

	NotifyActivityInvite     NotificationType = "activity_invite"
	NotifyActivityRemove     NotificationType = "activity_remove"
	NotifyActivityJoin       NotificationType = "activity_join"
	NotifyActivityComingSoon NotificationType = "activity_coming_soon"
)

// DedupExempt reports whether every occurrence of t inserts a fresh row
// instead of merging into an existing one.
func (t NotificationType) DedupExempt() bool {
	switch t {
	case NotifyAcceptedFollow,
		NotifyTourRequest, NotifyStayRequest,
		NotifyTourUserCancel, NotifyStayUserCancel,
		NotifyActivityInvite, NotifyActivityRemove,
		NotifyActivityJoin, NotifyActivityComingSoon:
		return true
	}
	return false
}

// NotificationFor distinguishes the surface a row is delivered to.
type NotificationFor string

const (
	ForUser  NotificationFor = "user"
	ForPage  NotificationFor = "page"
	ForOwner NotificationFor = "owner"
)

// NotificationStatus is the feed state of a row. "before" marks rows the
// recipient has already fetched.
type NotificationStatus string

const (
	StatusNew    NotificationStatus = "new"
	StatusBefore NotificationStatus = "before"
)

// Notification is one feed row per (recipient, type, surface, grouping).
// Repeat events merge into the row by unioning the triggering creator into
// Participants.
type Notification struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	EventCreatorID string           `json:"event_creator_id"`
	Type           NotificationType `json:"type"`

	// At most one target group populated per row.
	PostID         string `json:"post_id,omitempty"`
	CommentID      string `json:"comment_id,omitempty"`
	RankingID      string `json:"ranking_id,omitempty"`
	BookingID      string `json:"booking_id,omitempty"`
	PageID         string `json:"page_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Participants is the comma-joined accumulator of distinct creator ids
	// merged into this row.
	Participants string             `json:"participants"`
	Status       NotificationStatus `json:"status"`
	Read         bool               `json:"read"`
	For          NotificationFor    `json:"notification_for"`

	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts"`
	Rev       int64 `json:"rev"`
}

// GroupingID returns the dedup grouping target: the page for page-scoped
// types, otherwise the post.
func (n *Notification) GroupingID() string {
	switch n.Type {
	case NotifyRankingPage, NotifyMessagePage:
		return n.PageID
	}
	return n.PostID
}

// ParticipantList splits the comma-joined accumulator.
func (n *Notification) ParticipantList() []string {
	if n.Participants == "" {
		return nil
	}
	return strings.Split(n.Participants, ",")
}

// AddParticipant unions a creator id into the accumulator.
func (n *Notification) AddParticipant(id string) {
	for _, p := range n.ParticipantList() {
		if p == id {
			return
		}
	}
	if n.Participants == "" {
		n.Participants = id
		return
	}
	n.Participants = n.Participants + "," + id
}
