package models

// ConversationType distinguishes two-party, group and system threads.
type ConversationType string

const (
	ConversationPair   ConversationType = "pair"
	ConversationGroup  ConversationType = "group"
	ConversationSystem ConversationType = "system"
)

// DeletedMarker records a per-user "cleared history" point. Messages older
// than DeletedTS are hidden from that user in pair conversations.
type DeletedMarker struct {
	UserID    string `json:"user_id"`
	DeletedTS int64  `json:"deleted_ts"`
}

// Conversation is the shared thread document. The four access lists are
// conceptually sets stored as ordered slices; access_read/access_write
// normally mirror participants and are narrowed by block and soft-delete.
type Conversation struct {
	ID   string           `json:"id"`
	Key  string           `json:"key"`
	Type ConversationType `json:"type"`
	// Name is optional and only meaningful for group conversations.
	Name string `json:"name,omitempty"`

	Participants []string `json:"participants"`
	AccessRead   []string `json:"access_read"`
	AccessWrite  []string `json:"access_write"`
	Contributors []string `json:"contributors"`
	// AdminList holds the current group admins (group conversations only).
	AdminList []string `json:"admin_list,omitempty"`

	// Notify maps user id -> alert-on-new-message preference.
	Notify map[string]bool `json:"notify,omitempty"`
	// ReadAt maps user id -> last-read timestamp (ns).
	ReadAt map[string]int64 `json:"read_at,omitempty"`
	// Deleted holds per-user cleared-history markers, at most one per user.
	Deleted []DeletedMarker `json:"deleted_conversations,omitempty"`

	CreatedTS int64 `json:"created_ts"`
	UpdatedTS int64 `json:"updated_ts"`
	// Rev is the optimistic-concurrency token; every update must carry the
	// expected prior value.
	Rev int64 `json:"rev"`
}

// HasParticipant reports whether u is a nominal member.
func (c *Conversation) HasParticipant(u string) bool { return contains(c.Participants, u) }

// CanRead reports whether u currently sees the conversation in their inbox.
func (c *Conversation) CanRead(u string) bool { return contains(c.AccessRead, u) }

// CanWrite reports whether u may post messages.
func (c *Conversation) CanWrite(u string) bool { return contains(c.AccessWrite, u) }

// IsAdmin reports whether u is a group admin.
func (c *Conversation) IsAdmin(u string) bool { return contains(c.AdminList, u) }

// DeletedMarkerFor returns the cleared-history marker for u, if any.
func (c *Conversation) DeletedMarkerFor(u string) (DeletedMarker, bool) {
	for _, d := range c.Deleted {
		if d.UserID == u {
			return d, true
		}
	}
	return DeletedMarker{}, false
}

// ViewStart returns the timestamp bounding which historical messages are
// visible to u: the conversation creation time, or the user's cleared-history
// marker when later.
func (c *Conversation) ViewStart(u string) int64 {
	start := c.CreatedTS
	if d, ok := c.DeletedMarkerFor(u); ok && d.DeletedTS > start {
		start = d.DeletedTS
	}
	return start
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
