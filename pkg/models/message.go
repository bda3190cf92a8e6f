package models

// MessageType classifies messages. The management subtypes record
// conversation administration events and are excluded from latest-message
// and unread computations.
type MessageType string

const (
	MessageSimple     MessageType = "simple"
	MessageAttachFile MessageType = "attach_file"
	MessageLink       MessageType = "link"
	MessageSharePost  MessageType = "share_post"
	MessageSystem     MessageType = "system"

	// conversation-management subtypes
	MessageRename      MessageType = "rename"
	MessageAddUser     MessageType = "add_user"
	MessageRemoveUser  MessageType = "remove_user"
	MessageLeave       MessageType = "leave"
	MessageAssignAdmin MessageType = "assign_admin"
	MessageDelete      MessageType = "delete"
)

// IsManagement reports whether t is one of the conversation-management
// subtypes.
func (t MessageType) IsManagement() bool {
	switch t {
	case MessageRename, MessageAddUser, MessageRemoveUser, MessageLeave, MessageAssignAdmin, MessageDelete:
		return true
	}
	return false
}

// Attachment is a media reference carried by a message. URL is resolved
// from the media registry at read time when empty.
type Attachment struct {
	MediaID string `json:"media_id"`
	Kind    string `json:"kind,omitempty"` // image | video | file
	URL     string `json:"url,omitempty"`
}

// ManagementInfo is the structured payload of management subtypes,
// e.g. the new name for a rename or the affected user for add/remove.
type ManagementInfo struct {
	Name     string `json:"name,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
}

type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Author       string      `json:"author,omitempty"`
	Body         string      `json:"body,omitempty"`
	Type         MessageType `json:"type"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	// AccessRead snapshots who could see the message at send time.
	AccessRead []string        `json:"access_read,omitempty"`
	Info       *ManagementInfo `json:"info,omitempty"`
	TS         int64           `json:"ts"`
	UpdatedTS  int64           `json:"updated_ts,omitempty"`
}

// Media is a registered upload the attachment resolver consults.
type Media struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	URL       string `json:"url"`
	CreatedTS int64  `json:"created_ts,omitempty"`
}
