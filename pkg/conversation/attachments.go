package conversation

import (
	"convod/pkg/models"
)

// AttachmentPage is the media aggregation result for one conversation.
// Image/video requests fill Attachments; link requests fill Links.
type AttachmentPage struct {
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Links       []models.Message    `json:"links,omitempty"`
}

// GetAttachments aggregates a conversation's media of the given kind
// ("image", "video" or "link") for a participant, honoring the same
// pair-conversation view-start window as GetMessages.
func GetAttachments(userID, convID, kind string) (*AttachmentPage, error) {
	c, err := Get(convID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrPermissionDenied
	}
	msgs, err := visibleMessages(c, userID)
	if err != nil {
		return nil, err
	}
	page := &AttachmentPage{}
	switch kind {
	case "link":
		for _, m := range msgs {
			if m.Type == models.MessageLink {
				page.Links = append(page.Links, m)
			}
		}
	default:
		for i := range msgs {
			resolveAttachments(&msgs[i])
			for _, a := range msgs[i].Attachments {
				if a.Kind == kind {
					page.Attachments = append(page.Attachments, a)
				}
			}
		}
	}
	return page, nil
}
