package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"convod/pkg/logger"
	"convod/pkg/models"
	"convod/pkg/store"
)

// AddUsers unions newUserIDs into all four membership lists, seeds their
// notify and read_at entries, and emits one ADD_USER system message per
// actually-added user.
func AddUsers(convID, actorID string, newUserIDs []string) (*models.Conversation, error) {
	var added []string
	c, err := update(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(actorID) {
			return ErrPermissionDenied
		}
		added = added[:0]
		for _, u := range dedupe(newUserIDs) {
			if c.HasParticipant(u) {
				continue
			}
			added = append(added, u)
			c.Participants = append(c.Participants, u)
			c.AccessRead = append(c.AccessRead, u)
			c.AccessWrite = append(c.AccessWrite, u)
			c.Contributors = appendUnique(c.Contributors, u)
			if c.Notify == nil {
				c.Notify = map[string]bool{}
			}
			if c.ReadAt == nil {
				c.ReadAt = map[string]int64{}
			}
			c.Notify[u] = true
			c.ReadAt[u] = c.CreatedTS
		}
		c.UpdatedTS = time.Now().UTC().UnixNano()
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, u := range added {
		info := &models.ManagementInfo{UserID: u, UserName: accountName(u)}
		if err := appendManagement(c, actorID, models.MessageAddUser, info); err != nil {
			logger.Warn("add_user_record_failed", "conversation", c.ID, "user", u, "error", err)
		}
	}
	publishSearchSync(c.ID)
	return c, nil
}

// RemoveUsers emits a LEAVE (self) or REMOVE_USER system message for each
// removed user before mutating, then recomputes the four lists as
// set-difference and drops the users' notify/read_at entries.
func RemoveUsers(convID, actorID string, userIDs []string) (*models.Conversation, error) {
	c, err := Get(convID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(actorID) {
		return nil, ErrPermissionDenied
	}
	removing := make([]string, 0, len(userIDs))
	for _, u := range dedupe(userIDs) {
		if c.HasParticipant(u) {
			removing = append(removing, u)
		}
	}
	// audit records go out before the membership mutation so removed users
	// are still inside the access_read snapshot
	for _, u := range removing {
		typ := models.MessageRemoveUser
		if u == actorID {
			typ = models.MessageLeave
		}
		info := &models.ManagementInfo{UserID: u, UserName: accountName(u)}
		if err := appendManagement(c, actorID, typ, info); err != nil {
			logger.Warn("remove_user_record_failed", "conversation", c.ID, "user", u, "error", err)
		}
	}
	c, err = update(convID, func(c *models.Conversation) error {
		for _, u := range removing {
			c.Participants = without(c.Participants, u)
			c.AccessRead = without(c.AccessRead, u)
			c.AccessWrite = without(c.AccessWrite, u)
			c.Contributors = without(c.Contributors, u)
			delete(c.Notify, u)
			delete(c.ReadAt, u)
		}
		c.UpdatedTS = time.Now().UTC().UnixNano()
		return nil
	})
	if err != nil {
		return nil, err
	}
	publishSearchSync(c.ID)
	return c, nil
}

// BlockUser empties access_write on the pair conversation between meID and
// targetID, blocking writes from both sides.
func BlockUser(meID, targetID string) error {
	c, err := GetByKey(PairKey(meID, targetID))
	if err != nil {
		return err
	}
	_, err = update(c.ID, func(c *models.Conversation) error {
		c.AccessWrite = []string{}
		return nil
	})
	return err
}

// UnblockUser restores access_write to the full participant list.
func UnblockUser(meID, targetID string) error {
	c, err := GetByKey(PairKey(meID, targetID))
	if err != nil {
		return err
	}
	_, err = update(c.ID, func(c *models.Conversation) error {
		c.AccessWrite = append([]string(nil), c.Participants...)
		return nil
	})
	return err
}

// SoftDelete clears the conversation from userID's inbox: the user leaves
// access_read and gets a cleared-history marker. Participants and
// access_write are untouched, so the thread reappears for the user the
// moment either side writes again (see HealMembership).
func SoftDelete(convID, userID string) error {
	_, err := update(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(userID) {
			return ErrPermissionDenied
		}
		c.AccessRead = without(c.AccessRead, userID)
		kept := c.Deleted[:0]
		for _, d := range c.Deleted {
			if d.UserID != userID {
				kept = append(kept, d)
			}
		}
		c.Deleted = append(kept, models.DeletedMarker{
			UserID:    userID,
			DeletedTS: time.Now().UTC().UnixNano(),
		})
		return nil
	})
	return err
}

// HealMembership is the self-repair run before every write: when a prior
// soft-delete (or block) left access_read/access_write shorter than
// participants, both lists reset to exactly participants. Returns whether
// anything changed.
func HealMembership(c *models.Conversation) bool {
	if len(c.AccessRead) == len(c.Participants) && len(c.AccessWrite) == len(c.Participants) {
		return false
	}
	c.AccessRead = append([]string(nil), c.Participants...)
	c.AccessWrite = append([]string(nil), c.Participants...)
	return true
}

// SetNotify flips the caller's mute flag. Muted members stay in every
// list and keep reading; the push fan-out skips them.
func SetNotify(convID, userID string, enabled bool) (*models.Conversation, error) {
	return update(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(userID) {
			return ErrPermissionDenied
		}
		if c.Notify == nil {
			c.Notify = map[string]bool{}
		}
		c.Notify[userID] = enabled
		return nil
	})
}

// SetAdmin replaces the group admin list with [newAdminID]. The actor must
// be a current admin and the target a participant.
func SetAdmin(convID, actorID, newAdminID string) (*models.Conversation, error) {
	c, err := update(convID, func(c *models.Conversation) error {
		if !c.IsAdmin(actorID) {
			return ErrPermissionDenied
		}
		if !c.HasParticipant(newAdminID) {
			return ErrPermissionDenied
		}
		c.AdminList = []string{newAdminID}
		c.UpdatedTS = time.Now().UTC().UnixNano()
		return nil
	})
	if err != nil {
		return nil, err
	}
	info := &models.ManagementInfo{UserID: newAdminID, UserName: accountName(newAdminID)}
	if err := appendManagement(c, actorID, models.MessageAssignAdmin, info); err != nil {
		logger.Warn("assign_admin_record_failed", "conversation", c.ID, "error", err)
	}
	return c, nil
}

// Rename sets the display name of a group conversation and records a
// RENAME system message.
func Rename(convID, actorID, name string) (*models.Conversation, error) {
	c, err := update(convID, func(c *models.Conversation) error {
		if !c.HasParticipant(actorID) {
			return ErrPermissionDenied
		}
		c.Name = name
		c.UpdatedTS = time.Now().UTC().UnixNano()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := appendManagement(c, actorID, models.MessageRename, &models.ManagementInfo{Name: name}); err != nil {
		logger.Warn("rename_record_failed", "conversation", c.ID, "error", err)
	}
	publishSearchSync(c.ID)
	return c, nil
}

// appendManagement persists a conversation-management record with the
// current access_read snapshot. The record itself never touches the
// conversation document; any updated_ts bump belongs to the membership
// operation that emitted it.
func appendManagement(c *models.Conversation, actorID string, typ models.MessageType, info *models.ManagementInfo) error {
	m := models.Message{
		ID:           uuid.NewString(),
		Conversation: c.ID,
		Author:       actorID,
		Type:         typ,
		AccessRead:   append([]string(nil), c.AccessRead...),
		Info:         info,
		TS:           time.Now().UTC().UnixNano(),
	}
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return store.AppendMessage(c.ID, m.ID, b)
}

// accountName resolves a display name from the account registry, falling
// back to the raw id.
func accountName(id string) string {
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

func without(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
