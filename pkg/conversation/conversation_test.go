package conversation

import (
	"encoding/json"
	"testing"

	"convod/pkg/models"
	"convod/pkg/store"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func TestPairKeySymmetric(t *testing.T) {
	if PairKey("alice", "bob") != PairKey("bob", "alice") {
		t.Fatal("pair key must not depend on argument order")
	}
	if PairKey("alice", "bob") != "alice-bob" {
		t.Fatalf("unexpected pair key %q", PairKey("alice", "bob"))
	}
}

// TestGetOrCreatePairIdempotent verifies a second call with the same two
// members returns the original conversation, in either member order.
func TestGetOrCreatePairIdempotent(t *testing.T) {
	openTestDB(t)

	c1, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if c1.Type != models.ConversationPair {
		t.Fatalf("expected pair type, got %s", c1.Type)
	}
	c2, err := GetOrCreate([]string{"u2", "u1"}, "u2")
	if err != nil {
		t.Fatalf("GetOrCreate again: %v", err)
	}
	if c2.ID != c1.ID {
		t.Fatalf("pair not idempotent: %s vs %s", c1.ID, c2.ID)
	}
}

func TestGetOrCreateRequiresMembers(t *testing.T) {
	openTestDB(t)

	if _, err := GetOrCreate(nil, "u1"); err != ErrKeyOrListUserIDRequired {
		t.Fatalf("expected ErrKeyOrListUserIDRequired, got %v", err)
	}
	if _, err := GetOrCreate([]string{"", ""}, "u1"); err != ErrKeyOrListUserIDRequired {
		t.Fatalf("expected ErrKeyOrListUserIDRequired for blank ids, got %v", err)
	}
}

func TestGetOrCreateRejectsSingleMember(t *testing.T) {
	openTestDB(t)

	// A lone member must not fall into the group lookup, where any
	// existing group containing that user would alias the request.
	g, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate group: %v", err)
	}
	if _, err := GetOrCreate([]string{"u2"}, "u2"); err != ErrKeyOrListUserIDRequired {
		t.Fatalf("expected ErrKeyOrListUserIDRequired for single member, got %v", err)
	}
	if _, err := GetOrCreate([]string{"u2", "u2", ""}, "u2"); err != ErrKeyOrListUserIDRequired {
		t.Fatalf("expected ErrKeyOrListUserIDRequired for duplicate single member, got %v", err)
	}

	// The existing group is untouched.
	got, err := Get(g.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Participants) != 3 {
		t.Fatalf("group mutated: participants %v", got.Participants)
	}
}

// TestGetOrCreateGroupSupersetMatch pins the lookup contract for groups:
// a member list matches any group whose access_read contains all of it,
// so a subset of an existing group resolves to that group instead of
// creating a new one.
func TestGetOrCreateGroupSupersetMatch(t *testing.T) {
	openTestDB(t)

	g, err := GetOrCreate([]string{"u1", "u2", "u3", "u4"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate group: %v", err)
	}
	if g.Type != models.ConversationGroup {
		t.Fatalf("expected group type, got %s", g.Type)
	}
	if len(g.AdminList) != 1 || g.AdminList[0] != "u1" {
		t.Fatalf("creator must be admin, got %v", g.AdminList)
	}

	sub, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u2")
	if err != nil {
		t.Fatalf("GetOrCreate subset: %v", err)
	}
	if sub.ID != g.ID {
		t.Fatalf("subset lookup created a new group: %s vs %s", sub.ID, g.ID)
	}
}

func TestGetOrCreateSystemUnreadUntilOpened(t *testing.T) {
	openTestDB(t)

	c, err := GetOrCreateSystem("u1")
	if err != nil {
		t.Fatalf("GetOrCreateSystem: %v", err)
	}
	if c.Key != SystemKey("u1") {
		t.Fatalf("unexpected system key %q", c.Key)
	}
	if !IsUnread(c, "u1") {
		t.Fatal("fresh system conversation must be unread")
	}
	if err := MarkRead(c.ID, "u1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	c, err = Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if IsUnread(c, "u1") {
		t.Fatal("system conversation should be read after opening")
	}
}

// TestAddUsersIdempotent verifies re-adding an existing member changes
// nothing while genuinely new members join all four lists.
func TestAddUsersIdempotent(t *testing.T) {
	openTestDB(t)

	g, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	c, err := AddUsers(g.ID, "u1", []string{"u2", "u4"})
	if err != nil {
		t.Fatalf("AddUsers: %v", err)
	}
	if len(c.Participants) != 4 {
		t.Fatalf("expected 4 participants, got %v", c.Participants)
	}
	if !c.CanRead("u4") || !c.CanWrite("u4") {
		t.Fatal("new member missing from access lists")
	}
	if c.ReadAt["u4"] != c.CreatedTS {
		t.Fatal("new member read_at must seed to conversation created_ts")
	}
	// an add_user record lands in the log
	_, msgs, err := GetMessages("u1", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Type == models.MessageAddUser && m.Info != nil && m.Info.UserID == "u4" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected add_user management record for u4")
	}
}

// TestRemoveUsersLeave verifies removing yourself records a leave, drops
// you from all lists and clears your notify/read_at entries.
func TestRemoveUsersLeave(t *testing.T) {
	openTestDB(t)

	g, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	c, err := RemoveUsers(g.ID, "u3", []string{"u3"})
	if err != nil {
		t.Fatalf("RemoveUsers: %v", err)
	}
	if c.HasParticipant("u3") || c.CanRead("u3") || c.CanWrite("u3") {
		t.Fatal("u3 still present after leaving")
	}
	if _, ok := c.ReadAt["u3"]; ok {
		t.Fatal("read_at entry must be dropped on leave")
	}
	// the leave record is visible to remaining members
	_, msgs, err := GetMessages("u1", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Type == models.MessageLeave && m.Info != nil && m.Info.UserID == "u3" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected leave management record for u3")
	}
}

func TestRemoveUsersRequiresMembership(t *testing.T) {
	openTestDB(t)

	g, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := RemoveUsers(g.ID, "stranger", []string{"u2"}); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	c, _ := Get(g.ID)
	if !c.HasParticipant("u2") {
		t.Fatal("denied removal must not mutate the conversation")
	}
}

// TestBlockPreventsWrites verifies blocking empties access_write for the
// pair and a blocked sender gets a permission error with nothing stored.
func TestBlockPreventsWrites(t *testing.T) {
	openTestDB(t)

	c, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := BlockUser("u1", "u2"); err != nil {
		t.Fatalf("BlockUser: %v", err)
	}
	if _, err := CreateMessage("u2", CreateInput{Key: c.Key, Body: "hi", Touch: true}); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied for blocked writer, got %v", err)
	}
	_, msgs, err := GetMessages("u1", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("denied write must not persist, got %d messages", len(msgs))
	}

	if err := UnblockUser("u1", "u2"); err != nil {
		t.Fatalf("UnblockUser: %v", err)
	}
	if _, err := CreateMessage("u2", CreateInput{Key: c.Key, Body: "hi again", Touch: true}); err != nil {
		t.Fatalf("CreateMessage after unblock: %v", err)
	}
}

// TestSoftDeleteWindowAndHeal runs the clear-history flow: after a soft
// delete the user's inbox loses the thread and old messages stay hidden
// even after a new write heals the membership lists.
func TestSoftDeleteWindowAndHeal(t *testing.T) {
	openTestDB(t)

	c, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := CreateMessage("u1", CreateInput{Key: c.Key, Body: "old", Touch: true}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := SoftDelete(c.ID, "u2"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	got, _ := Get(c.ID)
	if got.CanRead("u2") {
		t.Fatal("soft delete must drop the user from access_read")
	}
	inbox, err := ListInbox("u2")
	if err != nil {
		t.Fatalf("ListInbox: %v", err)
	}
	if len(inbox) != 0 {
		t.Fatalf("hidden conversation still in inbox: %d entries", len(inbox))
	}

	// the other side writes again: membership heals, thread reappears
	if _, err := CreateMessage("u1", CreateInput{Key: c.Key, Body: "new", Touch: true}); err != nil {
		t.Fatalf("CreateMessage after soft delete: %v", err)
	}
	got, _ = Get(c.ID)
	if !got.CanRead("u2") {
		t.Fatal("write must heal access_read back to participants")
	}
	_, msgs, err := GetMessages("u2", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "new" {
		t.Fatalf("cleared history leaked: %v", msgs)
	}
	// the non-deleting side still sees everything
	_, msgs, err = GetMessages("u1", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages u1: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("u1 should see both messages, got %d", len(msgs))
	}
}

// TestGetMessagesRequiresMembership pins that knowing a pair key is not
// enough to open the thread: non-members are rejected and leave no
// read_at trace.
func TestGetMessagesRequiresMembership(t *testing.T) {
	openTestDB(t)

	c, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := CreateMessage("u1", CreateInput{ConversationID: c.ID, Body: "hi", Touch: true}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	if _, _, err := GetMessages("intruder", c.Key, nil, 0); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	got, err := Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := got.ReadAt["intruder"]; ok {
		t.Fatalf("read_at written for non-member: %v", got.ReadAt)
	}
}

// TestUnreadLifecycle verifies a new message flips the recipient (and
// only the recipient) to unread, and listing messages clears it.
func TestUnreadLifecycle(t *testing.T) {
	openTestDB(t)

	c, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := CreateMessage("u1", CreateInput{Key: c.Key, Body: "ping", Touch: true}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	got, _ := Get(c.ID)
	if !IsUnread(got, "u2") {
		t.Fatal("recipient should be unread after a new message")
	}
	if IsUnread(got, "u1") {
		t.Fatal("sender should not be unread for their own message")
	}
	n, err := CountUnread("u2")
	if err != nil || n != 1 {
		t.Fatalf("CountUnread = %d, %v", n, err)
	}

	if _, _, err := GetMessages("u2", c.Key, nil, 0); err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	got, _ = Get(c.ID)
	if IsUnread(got, "u2") {
		t.Fatal("listing messages must mark the thread read")
	}
}

func TestSetAdminRequiresCurrentAdmin(t *testing.T) {
	openTestDB(t)

	g, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := SetAdmin(g.ID, "u2", "u3"); err != ErrPermissionDenied {
		t.Fatalf("non-admin actor: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := SetAdmin(g.ID, "u1", "stranger"); err != ErrPermissionDenied {
		t.Fatalf("non-member target: expected ErrPermissionDenied, got %v", err)
	}
	c, err := SetAdmin(g.ID, "u1", "u2")
	if err != nil {
		t.Fatalf("SetAdmin: %v", err)
	}
	if len(c.AdminList) != 1 || c.AdminList[0] != "u2" {
		t.Fatalf("admin list not replaced: %v", c.AdminList)
	}
}

func TestDeleteMessageTombstone(t *testing.T) {
	openTestDB(t)

	c, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	m, err := CreateMessage("u1", CreateInput{Key: c.Key, Body: "oops", Touch: true})
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := DeleteMessage("u2", m.ID); err != ErrPermissionDenied {
		t.Fatalf("non-author delete: expected ErrPermissionDenied, got %v", err)
	}
	if err := DeleteMessage("u1", m.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	_, msgs, err := GetMessages("u2", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("tombstone must remain in the log, got %d rows", len(msgs))
	}
	if msgs[0].Body != "" || msgs[0].Type != models.MessageDelete || len(msgs[0].Attachments) != 0 {
		t.Fatalf("tombstone not blanked: %+v", msgs[0])
	}
}

// TestInboxOrderingAndLatest verifies the inbox sorts by last activity
// and skips management records when picking the preview message.
func TestInboxOrderingAndLatest(t *testing.T) {
	openTestDB(t)

	a, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate a: %v", err)
	}
	b, err := GetOrCreate([]string{"u1", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate b: %v", err)
	}
	if _, err := CreateMessage("u2", CreateInput{Key: a.Key, Body: "first", Touch: true}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := CreateMessage("u3", CreateInput{Key: b.Key, Body: "second", Touch: true}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	entries, err := ListInbox("u1")
	if err != nil {
		t.Fatalf("ListInbox: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 inbox entries, got %d", len(entries))
	}
	if entries[0].Conversation.ID != b.ID {
		t.Fatal("most recently active conversation must sort first")
	}
	if entries[0].Latest == nil || entries[0].Latest.Body != "second" {
		t.Fatalf("unexpected latest preview: %+v", entries[0].Latest)
	}
}

// TestGetAttachmentsResolvesMedia sends one image and one link and checks
// kind-scoped aggregation with URLs resolved from the media registry.
func TestGetAttachmentsResolvesMedia(t *testing.T) {
	openTestDB(t)

	md := models.Media{ID: "m1", Kind: "image", URL: "https://cdn.example.com/m1.jpg"}
	b, err := json.Marshal(md)
	if err != nil {
		t.Fatalf("marshal media: %v", err)
	}
	if err := store.PutDoc(store.NSMedia, md.ID, b); err != nil {
		t.Fatalf("put media: %v", err)
	}

	c, err := GetOrCreate([]string{"u1", "u2"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := CreateMessage("u1", CreateInput{
		Key:         c.Key,
		Attachments: []models.Attachment{{MediaID: "m1"}},
		Touch:       true,
	}); err != nil {
		t.Fatalf("CreateMessage attachment: %v", err)
	}
	if _, err := CreateMessage("u2", CreateInput{Key: c.Key, Body: "https://example.com/trip", Touch: true}); err != nil {
		t.Fatalf("CreateMessage link: %v", err)
	}

	page, err := GetAttachments("u1", c.ID, "image")
	if err != nil {
		t.Fatalf("GetAttachments image: %v", err)
	}
	if len(page.Attachments) != 1 {
		t.Fatalf("images = %+v", page.Attachments)
	}
	if page.Attachments[0].URL != md.URL || page.Attachments[0].Kind != "image" {
		t.Fatalf("media not resolved: %+v", page.Attachments[0])
	}

	page, err = GetAttachments("u1", c.ID, "link")
	if err != nil {
		t.Fatalf("GetAttachments link: %v", err)
	}
	if len(page.Links) != 1 || page.Links[0].Type != models.MessageLink {
		t.Fatalf("links = %+v", page.Links)
	}

	if _, err := GetAttachments("stranger", c.ID, "image"); err != ErrPermissionDenied {
		t.Fatalf("non-member: expected ErrPermissionDenied, got %v", err)
	}
}

func TestRenameRecordsManagementMessage(t *testing.T) {
	openTestDB(t)

	g, err := GetOrCreate([]string{"u1", "u2", "u3"}, "u1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	c, err := Rename(g.ID, "u1", "trip planning")
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if c.Name != "trip planning" {
		t.Fatalf("name not set: %q", c.Name)
	}
	_, msgs, err := GetMessages("u2", c.Key, nil, 0)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	found := false
	for _, m := range msgs {
		if m.Type == models.MessageRename && m.Info != nil && m.Info.Name == "trip planning" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected rename management record")
	}
}
