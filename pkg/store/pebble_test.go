package store

import (
	"errors"
	"testing"
	"time"

	"chatcore/pkg/models"
)

func openTestDB(t *testing.T) {
	t.Helper()
	if err := Open(t.TempDir()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close() })
}

func mkMsg(id, thread, sender, receiver, content string, ts int64) *models.Message {
	return &models.Message{
		ID:        id,
		Thread:    thread,
		Channel:   "chat",
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		CreatedTS: ts,
		UpdatedTS: ts,
	}
}

func TestSaveGetPutMessage(t *testing.T) {
	openTestDB(t)

	now := time.Now().UTC().UnixNano()
	m := mkMsg("m1", "thread-a", "u1", "u2", "hello", now)
	if err := SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := GetMessage("m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hello" || got.Thread != "thread-a" {
		t.Fatalf("unexpected message: %+v", got)
	}

	got.Content = "hello edited"
	got.IsEdited = true
	got.EditCount = 1
	if err := PutMessage(got); err != nil {
		t.Fatalf("put: %v", err)
	}
	again, err := GetMessage("m1")
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if again.Content != "hello edited" || !again.IsEdited {
		t.Fatalf("update not persisted: %+v", again)
	}
}

func TestGetMessageNotFound(t *testing.T) {
	openTestDB(t)
	if _, err := GetMessage("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScanMessagesThreadOrderAndScope(t *testing.T) {
	openTestDB(t)

	base := time.Now().UTC().UnixNano()
	for i, id := range []string{"m1", "m2", "m3"} {
		m := mkMsg(id, "thread-a", "u1", "u2", id, base+int64(i))
		if err := SaveMessage(m); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := SaveMessage(mkMsg("mx", "thread-b", "u1", "u2", "other", base)); err != nil {
		t.Fatalf("save other thread: %v", err)
	}

	var ids []string
	err := ScanMessages("thread-a", func(key string, m *models.Message) bool {
		ids = append(ids, m.ID)
		return true
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(ids) != 3 || ids[0] != "m1" || ids[2] != "m3" {
		t.Fatalf("unexpected scan order: %v", ids)
	}

	var all int
	err = ScanMessages("", func(key string, m *models.Message) bool {
		all++
		return true
	})
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	if all != 4 {
		t.Fatalf("expected 4 rows, got %d", all)
	}
}

func TestMarkRead(t *testing.T) {
	openTestDB(t)

	base := time.Now().UTC().UnixNano()
	if err := SaveMessage(mkMsg("m1", "t1", "u1", "u2", "a", base)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveMessage(mkMsg("m2", "t1", "u3", "u2", "b", base+1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveMessage(mkMsg("m3", "t1", "u2", "u1", "c", base+2)); err != nil {
		t.Fatalf("save: %v", err)
	}

	readAt := base + 100
	n, err := MarkRead("u2", "u1", "t1", readAt)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 updated, got %d", n)
	}
	m1, _ := GetMessage("m1")
	if !m1.IsRead || m1.ReadTS != readAt {
		t.Fatalf("m1 not marked read: %+v", m1)
	}
	m2, _ := GetMessage("m2")
	if m2.IsRead {
		t.Fatalf("m2 should not be read (different sender)")
	}

	// no sender filter hits the remaining unread message
	n, err = MarkRead("u2", "", "", readAt)
	if err != nil {
		t.Fatalf("mark read all: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 updated, got %d", n)
	}
}

func TestEditHistoryAppendOnly(t *testing.T) {
	openTestDB(t)

	base := time.Now().UTC().UnixNano()
	m := mkMsg("m1", "t1", "u1", "u2", "v0", base)
	if err := SaveMessage(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec := models.EditRecord{PreviousContent: string(rune('a' + i)), TS: base + int64(i)}
		if err := SaveEdit(m, rec); err != nil {
			t.Fatalf("save edit: %v", err)
		}
	}
	recs, err := ListEdits("m1")
	if err != nil {
		t.Fatalf("list edits: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].PreviousContent != "a" || recs[2].PreviousContent != "c" {
		t.Fatalf("history out of order: %+v", recs)
	}
}

func TestSaveEditFailureLeavesNoHistory(t *testing.T) {
	openTestDB(t)

	base := time.Now().UTC().UnixNano()
	ghost := mkMsg("missing", "t1", "u1", "u2", "v1", base)
	err := SaveEdit(ghost, models.EditRecord{PreviousContent: "v0", TS: base})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	recs, err := ListEdits("missing")
	if err != nil {
		t.Fatalf("list edits: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("failed edit must not leave history, got %d records", len(recs))
	}
}

func TestReactionsPerUserEmoji(t *testing.T) {
	openTestDB(t)

	now := time.Now().UTC().UnixNano()
	r := models.Reaction{ID: "r1", Emoji: "👍", User: "u1", UserName: "Ann", TS: now}
	if err := SetReaction("m1", r); err != nil {
		t.Fatalf("set reaction: %v", err)
	}
	if err := SetReaction("m1", models.Reaction{ID: "r2", Emoji: "👍", User: "u2", TS: now}); err != nil {
		t.Fatalf("set reaction: %v", err)
	}

	got, err := GetReaction("m1", "u1", "👍")
	if err != nil {
		t.Fatalf("get reaction: %v", err)
	}
	if got.UserName != "Ann" {
		t.Fatalf("unexpected reaction: %+v", got)
	}

	list, err := ListReactions("m1")
	if err != nil {
		t.Fatalf("list reactions: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 reactions, got %d", len(list))
	}

	if err := DeleteReaction("m1", "u1", "👍"); err != nil {
		t.Fatalf("delete reaction: %v", err)
	}
	if _, err := GetReaction("m1", "u1", "👍"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestUserEmailIndex(t *testing.T) {
	openTestDB(t)

	u := &models.User{ID: "u1", Name: "Guest", Email: "Guest@Example.com", Role: models.RoleGuest}
	if err := SaveUser(u); err != nil {
		t.Fatalf("save user: %v", err)
	}
	got, err := FindUserByEmail("guest@example.COM")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("unexpected user: %+v", got)
	}
	if _, err := FindUserByEmail("missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListUsersByRole(t *testing.T) {
	openTestDB(t)

	users := []models.User{
		{ID: "a1", Name: "Agent One", Role: models.RoleAgent, Agency: "ag-1"},
		{ID: "a2", Name: "Agent Two", Role: models.RoleAgent, Agency: "ag-2"},
		{ID: "t1", Name: "Tenant", Role: models.RoleTenant},
	}
	for i := range users {
		if err := SaveUser(&users[i]); err != nil {
			t.Fatalf("save user: %v", err)
		}
	}
	agents, err := ListUsersByRole(models.RoleAgent, "")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	scoped, err := ListUsersByRole(models.RoleAgent, "ag-1")
	if err != nil {
		t.Fatalf("list scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "a1" {
		t.Fatalf("unexpected scoped agents: %+v", scoped)
	}
}

func TestPurgeDeletedBefore(t *testing.T) {
	openTestDB(t)

	base := time.Now().UTC().UnixNano()
	old := mkMsg("m1", "t1", "u1", "u2", "old", base-1000)
	old.DeletedTS = base - 500
	if err := SaveMessage(old); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveEdit(old, models.EditRecord{PreviousContent: "x", TS: base}); err != nil {
		t.Fatalf("save edit: %v", err)
	}
	if err := SetReaction("m1", models.Reaction{ID: "r1", Emoji: "👍", User: "u2", TS: base}); err != nil {
		t.Fatalf("set reaction: %v", err)
	}
	keep := mkMsg("m2", "t1", "u1", "u2", "live", base)
	if err := SaveMessage(keep); err != nil {
		t.Fatalf("save: %v", err)
	}

	n, err := PurgeDeletedBefore(base, 0, 0, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if n != 1 {
		t.Fatalf("dry run expected 1, got %d", n)
	}
	if _, err := GetMessage("m1"); err != nil {
		t.Fatalf("dry run must not delete: %v", err)
	}

	n, err = PurgeDeletedBefore(base, 0, 0, false)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, err := GetMessage("m1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("row should be gone, got %v", err)
	}
	edits, err := ListEdits("m1")
	if err != nil || len(edits) != 0 {
		t.Fatalf("edit history should be gone: %v %v", edits, err)
	}
	reacts, err := ListReactions("m1")
	if err != nil || len(reacts) != 0 {
		t.Fatalf("reactions should be gone: %v %v", reacts, err)
	}
	if _, err := GetMessage("m2"); err != nil {
		t.Fatalf("live message must survive: %v", err)
	}
}

func TestPurgeDeletedBeforeByteBudget(t *testing.T) {
	openTestDB(t)

	base := time.Now().UTC().UnixNano()
	for i, id := range []string{"m1", "m2", "m3"} {
		m := mkMsg(id, "t1", "u1", "u2", "gone", base-int64(1000-i))
		m.DeletedTS = base - 500
		if err := SaveMessage(m); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	// a one-byte budget stops each pass after the first victim
	n, err := PurgeDeletedBefore(base, 0, 1, false)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("budgeted pass should remove 1, got %d", n)
	}

	// no budget drains the rest
	n, err = PurgeDeletedBefore(base, 0, 0, false)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 remaining, got %d", n)
	}
}
