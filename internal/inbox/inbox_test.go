package inbox

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/smsdesk/smsdesk/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func insert(t *testing.T, db *store.DB, m store.RawMessage) store.RawMessage {
	t.Helper()
	if m.Status == "" {
		m.Status = "received"
	}
	if err := db.InsertRawMessage(&m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestListGroupsAcrossPhoneFormats(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61412345678", Body: "hi", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "61412345678", Body: "hello back", OccurredAt: 2000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "0061412345678", Body: "other format", OccurredAt: 1500})

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 2 {
		// "0061..." canonicalizes to different digits than "61...", so
		// it is its own group. The plus-prefixed and bare forms merge.
		t.Fatalf("TotalGroups = %d, want 2", page.TotalGroups)
	}
	var merged *Conversation
	for i := range page.Conversations {
		if page.Conversations[i].Key == "61412345678" {
			merged = &page.Conversations[i]
		}
	}
	if merged == nil {
		t.Fatal("no group keyed 61412345678")
	}
	if len(merged.Messages) != 2 {
		t.Errorf("merged group has %d messages, want 2", len(merged.Messages))
	}
	if merged.Latest.Body != "hello back" {
		t.Errorf("latest = %q, want the outbound reply", merged.Latest.Body)
	}
}

func TestListOrdersByLatestActivityDesc(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+111", Body: "old", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+222", Body: "new", OccurredAt: 5000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+333", Body: "middle", OccurredAt: 3000})

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, c := range page.Conversations {
		keys = append(keys, c.Key)
	}
	want := []string{"222", "333", "111"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("order = %v, want %v", keys, want)
		}
	}
}

func TestLatestTieBreakPrefersOutbound(t *testing.T) {
	msgs := []store.RawMessage{
		{Direction: store.DirectionInbound, Body: "in", OccurredAt: 1000},
		{Direction: store.DirectionOutbound, Body: "out", OccurredAt: 1000},
	}
	if got := Latest(msgs); got.Body != "out" {
		t.Errorf("Latest = %q, want outbound row on timestamp tie", got.Body)
	}
	// Order of the slice must not affect the winner.
	msgs[0], msgs[1] = msgs[1], msgs[0]
	if got := Latest(msgs); got.Body != "out" {
		t.Errorf("Latest after swap = %q, want outbound row", got.Body)
	}
}

func TestEffectiveTimeFallsBackToCreatedAt(t *testing.T) {
	m := store.RawMessage{OccurredAt: 0, CreatedAt: 4200}
	if got := EffectiveTime(&m); got != 4200 {
		t.Errorf("EffectiveTime = %d, want 4200", got)
	}
	m.OccurredAt = 9000
	if got := EffectiveTime(&m); got != 9000 {
		t.Errorf("EffectiveTime = %d, want 9000", got)
	}
}

func TestListDropsLoneOutboundSends(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "+444", Body: "one-shot notification", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+555", Body: "real conversation", OccurredAt: 1000})

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 1 || page.Conversations[0].Key != "555" {
		t.Errorf("got %d groups, want only the inbound conversation", page.TotalGroups)
	}

	// A reply turns the lone send into a conversation.
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+444", Body: "reply", OccurredAt: 2000})
	page, err = p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 2 {
		t.Errorf("after reply TotalGroups = %d, want 2", page.TotalGroups)
	}
}

func TestUnreadCountsInboundOnly(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+777", Body: "a", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+777", Body: "b", OccurredAt: 2000, Status: store.StatusRead})
	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "+777", Body: "c", OccurredAt: 3000})

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Conversations[0].UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1", page.Conversations[0].UnreadCount)
	}
}

func TestDisplayNameFromContacts(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	if err := db.CreateContact(&store.Contact{Name: "Alice", Phone: "+61412345678"}); err != nil {
		t.Fatal(err)
	}
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "61412345678", Body: "hi", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+999", Body: "stranger", OccurredAt: 2000})

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range page.Conversations {
		switch c.Key {
		case "61412345678":
			if c.DisplayName != "Alice" {
				t.Errorf("DisplayName = %q, want Alice", c.DisplayName)
			}
		case "999":
			if c.DisplayName != "+999" {
				t.Errorf("DisplayName = %q, want raw phone fallback", c.DisplayName)
			}
		}
	}
}

func TestListFreeTextQuery(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+111", Body: "Invoice overdue", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+222", Body: "lunch?", OccurredAt: 2000})

	page, err := p.List(ListOptions{Query: "invoice"})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 1 || page.Conversations[0].Key != "111" {
		t.Errorf("query match = %+v, want only the invoice thread", page.Conversations)
	}

	// Query also matches on phone.
	page, err = p.List(ListOptions{Query: "222"})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 1 || page.Conversations[0].Key != "222" {
		t.Errorf("phone query = %+v, want the 222 thread", page.Conversations)
	}
}

func TestListPagination(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	for i := 0; i < 15; i++ {
		insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
			Phone: fmt.Sprintf("+1555%04d", i), Body: "m", OccurredAt: int64(1000 + i)})
	}

	page, err := p.List(ListOptions{Page: 1, PerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Conversations) != 10 || page.TotalGroups != 15 {
		t.Fatalf("page 1: got %d of %d, want 10 of 15", len(page.Conversations), page.TotalGroups)
	}

	page2, err := p.List(ListOptions{Page: 2, PerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(page2.Conversations) != 5 {
		t.Errorf("page 2: got %d, want 5", len(page2.Conversations))
	}
	if page2.Conversations[0].Key == page.Conversations[0].Key {
		t.Error("page 2 repeats page 1 content")
	}

	empty, err := p.List(ListOptions{Page: 99, PerPage: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(empty.Conversations) != 0 || empty.TotalGroups != 15 {
		t.Errorf("past-the-end page: got %d rows, total %d", len(empty.Conversations), empty.TotalGroups)
	}
}

func TestListArchivedExcludedByDefault(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+111", Body: "active", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+222", Body: "done", OccurredAt: 2000})

	if _, err := db.SetArchivedByPhoneVariants([]string{"+222", "222"}, 3000); err != nil {
		t.Fatal(err)
	}

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 1 || page.Conversations[0].Key != "111" {
		t.Errorf("default list = %+v, want archived thread hidden", page.Conversations)
	}

	page, err = p.List(ListOptions{IncludeArchived: true})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 2 {
		t.Errorf("IncludeArchived TotalGroups = %d, want 2", page.TotalGroups)
	}
}

func TestThreadAscendingAcrossSources(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "61412345678", Body: "second", OccurredAt: 2000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61412345678", Body: "first", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceAutoResponse, Direction: store.DirectionOutbound,
		Phone: "+61412345678", Body: "third", OccurredAt: 3000})

	msgs, err := p.Thread("+61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("thread has %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Body != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Body, want)
		}
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)
	tracker := NewReadStateTracker(db, nil, nil)

	a := insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61412345678", Body: "a", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "61412345678", Body: "b", OccurredAt: 2000})
	out := insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "+61412345678", Body: "c", Status: "sent", OccurredAt: 3000})

	n, err := tracker.MarkConversationRead("61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("marked %d rows, want 2 (inbound only)", n)
	}

	got, _ := db.GetRawMessage(store.SourceInbound, a.ID)
	if got.Status != store.StatusRead || !got.IsRead || got.ReadAt == 0 {
		t.Errorf("row not marked read: %+v", got)
	}
	outRow, _ := db.GetRawMessage(store.SourceOutbound, out.ID)
	if outRow.Status != "sent" {
		t.Errorf("outbound status mutated to %q", outRow.Status)
	}

	// Idempotent.
	n, err = tracker.MarkConversationRead("61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second mark touched %d rows, want 0", n)
	}
}

func TestMarkMessageReadFallsBackToSingleRow(t *testing.T) {
	db := testDB(t)
	tracker := NewReadStateTracker(db, nil, nil)

	// No digits in the phone: no group key, so only this row changes.
	m := insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "", Body: "orphan", OccurredAt: 1000})

	n, err := tracker.MarkMessageRead(store.SourceInbound, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("marked %d rows, want 1", n)
	}
	got, _ := db.GetRawMessage(store.SourceInbound, m.ID)
	if got.Status != store.StatusRead {
		t.Errorf("status = %q, want read", got.Status)
	}
}

func TestDeleteMessageRecordsTombstone(t *testing.T) {
	db := testDB(t)
	coord := NewDeletionCoordinator(db, nil, nil)

	m := insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+111", Body: "bye", ProviderMessageID: "SM9", OccurredAt: 1000})

	if err := coord.DeleteMessage(store.SourceInbound, m.ID); err != nil {
		t.Fatal(err)
	}
	gone, _ := db.GetRawMessage(store.SourceInbound, m.ID)
	if gone != nil {
		t.Error("row still present after delete")
	}
	dead, err := db.IsTombstoned("SM9")
	if err != nil {
		t.Fatal(err)
	}
	if !dead {
		t.Error("no tombstone recorded for deleted provider id")
	}

	// Deleting again is a no-op.
	if err := coord.DeleteMessage(store.SourceInbound, m.ID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestDeleteMessageWithoutProviderIDSkipsTombstone(t *testing.T) {
	db := testDB(t)
	coord := NewDeletionCoordinator(db, nil, nil)

	m := insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "+111", Body: "draft", OccurredAt: 1000})
	if err := coord.DeleteMessage(store.SourceOutbound, m.ID); err != nil {
		t.Fatal(err)
	}
	var count int64
	row := db.QueryRow(`SELECT COUNT(*) FROM tombstones`)
	if err := row.Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("tombstone count = %d, want 0 for local-only row", count)
	}
}

func TestDeleteConversationSpansSourcesAndFormats(t *testing.T) {
	db := testDB(t)
	coord := NewDeletionCoordinator(db, nil, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61412345678", Body: "a", ProviderMessageID: "SM1", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "61412345678", Body: "b", ProviderMessageID: "SM2", OccurredAt: 2000})
	keep := insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+999", Body: "unrelated", OccurredAt: 3000})

	deleted, errs, err := coord.DeleteConversation("+61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("per-row errors: %v", errs)
	}
	if deleted != 2 {
		t.Errorf("deleted %d rows, want 2", deleted)
	}
	for _, pid := range []string{"SM1", "SM2"} {
		dead, _ := db.IsTombstoned(pid)
		if !dead {
			t.Errorf("%s not tombstoned", pid)
		}
	}
	still, _ := db.GetRawMessage(store.SourceInbound, keep.ID)
	if still == nil {
		t.Error("unrelated conversation was deleted")
	}
}

func TestDeleteConversationByAnchorUnresolvablePhone(t *testing.T) {
	db := testDB(t)
	coord := NewDeletionCoordinator(db, nil, nil)

	a := insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "", Body: "x", ConversationID: "conv-odd", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "", Body: "y", ConversationID: "conv-odd", OccurredAt: 2000})

	deleted, errs, err := coord.DeleteConversationByAnchor(store.SourceInbound, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("per-row errors: %v", errs)
	}
	if deleted != 2 {
		t.Errorf("deleted %d rows, want the whole conversation-id group", deleted)
	}
}

func TestDeleteConversationReachesEveryPhoneFormatting(t *testing.T) {
	db := testDB(t)
	coord := NewDeletionCoordinator(db, nil, nil)
	p := NewProjector(db, nil)

	// Rows written with formatting outside the usual variant set must
	// still fall inside the group their digits project into.
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61 412 345 678", Body: "spaced", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "61412345678", Body: "bare", OccurredAt: 2000})

	deleted, errs, err := coord.DeleteConversation("61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 0 {
		t.Fatalf("per-row errors: %v", errs)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	page, err := p.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if page.TotalGroups != 0 {
		t.Errorf("TotalGroups = %d, want 0 after conversation delete", page.TotalGroups)
	}
}

func TestMarkConversationReadReachesEveryPhoneFormatting(t *testing.T) {
	db := testDB(t)
	tracker := NewReadStateTracker(db, nil, nil)

	spaced := insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61 412 345 678", Body: "spaced", OccurredAt: 1000})

	n, err := tracker.MarkConversationRead("61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("marked %d rows, want 1", n)
	}
	got, _ := db.GetRawMessage(store.SourceInbound, spaced.ID)
	if got.Status != store.StatusRead || !got.IsRead {
		t.Errorf("spaced-format row not marked read: %+v", got)
	}
}

func TestThreadIncludesEveryPhoneFormatting(t *testing.T) {
	db := testDB(t)
	p := NewProjector(db, nil)

	insert(t, db, store.RawMessage{Source: store.SourceInbound, Direction: store.DirectionInbound,
		Phone: "+61 412 345 678", Body: "spaced", OccurredAt: 1000})
	insert(t, db, store.RawMessage{Source: store.SourceOutbound, Direction: store.DirectionOutbound,
		Phone: "+61412345678", Body: "plussed", OccurredAt: 2000})

	msgs, err := p.Thread("61412345678")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("thread has %d messages, want 2", len(msgs))
	}
	if msgs[0].Body != "spaced" || msgs[1].Body != "plussed" {
		t.Errorf("thread order = %q, %q", msgs[0].Body, msgs[1].Body)
	}
}
