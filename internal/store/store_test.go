package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func text(s string) *string { return &s }

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + media_requests)", result.Version)
	}
	if result.Dirty {
		t.Error("migration left the database dirty")
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}

	result, err := db.Migrate()
	if !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("Migrate() error = %v, want ErrDirtySchema", err)
	}
	if result == nil || !result.Dirty || result.Version != 2 {
		t.Errorf("result = %+v, want dirty version 2", result)
	}
}

func TestOpenConfiguresConnection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wamon.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	var mode string
	var fk, timeout int
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" || fk != 1 || timeout != int(busyTimeout.Milliseconds()) {
		t.Errorf("journal_mode=%s foreign_keys=%d busy_timeout=%d", mode, fk, timeout)
	}
}

func TestCloseCheckpointsWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wamon.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if info, err := os.Stat(path + "-wal"); err == nil && info.Size() > 0 {
		t.Errorf("wal still holds %d bytes after Close", info.Size())
	}
}

func TestChatUpsertKeepsKnownName(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertChat(&Chat{JID: "123@s.whatsapp.net", Name: "Alice", LastMessageAt: 1000, LastMessagePreview: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertChat(&Chat{JID: "123@s.whatsapp.net", LastMessageAt: 500, LastMessagePreview: "older"}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetChat("123@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" {
		t.Errorf("name = %q, want Alice", c.Name)
	}
	if c.LastMessageAt != 1000 || c.LastMessagePreview != "hello" {
		t.Errorf("last message went backwards: %+v", c)
	}
}

func TestListChatsOrderAndNames(t *testing.T) {
	db := testDB(t)

	for _, c := range []Chat{
		{JID: "a@s.whatsapp.net", LastMessageAt: 10},
		{JID: "b@s.whatsapp.net", Name: "Bob", LastMessageAt: 30},
		{JID: "x@lid", LastMessageAt: 40},
		{JID: "g@g.us", Name: "Group", IsGroup: true, LastMessageAt: 20},
	} {
		c := c
		if err := db.UpsertChat(&c); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.UpsertContact(&Contact{JID: "a@s.whatsapp.net", PushName: "Ann"}); err != nil {
		t.Fatal(err)
	}

	chats, err := db.ListChats(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 3 {
		t.Fatalf("got %d chats, want 3 (LID chats hidden)", len(chats))
	}
	want := []string{"Bob", "Group", "Ann"}
	for i, name := range want {
		if chats[i].Name != name {
			t.Errorf("chats[%d].Name = %q, want %q", i, chats[i].Name, name)
		}
	}
	if !chats[1].IsGroup {
		t.Error("group flag lost")
	}
}

func TestGetChatMissing(t *testing.T) {
	db := testDB(t)
	c, err := db.GetChat("missing@s")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil for missing chat")
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ChatJID: "chat@s", MsgID: "msg1", Body: text("hello"), MessageType: "chat", Timestamp: 1000, Raw: []byte{1, 2}}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Body = text("hello updated")
	msg.Raw = nil
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessagesBefore("chat@s", 0, "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if *msgs[0].Body != "hello updated" {
		t.Errorf("body = %q, want hello updated", *msgs[0].Body)
	}

	full, err := db.GetMessage("chat@s", "msg1")
	if err != nil {
		t.Fatal(err)
	}
	if len(full.Raw) != 2 {
		t.Errorf("raw payload lost on re-upsert: %v", full.Raw)
	}

	c, err := db.GetChat("chat@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.LastMessagePreview != "hello updated" {
		t.Errorf("chat not touched: %+v", c)
	}
}

func TestMessageNullBody(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(&Message{ChatJID: "c", MsgID: "m", MessageType: "image", HasMedia: true, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	m, err := db.GetMessage("c", "m")
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != nil {
		t.Errorf("body = %q, want nil", *m.Body)
	}
	if !m.HasMedia {
		t.Error("has_media lost")
	}

	missing, err := db.GetMessage("c", "nope")
	if err != nil || missing != nil {
		t.Errorf("GetMessage(missing) = %v, %v", missing, err)
	}
}

func TestListMessagesBeforeKeyset(t *testing.T) {
	db := testDB(t)

	var batch []*Message
	for _, m := range []struct {
		id string
		ts int64
	}{{"a", 1}, {"b", 2}, {"c", 2}, {"d", 3}, {"e", 4}} {
		batch = append(batch, &Message{ChatJID: "c", MsgID: m.id, MessageType: "chat", Timestamp: m.ts})
	}
	if err := db.IngestHistory(batch); err != nil {
		t.Fatal(err)
	}

	var got []string
	var ts int64
	var id string
	for {
		page, err := db.ListMessagesBefore("c", ts, id, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, m := range page {
			got = append(got, m.MsgID)
		}
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		ts, id = last.Timestamp, last.MsgID
	}

	want := "edcba"
	joined := ""
	for _, s := range got {
		joined += s
	}
	if joined != want {
		t.Errorf("paged order = %s, want %s", joined, want)
	}
}

func TestContact(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertContact(&Contact{JID: "j@s", Name: "John", PushName: "Johnny"}); err != nil {
		t.Fatal(err)
	}
	if err := db.BulkUpsertContacts([]Contact{{JID: "j@s"}, {JID: "k@s", Name: "Kim"}}); err != nil {
		t.Fatal(err)
	}
	c, err := db.GetContact("j@s")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "John" || c.PushName != "Johnny" {
		t.Errorf("got %+v, want John/Johnny kept", c)
	}
}

func TestState(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.GetState("history.chunks"); err != nil || ok {
		t.Fatalf("GetState(unset) = ok=%v err=%v", ok, err)
	}
	if err := db.SetState("history.chunks", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("history.chunks", "2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.GetState("history.chunks")
	if err != nil || !ok || v != "2" {
		t.Errorf("GetState = %q, %v, %v", v, ok, err)
	}
}

func TestReconcileLIDs(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ChatJID: "111@lid", MsgID: "m1", SenderJID: "111@lid", Body: text("from lid"), MessageType: "chat", Timestamp: 5}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatJID: "111@lid", MsgID: "dup", Body: text("lid copy"), MessageType: "chat", Timestamp: 4}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ChatJID: "628@s.whatsapp.net", MsgID: "dup", Body: text("pn copy"), MessageType: "chat", Timestamp: 4}); err != nil {
		t.Fatal(err)
	}
	if err := db.SyncLIDMap([]LIDMapping{{LID: "111", PN: "628"}}); err != nil {
		t.Fatal(err)
	}

	merged, err := db.ReconcileLIDs()
	if err != nil {
		t.Fatal(err)
	}
	if merged != 1 {
		t.Errorf("merged = %d, want 1", merged)
	}

	msgs, err := db.ListMessagesBefore("628@s.whatsapp.net", 0, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages under PN chat, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.MsgID == "dup" && *m.Body != "pn copy" {
			t.Errorf("duplicate resolved to %q, want pn copy", *m.Body)
		}
		if m.MsgID == "m1" && m.SenderJID != "628@s.whatsapp.net" {
			t.Errorf("sender = %q, want mapped PN", m.SenderJID)
		}
	}

	if c, _ := db.GetChat("111@lid"); c != nil {
		t.Error("LID chat still present")
	}
	if n, _ := db.MessageCount(); n != 2 {
		t.Errorf("message count = %d, want 2", n)
	}
}

func TestMediaRequestLifecycle(t *testing.T) {
	db := testDB(t)

	r, err := db.QueueMediaRequest("c", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != MediaQueued {
		t.Fatalf("status = %q, want queued", r.Status)
	}

	again, err := db.QueueMediaRequest("c", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != r.ID {
		t.Error("duplicate request created a second row")
	}

	claimed, err := db.ClaimMediaRequests(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].Status != MediaDownloading || claimed[0].Attempts != 1 {
		t.Fatalf("claimed = %+v", claimed)
	}

	if r, _ := db.QueueMediaRequest("c", "m1"); r.Status != MediaDownloading {
		t.Errorf("in-flight request re-queued: %q", r.Status)
	}
	if next, _ := db.ClaimMediaRequests(10); len(next) != 0 {
		t.Errorf("claimed in-flight request twice")
	}

	if err := db.MarkMediaFailed(r.ID, "expired"); err != nil {
		t.Fatal(err)
	}
	failed, _ := db.GetMediaRequest("c", "m1")
	if failed.Status != MediaFailed || failed.ErrorMessage != "expired" {
		t.Errorf("after failure = %+v", failed)
	}

	requeued, err := db.QueueMediaRequest("c", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if requeued.Status != MediaQueued || requeued.ErrorMessage != "" {
		t.Errorf("failed request not re-queued: %+v", requeued)
	}

	claimed, _ = db.ClaimMediaRequests(10)
	if err := db.MarkMediaDone(claimed[0].ID, "c/1-m1.jpg"); err != nil {
		t.Fatal(err)
	}
	done, _ := db.GetMediaRequest("c", "m1")
	if done.Status != MediaDone || done.MediaPath != "c/1-m1.jpg" || done.Attempts != 2 {
		t.Errorf("after done = %+v", done)
	}
}

func TestRequeueStaleMediaRequests(t *testing.T) {
	db := testDB(t)
	if _, err := db.QueueMediaRequest("c", "m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ClaimMediaRequests(1); err != nil {
		t.Fatal(err)
	}
	n, err := db.RequeueStaleMediaRequests()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("requeued = %d, want 1", n)
	}
}
