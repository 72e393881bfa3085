package wa

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/source"
	"github.com/tupski/wa-monitor/internal/status"
	"github.com/tupski/wa-monitor/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newHandler(t *testing.T) (*EventHandler, *bus.Bus, *status.Machine, *store.DB) {
	t.Helper()
	b := bus.New()
	m := status.NewMachine(b)
	db := testDB(t)
	return NewEventHandler(b, m, db, nil, zap.NewNop()), b, m, db
}

// walkTo transitions the machine through the given states sequentially.
func walkTo(t *testing.T, m *status.Machine, states ...status.State) {
	t.Helper()
	for _, s := range states {
		if err := m.Transition(s); err != nil {
			t.Fatalf("transition to %s failed: %v", s, err)
		}
	}
}

func waitKind(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
			return bus.Event{}
		}
	}
}

func liveText(id, chatUser, text string, ts time.Time) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        id,
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: chatUser, Server: types.DefaultUserServer},
				Sender: types.JID{User: chatUser, Server: types.DefaultUserServer},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestHandleConnectedFromPairing(t *testing.T) {
	h, b, m, _ := newHandler(t)
	walkTo(t, m, status.Pairing)

	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	h.Handle(&events.Connected{})

	if m.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
	waitKind(t, ch, bus.KindSessionConnected)
	evt := waitKind(t, ch, bus.KindSourceReady)
	if _, ok := evt.Payload.(source.Ready); !ok {
		t.Errorf("payload = %T, want source.Ready", evt.Payload)
	}
}

func TestHandleConnectedFromDisconnected(t *testing.T) {
	h, _, m, _ := newHandler(t)
	walkTo(t, m, status.Connecting, status.Connected, status.Disconnected)

	h.Handle(&events.Connected{})

	if m.Current() != status.Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
}

func TestHandleDisconnected(t *testing.T) {
	h, b, m, _ := newHandler(t)
	walkTo(t, m, status.Connecting, status.Connected)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	h.Handle(&events.Disconnected{})

	if m.Current() != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.Current())
	}
	waitKind(t, ch, bus.KindSessionDisconnected)
}

func TestHandleLoggedOut(t *testing.T) {
	h, b, m, _ := newHandler(t)
	walkTo(t, m, status.Connecting, status.Connected)

	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	h.Handle(&events.LoggedOut{})

	if m.Current() != status.LoggedOut {
		t.Errorf("state = %s, want LOGGED_OUT", m.Current())
	}
	waitKind(t, ch, bus.KindSessionLoggedOut)
}

func TestHandleMessageBuffersAndPublishes(t *testing.T) {
	h, b, _, db := newHandler(t)

	ch, unsub := b.Subscribe("wa.message", 10)
	defer unsub()

	ts := time.Unix(1700000000, 0)
	h.Handle(liveText("m1", "558592403672", "hello", ts))

	evt := waitKind(t, ch, bus.KindSourceMessage)
	in, ok := evt.Payload.(source.Incoming)
	if !ok {
		t.Fatalf("payload = %T, want source.Incoming", evt.Payload)
	}
	if in.Message.ID != "m1" || in.Message.BodyText() != "hello" || in.Message.Timestamp != ts.Unix() {
		t.Errorf("message = %+v", in.Message)
	}

	row, err := db.GetMessage("558592403672@s.whatsapp.net", "m1")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("message not buffered")
	}
	if len(row.Raw) == 0 {
		t.Error("raw payload not buffered")
	}
}

func TestLiveMessageWithDeviceSuffixNormalized(t *testing.T) {
	h, b, _, _ := newHandler(t)

	ch, unsub := b.Subscribe("wa.message", 10)
	defer unsub()

	h.Handle(&events.Message{
		Info: types.MessageInfo{
			ID:        "m1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1},
				Sender: types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	})

	in := waitKind(t, ch, bus.KindSourceMessage).Payload.(source.Incoming)
	if in.Message.ConversationID != "558592403672@s.whatsapp.net" {
		t.Errorf("ConversationID = %q (device suffix not stripped)", in.Message.ConversationID)
	}
	if in.Message.SenderID != "558592403672@s.whatsapp.net" {
		t.Errorf("SenderID = %q (device suffix not stripped)", in.Message.SenderID)
	}
}

func TestHandleRevokeCarriesBuffered(t *testing.T) {
	h, b, _, _ := newHandler(t)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(liveText("orig", "111", "secret", time.Unix(100, 0)))
	waitKind(t, ch, bus.KindSourceMessage)

	revoke := liveText("rev", "111", "", time.Unix(200, 0))
	revoke.Message = &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		Key:  &waCommon.MessageKey{ID: proto.String("orig")},
	}}
	h.Handle(revoke)

	rev, ok := waitKind(t, ch, bus.KindSourceRevokeEveryone).Payload.(source.EveryoneRevocation)
	if !ok {
		t.Fatal("payload is not source.EveryoneRevocation")
	}
	if rev.Before == nil || rev.Before.BodyText() != "secret" {
		t.Errorf("Before = %+v, want buffered original", rev.Before)
	}
	if rev.After.ID != "orig" || rev.After.DeletedScope != chat.ScopeEveryone || !rev.After.Deleted {
		t.Errorf("After = %+v", rev.After)
	}
}

func TestHandleRevokeUnknownMessage(t *testing.T) {
	h, b, _, _ := newHandler(t)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	revoke := liveText("rev", "111", "", time.Unix(200, 0))
	revoke.Message = &waE2E.Message{ProtocolMessage: &waE2E.ProtocolMessage{
		Type: waE2E.ProtocolMessage_REVOKE.Enum(),
		Key:  &waCommon.MessageKey{ID: proto.String("ghost")},
	}}
	h.Handle(revoke)

	rev := waitKind(t, ch, bus.KindSourceRevokeEveryone).Payload.(source.EveryoneRevocation)
	if rev.Before != nil {
		t.Errorf("Before = %+v, want nil", rev.Before)
	}
	if rev.After.ConversationID != "111@s.whatsapp.net" {
		t.Errorf("ConversationID = %q", rev.After.ConversationID)
	}
}

func TestHandleDeleteForMe(t *testing.T) {
	h, b, _, _ := newHandler(t)

	ch, unsub := b.Subscribe("wa.", 10)
	defer unsub()

	h.Handle(&events.DeleteForMe{
		ChatJID:   types.JID{User: "111", Server: types.DefaultUserServer},
		SenderJID: types.JID{User: "111", Server: types.DefaultUserServer, Device: 2},
		MessageID: "m9",
		Timestamp: time.Unix(300, 0),
	})

	rev, ok := waitKind(t, ch, bus.KindSourceRevokeMe).Payload.(source.SelfRevocation)
	if !ok {
		t.Fatal("payload is not source.SelfRevocation")
	}
	if rev.ConversationID != "111@s.whatsapp.net" || rev.MessageID != "m9" || rev.SenderID != "111@s.whatsapp.net" || rev.Timestamp != 300 {
		t.Errorf("revocation = %+v", rev)
	}
}

func TestHandleHistorySync(t *testing.T) {
	h, _, _, db := newHandler(t)

	msgTS := uint64(1700000000)
	h.Handle(&events.HistorySync{
		Data: &waHistorySync.HistorySync{
			Conversations: []*waHistorySync.Conversation{
				{
					ID:   proto.String("558592403672:2@s.whatsapp.net"),
					Name: proto.String("Eric"),
					Messages: []*waHistorySync.HistorySyncMsg{
						{
							Message: &waWeb.WebMessageInfo{
								Key: &waCommon.MessageKey{
									ID:        proto.String("hm1"),
									FromMe:    proto.Bool(false),
									RemoteJID: proto.String("558592403672@s.whatsapp.net"),
								},
								MessageTimestamp: &msgTS,
								Message:          &waE2E.Message{Conversation: proto.String("test msg")},
							},
						},
						{Message: &waWeb.WebMessageInfo{}},
					},
				},
			},
		},
	})

	c, err := db.GetChat("558592403672@s.whatsapp.net")
	if err != nil {
		t.Fatal(err)
	}
	if c == nil || c.Name != "Eric" {
		t.Fatalf("chat = %+v, want Eric (device suffix stripped)", c)
	}

	msgs, err := db.ListMessagesBefore("558592403672@s.whatsapp.net", 0, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Body == nil || *msgs[0].Body != "test msg" {
		t.Errorf("body = %v", msgs[0].Body)
	}
}

func TestHandleHistorySyncNilData(t *testing.T) {
	h, _, _, db := newHandler(t)
	h.Handle(&events.HistorySync{Data: nil})
	if n, _ := db.MessageCount(); n != 0 {
		t.Errorf("message count = %d, want 0", n)
	}
}

func TestCallLifecycle(t *testing.T) {
	tests := []struct {
		name     string
		video    bool
		accepted bool
		want     string
		status   chat.CallStatus
	}{
		{"missed voice", false, false, "missed voice call", chat.CallMissed},
		{"answered video", true, true, "video call", chat.CallIncoming},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, b, _, _ := newHandler(t)
			ch, unsub := b.Subscribe("wa.message", 10)
			defer unsub()

			caller := types.JID{User: "222", Server: types.DefaultUserServer}
			meta := types.BasicCallMeta{From: caller, CallCreator: caller, CallID: "c1", Timestamp: time.Unix(500, 0)}
			if tt.video {
				h.Handle(&events.CallOfferNotice{BasicCallMeta: meta, Media: "video"})
			} else {
				h.Handle(&events.CallOffer{BasicCallMeta: meta})
			}
			if tt.accepted {
				h.Handle(&events.CallAccept{BasicCallMeta: meta})
			}
			h.Handle(&events.CallTerminate{BasicCallMeta: meta, Reason: "timeout"})

			in := waitKind(t, ch, bus.KindSourceMessage).Payload.(source.Incoming)
			if in.Message.Type != chat.KindCallLog || in.Message.BodyText() != tt.want {
				t.Errorf("message = %q %q", in.Message.Type, in.Message.BodyText())
			}
			log, ok := chat.CallLogFrom(in.Message)
			if !ok || log.Status != tt.status || log.IsVideo != tt.video {
				t.Errorf("call log = %+v", log)
			}
		})
	}
}

func TestResolveJIDWithNilAdapter(t *testing.T) {
	h, _, _, _ := newHandler(t)

	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"3917077286968@lid", "3917077286968@lid"},
	}
	for _, tt := range tests {
		if got := h.resolveJID(tt.input); got != tt.want {
			t.Errorf("resolveJID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResolveLIDNonLIDPassthrough(t *testing.T) {
	a := &Adapter{}
	regular := types.JID{User: "558592403672", Server: "s.whatsapp.net"}
	if got := a.ResolveLID(context.Background(), regular); got != regular {
		t.Errorf("ResolveLID(regular) = %v, want %v", got, regular)
	}
	lid := types.JID{User: "3917077286968", Server: types.HiddenUserServer}
	if got := a.ResolveLID(context.Background(), lid); got != lid {
		t.Errorf("ResolveLID(lid, nil store) = %v, want %v", got, lid)
	}
}

func TestNewQR(t *testing.T) {
	qr := NewQR("2@abc,def,ghi")
	if qr.Code != "2@abc,def,ghi" {
		t.Errorf("Code = %q", qr.Code)
	}
	if len(qr.DataURL) < 30 || qr.DataURL[:22] != "data:image/png;base64," {
		t.Errorf("DataURL = %.40q", qr.DataURL)
	}
	if RenderTerminal("hello") == "" {
		t.Error("RenderTerminal() returned empty string")
	}
}
