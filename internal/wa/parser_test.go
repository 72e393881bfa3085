package wa

import (
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/tupski/wa-monitor/internal/chat"
)

func TestExtractTextBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
		null bool
	}{
		{"nil message", nil, "", true},
		{"conversation", &waE2E.Message{Conversation: proto.String("hello")}, "hello", false},
		{"extended text", &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("extended")}}, "extended", false},
		{"image caption", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look")}}, "look", false},
		{"image (no text)", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, "", true},
		{"named location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{Name: proto.String("Cafe")}}, "Cafe", false},
		{"bare location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{DegreesLatitude: proto.Float64(1.5), DegreesLongitude: proto.Float64(-2)}}, "1.500000,-2.000000", false},
		{"empty conversation", &waE2E.Message{Conversation: proto.String("")}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTextBody(tt.msg)
			if tt.null {
				if got != nil {
					t.Errorf("extractTextBody() = %q, want nil", *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("extractTextBody() = %v, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectMessageType(t *testing.T) {
	tests := []struct {
		name string
		msg  *waE2E.Message
		want chat.Kind
	}{
		{"nil", nil, chat.KindChat},
		{"text conversation", &waE2E.Message{Conversation: proto.String("hi")}, chat.KindChat},
		{"image", &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}, chat.KindImage},
		{"video", &waE2E.Message{VideoMessage: &waE2E.VideoMessage{}}, chat.KindVideo},
		{"audio", &waE2E.Message{AudioMessage: &waE2E.AudioMessage{}}, chat.KindAudio},
		{"document", &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{}}, chat.KindDocument},
		{"sticker", &waE2E.Message{StickerMessage: &waE2E.StickerMessage{}}, chat.KindSticker},
		{"location", &waE2E.Message{LocationMessage: &waE2E.LocationMessage{}}, chat.KindLocation},
		{"contact", &waE2E.Message{ContactMessage: &waE2E.ContactMessage{}}, chat.KindChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMessageType(tt.msg); got != tt.want {
				t.Errorf("detectMessageType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUnwrapViewOnce(t *testing.T) {
	msg := &waE2E.Message{
		EphemeralMessage: &waE2E.FutureProofMessage{
			Message: &waE2E.Message{
				ViewOnceMessageV2: &waE2E.FutureProofMessage{
					Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")}},
				},
			},
		},
	}
	inner, viewOnce := unwrap(msg)
	if !viewOnce {
		t.Error("viewOnce = false, want true")
	}
	if inner.GetImageMessage() == nil {
		t.Fatal("image not unwrapped")
	}

	p := parseContent(inner, viewOnce)
	if p.Kind != chat.KindViewOnce {
		t.Errorf("Kind = %q, want view_once", p.Kind)
	}
	if !p.HasMedia || p.MimeType != "image/jpeg" {
		t.Errorf("media = %v %q", p.HasMedia, p.MimeType)
	}
	if len(p.Raw) == 0 {
		t.Error("raw payload not kept")
	}
}

func TestParseLiveMessage(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	evt := &events.Message{
		Info: types.MessageInfo{
			PushName:  "Alice",
			Timestamp: ts,
			MessageSource: types.MessageSource{
				Chat:     types.JID{User: "chat", Server: "s.whatsapp.net"},
				Sender:   types.JID{User: "sender", Server: "s.whatsapp.net"},
				IsFromMe: true,
			},
			ID: "MSG123",
		},
		Message: &waE2E.Message{Conversation: proto.String("hello world")},
	}

	parsed := ParseLiveMessage(evt)

	if parsed.ChatJID != "chat@s.whatsapp.net" {
		t.Errorf("ChatJID = %q", parsed.ChatJID)
	}
	if parsed.MsgID != "MSG123" {
		t.Errorf("MsgID = %q", parsed.MsgID)
	}
	if parsed.SenderName != "Alice" {
		t.Errorf("SenderName = %q", parsed.SenderName)
	}
	if parsed.Body == nil || *parsed.Body != "hello world" {
		t.Errorf("Body = %v", parsed.Body)
	}
	if parsed.Kind != chat.KindChat {
		t.Errorf("Kind = %q, want chat", parsed.Kind)
	}
	if !parsed.FromMe {
		t.Error("FromMe = false, want true")
	}
	if parsed.Timestamp != ts.Unix() {
		t.Errorf("Timestamp = %d, want %d (seconds)", parsed.Timestamp, ts.Unix())
	}
}

func TestParseLiveMessageStripsDeviceSuffix(t *testing.T) {
	evt := &events.Message{
		Info: types.MessageInfo{
			ID:        "M1",
			Timestamp: time.Now(),
			MessageSource: types.MessageSource{
				Chat:   types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 1},
				Sender: types.JID{User: "558592403672", Server: "s.whatsapp.net", Device: 3},
			},
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	}

	parsed := ParseLiveMessage(evt)
	if parsed.ChatJID != "558592403672@s.whatsapp.net" {
		t.Errorf("ChatJID = %q, want 558592403672@s.whatsapp.net", parsed.ChatJID)
	}
	if parsed.SenderJID != "558592403672@s.whatsapp.net" {
		t.Errorf("SenderJID = %q, want 558592403672@s.whatsapp.net", parsed.SenderJID)
	}
}

func TestParseHistoryMessage(t *testing.T) {
	ts := uint64(1700000000)
	wmi := &waWeb.WebMessageInfo{
		Key: &waCommon.MessageKey{
			ID:        proto.String("hm1"),
			FromMe:    proto.Bool(false),
			RemoteJID: proto.String("123@s.whatsapp.net"),
		},
		MessageTimestamp: &ts,
		Message:          &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{Mimetype: proto.String("application/pdf")}},
		PushName:         proto.String("Eric"),
	}

	p := ParseHistoryMessage("123@s.whatsapp.net", wmi)
	if p == nil {
		t.Fatal("ParseHistoryMessage() = nil")
	}
	if p.SenderJID != "123@s.whatsapp.net" {
		t.Errorf("SenderJID = %q, want chat JID for 1:1 incoming", p.SenderJID)
	}
	if p.Timestamp != 1700000000 {
		t.Errorf("Timestamp = %d", p.Timestamp)
	}
	if p.Kind != chat.KindDocument || !p.HasMedia {
		t.Errorf("Kind = %q HasMedia = %v", p.Kind, p.HasMedia)
	}

	if ParseHistoryMessage("x", &waWeb.WebMessageInfo{}) != nil {
		t.Error("empty history entry should be skipped")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	p := &ParsedMessage{
		ChatJID:   "chat@s",
		MsgID:     "m1",
		SenderJID: "sender@s",
		Kind:      chat.KindImage,
		HasMedia:  true,
		MimeType:  "image/png",
		Timestamp: 42,
	}

	m := p.ToChatMessage()
	if m.ID != "m1" || m.ConversationID != "chat@s" || m.Type != chat.KindImage || !m.HasMedia {
		t.Errorf("ToChatMessage() = %+v", m)
	}
	if m.Body != nil {
		t.Error("Body should stay nil")
	}
	if m.DeletedScope != chat.ScopeNone {
		t.Errorf("DeletedScope = %q, want none", m.DeletedScope)
	}
}

// TestNormalizeJID verifies that device/agent suffixes are stripped so the
// same contact never produces two chats.
func TestNormalizeJID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"558592403672@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:0@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"558592403672:5@s.whatsapp.net", "558592403672@s.whatsapp.net"},
		{"120363123456@g.us", "120363123456@g.us"},
		{"", ""},
		{"3917077286968@lid", "3917077286968@lid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeJID(tt.input); got != tt.want {
				t.Errorf("NormalizeJID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
