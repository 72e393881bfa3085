package chat

import "testing"

func TestCallLogFrom(t *testing.T) {
	tests := []struct {
		name   string
		msg    Message
		ok     bool
		video  bool
		status CallStatus
	}{
		{"not a call", Message{Type: KindChat, Body: Text("hi")}, false, false, ""},
		{"missed voice", Message{Type: KindCallLog, Body: Text("Missed voice call")}, true, false, CallMissed},
		{"outgoing video", Message{Type: KindCallLog, FromMe: true, Body: Text("Video call")}, true, true, CallOutgoing},
		{"incoming no body", Message{Type: KindCallLog}, true, false, CallIncoming},
		{"missed wins over fromMe", Message{Type: KindCallLog, FromMe: true, Body: Text("missed video call")}, true, true, CallMissed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, ok := CallLogFrom(tt.msg)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if log.IsVideo != tt.video {
				t.Errorf("IsVideo = %v, want %v", log.IsVideo, tt.video)
			}
			if log.Status != tt.status {
				t.Errorf("Status = %q, want %q", log.Status, tt.status)
			}
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	msgs := []Message{{ID: "a", Timestamp: 1}, {ID: "b", Timestamp: 3}, {ID: "c", Timestamp: 2}}
	SortNewestFirst(msgs)
	got := msgs[0].ID + msgs[1].ID + msgs[2].ID
	if got != "bca" {
		t.Errorf("order = %s, want bca", got)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	m := Message{ID: "x"}.Normalize()
	if m.Type != KindChat || m.DeletedScope != ScopeNone {
		t.Errorf("Normalize = %+v", m)
	}
}

func TestConversationLabel(t *testing.T) {
	if got := (Conversation{ID: "123@s.whatsapp.net"}).Label(); got != "123@s.whatsapp.net" {
		t.Errorf("Label = %q", got)
	}
	if got := (Conversation{ID: "1", Name: "Alice"}).Label(); got != "Alice" {
		t.Errorf("Label = %q", got)
	}
}
