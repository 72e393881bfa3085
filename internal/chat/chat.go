// Package chat holds the data model shared by the sync core: conversations,
// messages, media descriptors and call logs.
package chat

import (
	"sort"
	"strings"
)

// Kind tags what a message carries.
type Kind string

const (
	KindChat     Kind = "chat"
	KindCallLog  Kind = "call_log"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
	KindDocument Kind = "document"
	KindViewOnce Kind = "view_once"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
)

// DeletionScope records who a message was deleted for.
type DeletionScope string

const (
	ScopeNone     DeletionScope = "none"
	ScopeMe       DeletionScope = "me"
	ScopeEveryone DeletionScope = "everyone"
)

// RemovedPlaceholder is the body stored for a revocation whose original
// content was never seen.
const RemovedPlaceholder = "message removed"

// Conversation is a single chat or group thread.
type Conversation struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	IsGroup       bool   `json:"isGroup"`
	LastMessageAt int64  `json:"lastMessageAt,omitempty"`
	LastPreview   string `json:"lastPreview,omitempty"`
}

// Label is the human-readable name used in progress reports.
func (c Conversation) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Contact is what the client knows about one account. ProfilePicture is
// set when an avatar has been cached.
type Contact struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	PushName       string `json:"pushName,omitempty"`
	BusinessName   string `json:"businessName,omitempty"`
	Status         string `json:"status,omitempty"`
	IsMe           bool   `json:"isMe"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// DisplayName prefers the saved name over the one the contact chose.
func (c Contact) DisplayName() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.PushName != "":
		return c.PushName
	case c.BusinessName != "":
		return c.BusinessName
	}
	return c.ID
}

// Media describes a file persisted for a message.
type Media struct {
	MimeType string `json:"mimeType"`
	Path     string `json:"path"`
}

// Message is one entry of a conversation's history. Body and Media are
// nil when unknown, which is distinct from an empty body.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	FromMe         bool          `json:"fromMe"`
	Timestamp      int64         `json:"timestamp"`
	Body           *string       `json:"body"`
	Media          *Media        `json:"media"`
	HasMedia       bool          `json:"hasMedia"`
	Type           Kind          `json:"type"`
	Deleted        bool          `json:"deleted"`
	DeletedScope   DeletionScope `json:"deletedScope"`
}

// Text returns a pointer to s for use as a message body.
func Text(s string) *string {
	return &s
}

// BodyText returns the body or "" when it is unknown.
func (m Message) BodyText() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

// Normalize fills zero-valued tags with their defaults.
func (m Message) Normalize() Message {
	if m.Type == "" {
		m.Type = KindChat
	}
	if m.DeletedScope == "" {
		m.DeletedScope = ScopeNone
	}
	return m
}

// SortNewestFirst orders messages by descending timestamp. Ties keep their
// relative order.
func SortNewestFirst(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp > msgs[j].Timestamp
	})
}

// CallStatus classifies a call log entry.
type CallStatus string

const (
	CallMissed   CallStatus = "missed"
	CallOutgoing CallStatus = "outgoing"
	CallIncoming CallStatus = "incoming"
)

// CallLog is a call entry derived from a call-log message.
type CallLog struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	From           string     `json:"from"`
	Timestamp      int64      `json:"timestamp"`
	IsVideo        bool       `json:"isVideo"`
	Status         CallStatus `json:"status"`
}

// CallLogFrom derives a call log from a call-log message. ok is false for
// any other message kind.
func CallLogFrom(m Message) (CallLog, bool) {
	if m.Type != KindCallLog {
		return CallLog{}, false
	}
	body := strings.ToLower(m.BodyText())
	status := CallIncoming
	switch {
	case strings.Contains(body, "missed"):
		status = CallMissed
	case m.FromMe:
		status = CallOutgoing
	}
	return CallLog{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		From:           m.SenderID,
		Timestamp:      m.Timestamp,
		IsVideo:        strings.Contains(body, "video"),
		Status:         status,
	}, true
}
