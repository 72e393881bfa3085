// Package source defines the capability the sync core consumes from a
// messaging client, and the events that client publishes on the bus.
package source

import (
	"context"
	"errors"

	"github.com/tupski/wa-monitor/internal/chat"
)

// ErrNoMedia is returned by DownloadMessageMedia when the message has nothing to download.
var ErrNoMedia = errors.New("message has no downloadable media")

// ErrUnknownContact is returned by Directory.ContactInfo when no store knows the id.
var ErrUnknownContact = errors.New("unknown contact")

// Cursor positions a history fetch. The zero Cursor starts at the newest message.
type Cursor struct {
	BeforeTimestamp int64
	BeforeID        string
}

// IsZero reports whether c starts at the head of history.
func (c Cursor) IsZero() bool {
	return c.BeforeTimestamp == 0 && c.BeforeID == ""
}

// NextCursor returns the cursor that continues after the oldest message of batch.
func NextCursor(batch []chat.Message) Cursor {
	if len(batch) == 0 {
		return Cursor{}
	}
	oldest := batch[0]
	for _, m := range batch[1:] {
		if m.Timestamp < oldest.Timestamp || (m.Timestamp == oldest.Timestamp && m.ID < oldest.ID) {
			oldest = m
		}
	}
	return Cursor{BeforeTimestamp: oldest.Timestamp, BeforeID: oldest.ID}
}

// Blob is downloaded media content.
type Blob struct {
	Data     []byte
	MimeType string
}

// MessageSource is the pull side of a messaging client.
type MessageSource interface {
	// ListConversations returns every conversation in the order the client knows them.
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	// FetchMessageBatch returns up to limit messages older than cursor, newest first.
	FetchMessageBatch(ctx context.Context, conversationID string, limit int, cursor Cursor) ([]chat.Message, error)
	// DownloadMessageMedia fetches and decrypts the media attached to msg.
	DownloadMessageMedia(ctx context.Context, msg chat.Message) (Blob, error)
	// ProfileImageURL returns the avatar URL of a contact, or "" when there is none.
	ProfileImageURL(ctx context.Context, contactID string) (string, error)
}

// Directory is implemented by sources that can describe accounts.
type Directory interface {
	// ContactInfo describes a contact, or returns ErrUnknownContact.
	ContactInfo(ctx context.Context, contactID string) (chat.Contact, error)
	// SelfInfo describes the logged-in account.
	SelfInfo(ctx context.Context) (chat.Contact, error)
}

// Incoming is published under bus.KindSourceMessage for each live message.
type Incoming struct {
	Message chat.Message
}

// SelfRevocation is published under bus.KindSourceRevokeMe when a message is
// deleted from the local device only.
type SelfRevocation struct {
	ConversationID string
	MessageID      string
	SenderID       string
	FromMe         bool
	Timestamp      int64
}

// EveryoneRevocation is published under bus.KindSourceRevokeEveryone. Before
// is the original content when the client still had it.
type EveryoneRevocation struct {
	Before *chat.Message
	After  chat.Message
}

// Ready is published under bus.KindSourceReady once the client is connected
// and able to serve history.
type Ready struct{}
