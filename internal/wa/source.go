package wa

import (
	"context"
	"errors"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/source"
)

var _ source.MessageSource = (*Adapter)(nil)

// ListConversations returns the buffered chats, most recent first.
func (a *Adapter) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	chats, err := a.db.ListChats(0, 0)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	convs := make([]chat.Conversation, 0, len(chats))
	for _, c := range chats {
		convs = append(convs, chat.Conversation{
			ID:            c.JID,
			Name:          c.Name,
			IsGroup:       c.IsGroup,
			LastMessageAt: c.LastMessageAt,
			LastPreview:   c.LastMessagePreview,
		})
	}
	return convs, nil
}

// FetchMessageBatch pages buffered history newest first.
func (a *Adapter) FetchMessageBatch(ctx context.Context, conversationID string, limit int, cursor source.Cursor) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := a.db.ListMessagesBefore(conversationID, cursor.BeforeTimestamp, cursor.BeforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", conversationID, err)
	}
	msgs := make([]chat.Message, 0, len(rows))
	for i := range rows {
		msgs = append(msgs, StoreToChat(&rows[i]))
	}
	return msgs, nil
}

// DownloadMessageMedia decrypts the attachment of a buffered message.
func (a *Adapter) DownloadMessageMedia(ctx context.Context, msg chat.Message) (source.Blob, error) {
	row, err := a.db.GetMessage(msg.ConversationID, msg.ID)
	if err != nil {
		return source.Blob{}, fmt.Errorf("load message %s: %w", msg.ID, err)
	}
	if row == nil || len(row.Raw) == 0 {
		return source.Blob{}, source.ErrNoMedia
	}

	var content waE2E.Message
	if err := proto.Unmarshal(row.Raw, &content); err != nil {
		return source.Blob{}, fmt.Errorf("decode message %s: %w", msg.ID, err)
	}
	d, mimeType := downloadableOf(&content)
	if d == nil {
		return source.Blob{}, source.ErrNoMedia
	}
	if !a.IsConnected() {
		return source.Blob{}, ErrNotConnected
	}

	data, err := a.client.Download(ctx, d)
	if err != nil {
		return source.Blob{}, fmt.Errorf("download %s: %w", msg.ID, err)
	}
	return source.Blob{Data: data, MimeType: mimeType}, nil
}

// ProfileImageURL returns the full-size avatar URL, or "" when the contact has
// none or hides it.
func (a *Adapter) ProfileImageURL(ctx context.Context, contactID string) (string, error) {
	jid, err := types.ParseJID(contactID)
	if err != nil {
		return "", fmt.Errorf("parse JID %q: %w", contactID, err)
	}
	if !a.IsConnected() {
		return "", ErrNotConnected
	}
	info, err := a.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if errors.Is(err, whatsmeow.ErrProfilePictureNotSet) || errors.Is(err, whatsmeow.ErrProfilePictureUnauthorized) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}
