package media

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/source"
)

// Capturer downloads a message's media from the source and persists it.
// Concurrent captures of the same message share one download.
type Capturer struct {
	src   source.MessageSource
	store *Store
	log   *zap.Logger
	group singleflight.Group
}

// NewCapturer builds a Capturer.
func NewCapturer(src source.MessageSource, store *Store, log *zap.Logger) *Capturer {
	return &Capturer{src: src, store: store, log: log}
}

// Store returns the store captures are persisted to.
func (c *Capturer) Store() *Store { return c.store }

// Capture returns the stored media descriptor for msg. A file persisted
// earlier for the same message is reused instead of downloading again.
func (c *Capturer) Capture(ctx context.Context, msg chat.Message) (chat.Media, error) {
	key := msg.ConversationID + "\x00" + msg.ID
	v, err, shared := c.group.Do(key, func() (any, error) {
		if m, ok := c.store.FindMedia(msg.ConversationID, msg.ID); ok {
			c.log.Debug("media already on disk", zap.String("message", msg.ID), zap.String("path", m.Path))
			return m, nil
		}
		blob, err := c.src.DownloadMessageMedia(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("download media %s: %w", msg.ID, err)
		}
		return c.store.Persist(msg.ConversationID, msg.ID, blob.Data, blob.MimeType)
	})
	if err != nil {
		return chat.Media{}, err
	}
	if shared {
		c.log.Debug("media capture coalesced", zap.String("message", msg.ID))
	}
	return v.(chat.Media), nil
}
