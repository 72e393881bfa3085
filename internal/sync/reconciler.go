package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/source"
)

// DeletionNotice is the payload of message.deleted.
type DeletionNotice struct {
	ConversationID string       `json:"conversationId"`
	MessageID      string       `json:"messageId"`
	Message        chat.Message `json:"message"`
}

// Reconciler applies revocations to the cache and writes deletion records
// so deleted content survives a restart.
type Reconciler struct {
	cache   *cache.Cache
	store   *media.Store
	capture *media.Capturer
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewReconciler creates a deletion reconciler.
func NewReconciler(c *cache.Cache, store *media.Store, capture *media.Capturer, b *bus.Bus, logger *zap.Logger) *Reconciler {
	return &Reconciler{cache: c, store: store, capture: capture, bus: b, logger: logger}
}

// HandleEveryone applies a delete-for-everyone. When the source has no
// snapshot of the original, the cached copy stands in for it; with neither,
// the body becomes a placeholder.
func (r *Reconciler) HandleEveryone(ctx context.Context, ev source.EveryoneRevocation) (chat.Message, error) {
	after := ev.After
	before := ev.Before
	if before == nil {
		if cached, ok := r.cache.Get(after.ConversationID, after.ID); ok {
			before = &cached
		}
	}

	var payload chat.Message
	if before != nil {
		payload = *before
		if payload.ConversationID == "" {
			payload.ConversationID = after.ConversationID
		}
		if payload.Media == nil && payload.HasMedia {
			payload.Media = r.captureBestEffort(ctx, payload)
		}
		if payload.Body == nil && payload.Media == nil {
			payload.Body = chat.Text(chat.RemovedPlaceholder)
		}
	} else {
		payload = chat.Message{
			ID:             after.ID,
			ConversationID: after.ConversationID,
			SenderID:       after.SenderID,
			FromMe:         after.FromMe,
			Timestamp:      after.Timestamp,
			Type:           after.Type,
			Body:           chat.Text(chat.RemovedPlaceholder),
		}
	}
	payload.DeletedScope = chat.ScopeEveryone

	merged := r.cache.MarkDeleted(payload.ConversationID, payload.ID, payload)
	_, writeErr := r.store.WriteDeletionRecord(merged)
	if writeErr != nil {
		r.logger.Error("write deletion record failed", zap.String("msg_id", merged.ID), zap.Error(writeErr))
	}

	r.logger.Info("message deleted for everyone",
		zap.String("chat", merged.ConversationID),
		zap.String("msg_id", merged.ID),
		zap.Bool("content_preserved", before != nil),
	)
	r.bus.Emit(bus.KindMessageDeleted, DeletionNotice{
		ConversationID: merged.ConversationID,
		MessageID:      merged.ID,
		Message:        merged,
	})
	r.bus.Emit(bus.KindMessageUpserted, merged)

	if writeErr != nil {
		return merged, fmt.Errorf("persist deletion record: %w", writeErr)
	}
	return merged, nil
}

// HandleSelf applies a delete-for-me. The record is retained but nothing is
// broadcast.
func (r *Reconciler) HandleSelf(ctx context.Context, ev source.SelfRevocation) (chat.Message, error) {
	merged := r.cache.MarkDeleted(ev.ConversationID, ev.MessageID, chat.Message{
		SenderID:     ev.SenderID,
		FromMe:       ev.FromMe,
		Timestamp:    ev.Timestamp,
		DeletedScope: chat.ScopeMe,
	})
	if _, err := r.store.WriteDeletionRecord(merged); err != nil {
		r.logger.Error("write self-deletion record failed", zap.String("msg_id", merged.ID), zap.Error(err))
		return merged, fmt.Errorf("persist self-deletion record: %w", err)
	}
	r.logger.Info("message deleted for me", zap.String("chat", merged.ConversationID), zap.String("msg_id", merged.ID))
	return merged, nil
}

func (r *Reconciler) captureBestEffort(ctx context.Context, msg chat.Message) *chat.Media {
	m, err := r.capture.Capture(ctx, msg)
	if err != nil {
		r.logger.Warn("media capture for deleted message failed", zap.String("msg_id", msg.ID), zap.Error(err))
		return nil
	}
	return &m
}
