package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/source"
)

// FetchResult counts what one conversation's paging produced.
type FetchResult struct {
	MessageCount    int `json:"messageCount"`
	NewMessageCount int `json:"newMessageCount"`
}

// Fetcher pages through a conversation's history and folds every batch into
// the cache and media store before asking for the next one.
type Fetcher struct {
	src     source.MessageSource
	cache   *cache.Cache
	store   *media.Store
	capture *media.Capturer
	logger  *zap.Logger
}

// NewFetcher creates a batch fetcher.
func NewFetcher(src source.MessageSource, c *cache.Cache, store *media.Store, capture *media.Capturer, logger *zap.Logger) *Fetcher {
	return &Fetcher{src: src, cache: c, store: store, capture: capture, logger: logger}
}

// FetchAll walks history until a short batch or the batch cap. onBatch is
// called with the size of each processed batch.
func (f *Fetcher) FetchAll(ctx context.Context, conv chat.Conversation, pacing Pacing, onBatch func(n int)) (FetchResult, error) {
	pacing = pacing.withDefaults()
	var res FetchResult
	cursor := source.Cursor{}

	for batch := 1; batch <= pacing.MaxBatches; batch++ {
		msgs, err := f.src.FetchMessageBatch(ctx, conv.ID, pacing.BatchSize, cursor)
		if err != nil {
			return res, fmt.Errorf("fetch batch %d: %w", batch, err)
		}

		for i := range msgs {
			msgs[i] = f.process(ctx, conv.ID, msgs[i])
		}
		res.MessageCount += len(msgs)
		res.NewMessageCount += f.cache.Merge(conv.ID, msgs)
		for _, m := range msgs {
			if log, ok := chat.CallLogFrom(m); ok {
				f.cache.AddCallLog(log)
			}
			f.snapshot(m)
		}
		if onBatch != nil {
			onBatch(len(msgs))
		}

		if len(msgs) < pacing.BatchSize {
			break
		}
		cursor = source.NextCursor(msgs)
		if err := sleep(ctx, pacing.BatchDelay); err != nil {
			return res, err
		}
	}

	f.logger.Debug("conversation fetched",
		zap.String("chat", conv.ID),
		zap.Int("messages", res.MessageCount),
		zap.Int("new", res.NewMessageCount),
	)
	return res, nil
}

// process captures media for one message. Failures stay local to the message.
func (f *Fetcher) process(ctx context.Context, conversationID string, msg chat.Message) chat.Message {
	msg.ConversationID = conversationID
	if !msg.HasMedia || msg.Media != nil {
		return msg
	}
	if cached, ok := f.cache.Get(conversationID, msg.ID); ok && cached.Media != nil {
		msg.Media = cached.Media
		return msg
	}

	m, err := f.capture.Capture(ctx, msg)
	if err != nil {
		f.logger.Warn("media capture failed",
			zap.String("chat", conversationID),
			zap.String("msg_id", msg.ID),
			zap.Error(err),
		)
		return msg
	}
	msg.Media = &m
	return msg
}

// snapshot writes the merged cache entry for msg to message_{id}.json.
func (f *Fetcher) snapshot(msg chat.Message) {
	if merged, ok := f.cache.Get(msg.ConversationID, msg.ID); ok {
		msg = merged
	}
	if err := f.store.WriteSnapshot(msg); err != nil {
		f.logger.Warn("snapshot write failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
