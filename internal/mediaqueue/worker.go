// Package mediaqueue downloads media on request. Requests are persisted in
// the store so a restart resumes them.
package mediaqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/source"
	"github.com/tupski/wa-monitor/internal/store"
)

// lookupBatch is how many recent messages are searched when the requested
// message is not cached.
const lookupBatch = 50

// ErrMessageNotFound is recorded when neither the cache nor the newest batch
// holds the requested message.
var ErrMessageNotFound = errors.New("message not found")

// Downloaded is the payload of media.downloaded.
type Downloaded struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	Media          chat.Media `json:"media"`
}

// Failed is the payload of media.failed.
type Failed struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Error          string `json:"error"`
}

// Worker drains the media request queue.
type Worker struct {
	db       *store.DB
	src      source.MessageSource
	cache    *cache.Cache
	capture  *media.Capturer
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration

	kick   chan struct{}
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a media request worker polling every interval.
func NewWorker(db *store.DB, src source.MessageSource, c *cache.Cache, capture *media.Capturer, b *bus.Bus, logger *zap.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		db:       db,
		src:      src,
		cache:    c,
		capture:  capture,
		bus:      b,
		logger:   logger,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Request queues a download for a message. A request already pending or in
// flight is returned unchanged.
func (w *Worker) Request(conversationID, messageID string) (*store.MediaRequest, error) {
	req, err := w.db.QueueMediaRequest(conversationID, messageID)
	if err != nil {
		return nil, err
	}
	select {
	case w.kick <- struct{}{}:
	default:
	}
	return req, nil
}

// Start begins polling the queue. Requests left in flight by a previous run
// are queued again first.
func (w *Worker) Start(ctx context.Context) {
	if n, err := w.db.RequeueStaleMediaRequests(); err != nil {
		w.logger.Warn("failed to requeue stale media requests", zap.Error(err))
	} else if n > 0 {
		w.logger.Info("requeued stale media requests", zap.Int64("count", n))
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		w.loop(ctx)
	}()
}

// Stop stops the worker loop and waits for the current request to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.processPending(ctx)
		case <-w.kick:
			w.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) processPending(ctx context.Context) {
	pending, err := w.db.ClaimMediaRequests(10)
	if err != nil {
		w.logger.Error("failed to read media queue", zap.Error(err))
		return
	}
	for _, req := range pending {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, req)
	}
}

func (w *Worker) process(ctx context.Context, req store.MediaRequest) {
	m, err := w.fetch(ctx, req.ChatJID, req.MsgID)
	if err != nil {
		w.logger.Warn("media request failed",
			zap.String("chat", req.ChatJID),
			zap.String("msg_id", req.MsgID),
			zap.Int("attempt", req.Attempts),
			zap.Error(err),
		)
		if markErr := w.db.MarkMediaFailed(req.ID, err.Error()); markErr != nil {
			w.logger.Error("failed to mark media request failed", zap.Int64("id", req.ID), zap.Error(markErr))
		}
		w.bus.Emit(bus.KindMediaFailed, Failed{ConversationID: req.ChatJID, MessageID: req.MsgID, Error: err.Error()})
		return
	}

	if err := w.db.MarkMediaDone(req.ID, m.Path); err != nil {
		w.logger.Error("failed to mark media request done", zap.Int64("id", req.ID), zap.Error(err))
	}
	w.logger.Info("media downloaded", zap.String("chat", req.ChatJID), zap.String("msg_id", req.MsgID), zap.String("path", m.Path))
	w.bus.Emit(bus.KindMediaDownloaded, Downloaded{ConversationID: req.ChatJID, MessageID: req.MsgID, Media: m})
}

func (w *Worker) fetch(ctx context.Context, conversationID, messageID string) (chat.Media, error) {
	msg, cached := w.cache.Get(conversationID, messageID)
	if !cached {
		found, err := w.lookup(ctx, conversationID, messageID)
		if err != nil {
			return chat.Media{}, err
		}
		msg = found
	}

	m, err := w.capture.Capture(ctx, msg)
	if err != nil {
		return chat.Media{}, err
	}

	if cached {
		w.cache.SetMedia(conversationID, messageID, m)
	} else {
		msg.Media = &m
		w.cache.Upsert(conversationID, msg)
	}
	if merged, ok := w.cache.Get(conversationID, messageID); ok {
		if err := w.capture.Store().WriteSnapshot(merged); err != nil {
			w.logger.Warn("snapshot write failed", zap.String("msg_id", messageID), zap.Error(err))
		}
	}
	return m, nil
}

func (w *Worker) lookup(ctx context.Context, conversationID, messageID string) (chat.Message, error) {
	batch, err := w.src.FetchMessageBatch(ctx, conversationID, lookupBatch, source.Cursor{})
	if err != nil {
		return chat.Message{}, fmt.Errorf("fetch recent messages: %w", err)
	}
	for _, m := range batch {
		if m.ID == messageID {
			if m.ConversationID == "" {
				m.ConversationID = conversationID
			}
			return m, nil
		}
	}
	return chat.Message{}, ErrMessageNotFound
}
