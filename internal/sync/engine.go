package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/profile"
	"github.com/tupski/wa-monitor/internal/source"
)

// ReadyDelays controls how long after the source reports ready the sync
// pass and the avatar load are started.
type ReadyDelays struct {
	Sync    time.Duration
	Profile time.Duration
}

// Engine consumes live source events one at a time. It subscribes to "wa."
// and "session." events on the bus.
type Engine struct {
	src        source.MessageSource
	cache      *cache.Cache
	store      *media.Store
	capture    *media.Capturer
	reconciler *Reconciler
	orch       *Orchestrator
	profiles   *profile.Loader
	bus        *bus.Bus
	logger     *zap.Logger

	mu     gosync.Mutex
	delays ReadyDelays
	timers []*time.Timer
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a live-event engine.
func NewEngine(
	src source.MessageSource,
	c *cache.Cache,
	store *media.Store,
	capture *media.Capturer,
	reconciler *Reconciler,
	orch *Orchestrator,
	profiles *profile.Loader,
	b *bus.Bus,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		src:        src,
		cache:      c,
		store:      store,
		capture:    capture,
		reconciler: reconciler,
		orch:       orch,
		profiles:   profiles,
		bus:        b,
		logger:     logger,
		delays:     ReadyDelays{Sync: 5 * time.Second, Profile: 8 * time.Second},
	}
}

// SetReadyDelays changes the delays applied on the next ready event.
func (e *Engine) SetReadyDelays(d ReadyDelays) {
	e.mu.Lock()
	e.delays = d
	e.mu.Unlock()
}

// Start subscribes to source and session events. ctx also bounds the sync
// passes and avatar loads the engine triggers.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	waCh, unsubWA := e.bus.Subscribe("wa.", 1024)
	sessCh, unsubSess := e.bus.Subscribe("session.", 16)

	go func() {
		defer close(done)
		defer unsubWA()
		defer unsubSess()
		for {
			select {
			case evt := <-waCh:
				e.handleEvent(ctx, evt)
			case evt := <-sessCh:
				e.handleSession(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and any pending ready timers.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindSourceMessage:
		in, ok := evt.Payload.(source.Incoming)
		if !ok {
			return
		}
		e.Ingest(ctx, in.Message)
	case bus.KindSourceRevokeEveryone:
		rev, ok := evt.Payload.(source.EveryoneRevocation)
		if !ok {
			return
		}
		if _, err := e.reconciler.HandleEveryone(ctx, rev); err != nil {
			e.logger.Error("failed to reconcile revocation", zap.Error(err))
		}
	case bus.KindSourceRevokeMe:
		rev, ok := evt.Payload.(source.SelfRevocation)
		if !ok {
			return
		}
		if _, err := e.reconciler.HandleSelf(ctx, rev); err != nil {
			e.logger.Error("failed to reconcile self revocation", zap.Error(err))
		}
	case bus.KindSourceReady:
		e.scheduleReady(ctx)
	}
}

func (e *Engine) handleSession(evt bus.Event) {
	switch evt.Kind {
	case bus.KindSessionDisconnected, bus.KindSessionLoggedOut:
		e.cache.Reset()
		e.logger.Info("message cache reset", zap.String("reason", evt.Kind))
	}
}

// Ingest stores a live message at the head of its conversation.
func (e *Engine) Ingest(ctx context.Context, msg chat.Message) chat.Message {
	if msg.HasMedia && msg.Media == nil {
		m, err := e.capture.Capture(ctx, msg)
		if err != nil {
			e.logger.Warn("live media capture failed", zap.String("msg_id", msg.ID), zap.Error(err))
		} else {
			msg.Media = &m
		}
	}

	e.cache.UpsertHead(msg.ConversationID, msg)
	stored, _ := e.cache.Get(msg.ConversationID, msg.ID)
	if log, ok := chat.CallLogFrom(stored); ok {
		e.cache.AddCallLog(log)
	}
	if err := e.store.WriteSnapshot(stored); err != nil {
		e.logger.Warn("snapshot write failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}

	e.bus.Emit(bus.KindMessageNew, stored)
	return stored
}

func (e *Engine) scheduleReady(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.timers {
		t.Stop()
	}

	e.logger.Info("source ready, scheduling sync",
		zap.Duration("sync_delay", e.delays.Sync),
		zap.Duration("profile_delay", e.delays.Profile),
	)
	e.timers = []*time.Timer{
		time.AfterFunc(e.delays.Sync, func() {
			e.orch.Start(ctx)
		}),
		time.AfterFunc(e.delays.Profile, func() {
			e.loadProfiles(ctx)
		}),
	}
}

func (e *Engine) loadProfiles(ctx context.Context) {
	convs, err := e.src.ListConversations(ctx)
	if err != nil {
		e.logger.Warn("list conversations for profiles failed", zap.Error(err))
		return
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	if _, err := e.profiles.LoadAll(ctx, ids); err != nil {
		e.logger.Warn("profile load ended early", zap.Error(err))
	}
}
