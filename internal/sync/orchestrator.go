package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/source"
)

// Orchestrator runs at most one full-account sync pass at a time and at most
// one successful pass per calendar day.
type Orchestrator struct {
	src     source.MessageSource
	fetcher *Fetcher
	tracker *Tracker
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time

	mu            gosync.Mutex
	active        bool
	stopRequested bool
	progress      Progress
	pacing        Pacing
	wg            gosync.WaitGroup
}

// NewOrchestrator creates an orchestrator with default pacing.
func NewOrchestrator(src source.MessageSource, fetcher *Fetcher, tracker *Tracker, b *bus.Bus, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		src:      src,
		fetcher:  fetcher,
		tracker:  tracker,
		bus:      b,
		logger:   logger,
		now:      time.Now,
		pacing:   DefaultPacing(),
		progress: Progress{Errors: []SyncError{}},
	}
}

// SetPacing replaces the throttling knobs used by the next pass.
func (o *Orchestrator) SetPacing(p Pacing) {
	o.mu.Lock()
	o.pacing = p.withDefaults()
	o.mu.Unlock()
}

// Progress returns a snapshot of the current or last pass.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress.clone()
}

// Running reports whether a pass is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Record returns the persisted completion record.
func (o *Orchestrator) Record() CompletionRecord {
	return o.tracker.Record()
}

// Start launches a pass in the background unless one is already running or
// today's pass already completed. ctx bounds the pass, not the call.
func (o *Orchestrator) Start(ctx context.Context) StartResult {
	o.mu.Lock()
	if o.active {
		res := StartResult{Status: StartAlreadyRunning, Progress: o.progress.clone(), Record: o.tracker.Record()}
		o.mu.Unlock()
		o.bus.Emit(bus.KindSyncAlreadyRunning, res.Progress)
		return res
	}

	now := o.now()
	rec := o.tracker.Record()
	if rec.CompletedOn(Day(now)) {
		res := StartResult{Status: StartAlreadyCompleted, Progress: o.progress.clone(), Record: rec}
		o.mu.Unlock()
		o.logger.Info("sync already completed today",
			zap.String("date", rec.LastRunDate),
			zap.Int("messages", rec.TotalMessagesDownloaded),
		)
		o.bus.Emit(bus.KindSyncAlreadyCompleted, rec)
		return res
	}

	o.active = true
	o.stopRequested = false
	o.progress = Progress{IsRunning: true, StartTime: now, Errors: []SyncError{}}
	pacing := o.pacing
	res := StartResult{Status: StartStarted, Progress: o.progress.clone(), Record: rec}
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(ctx, pacing)
	return res
}

// Stop asks the running pass to end after the current conversation.
// Returns false when there is nothing to stop.
func (o *Orchestrator) Stop() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active || o.stopRequested {
		return false
	}
	o.stopRequested = true
	o.progress.IsRunning = false
	o.logger.Info("sync stop requested", zap.String("current_chat", o.progress.CurrentChat))
	return true
}

// Wait blocks until the running pass, if any, has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

type passOutcome struct {
	stopped   bool
	failed    bool
	processed []string
	added     int
}

func (o *Orchestrator) run(ctx context.Context, pacing Pacing) {
	defer o.wg.Done()

	convs, err := o.src.ListConversations(ctx)
	if err != nil {
		o.logger.Error("list conversations failed", zap.Error(err))
		o.mu.Lock()
		o.progress.Errors = append(o.progress.Errors, SyncError{Chat: "system", Error: err.Error()})
		o.mu.Unlock()
		o.finish(passOutcome{failed: true})
		return
	}

	o.mu.Lock()
	o.progress.TotalChats = len(convs)
	o.mu.Unlock()
	o.logger.Info("sync pass started", zap.Int("chats", len(convs)))

	var out passOutcome
	for i, conv := range convs {
		o.mu.Lock()
		if o.stopRequested || ctx.Err() != nil {
			o.mu.Unlock()
			out.stopped = true
			break
		}
		o.progress.CurrentChat = conv.Label()
		o.progress.ProcessedChats++
		o.mu.Unlock()

		res, err := o.fetcher.FetchAll(ctx, conv, pacing, func(n int) {
			o.mu.Lock()
			o.progress.ProcessedMessages += n
			o.mu.Unlock()
		})
		out.added += res.NewMessageCount

		o.mu.Lock()
		o.progress.TotalMessages += res.MessageCount
		if err != nil {
			o.progress.Errors = append(o.progress.Errors, SyncError{Chat: conv.Label(), Error: err.Error()})
		} else {
			out.processed = append(out.processed, conv.ID)
		}
		o.estimate()
		snap := o.progress.clone()
		o.mu.Unlock()

		if err != nil {
			o.logger.Warn("conversation sync failed", zap.String("chat", conv.ID), zap.Error(err))
		}
		o.bus.Emit(bus.KindSyncProgress, snap)

		if i < len(convs)-1 {
			_ = sleep(ctx, pacing.ChatDelay)
		}
	}

	// A stop accepted during the last conversation still counts.
	o.mu.Lock()
	if o.stopRequested {
		out.stopped = true
	}
	o.mu.Unlock()

	o.finish(out)
}

// estimate must be called with o.mu held.
func (o *Orchestrator) estimate() {
	p := &o.progress
	if p.ProcessedChats == 0 {
		return
	}
	avg := o.now().Sub(p.StartTime) / time.Duration(p.ProcessedChats)
	remaining := p.TotalChats - p.ProcessedChats
	if remaining < 0 {
		remaining = 0
	}
	p.EstimatedTimeRemaining = int64((avg * time.Duration(remaining)).Seconds())
}

func (o *Orchestrator) finish(out passOutcome) {
	now := o.now()

	o.mu.Lock()
	o.progress.IsRunning = false
	o.progress.CurrentChat = ""
	o.progress.EstimatedTimeRemaining = 0
	snap := o.progress.clone()
	o.mu.Unlock()

	completed := !out.stopped && !out.failed
	rec := o.tracker.Record()
	if !out.failed {
		var err error
		rec, err = o.tracker.Merge(Day(now), out.processed, snap.TotalMessages, completed, now)
		if err != nil {
			o.logger.Error("persist completion record failed", zap.Error(err))
		}
	}

	summary := Summary{
		Completed:       completed,
		TotalChats:      snap.TotalChats,
		ProcessedChats:  snap.ProcessedChats,
		TotalMessages:   snap.TotalMessages,
		NewMessages:     out.added,
		Errors:          snap.Errors,
		DurationSeconds: now.Sub(snap.StartTime).Seconds(),
		Record:          rec,
	}

	o.mu.Lock()
	o.active = false
	o.stopRequested = false
	o.mu.Unlock()

	kind := bus.KindSyncCompleted
	if out.stopped {
		kind = bus.KindSyncStopped
	}
	o.logger.Info("sync pass finished",
		zap.String("outcome", kind),
		zap.Int("chats", summary.ProcessedChats),
		zap.Int("messages", summary.TotalMessages),
		zap.Int("new", summary.NewMessages),
		zap.Int("errors", len(summary.Errors)),
		zap.Float64("duration_s", summary.DurationSeconds),
	)
	o.bus.Emit(kind, summary)
}
