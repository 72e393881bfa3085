package sync

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/source/sourcetest"
)

type harness struct {
	src     *sourcetest.Fake
	cache   *cache.Cache
	store   *media.Store
	capture *media.Capturer
	bus     *bus.Bus
	fetcher *Fetcher
	tracker *Tracker
	orch    *Orchestrator
}

func newHarness(t *testing.T, src *sourcetest.Fake) *harness {
	t.Helper()
	store, err := media.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	h := &harness{
		src:   src,
		cache: cache.New(),
		store: store,
		bus:   bus.New(),
	}
	h.capture = media.NewCapturer(src, store, zap.NewNop())
	h.fetcher = NewFetcher(src, h.cache, store, h.capture, zap.NewNop())
	h.tracker = LoadTracker(store.TrackerPath(), zap.NewNop())
	h.orch = NewOrchestrator(src, h.fetcher, h.tracker, h.bus, zap.NewNop())
	h.orch.SetPacing(Pacing{BatchSize: 50, MaxBatches: 100})
	return h
}

func conversations(n int) []chat.Conversation {
	out := make([]chat.Conversation, n)
	for i := range out {
		out[i] = chat.Conversation{ID: fmt.Sprintf("c%d", i+1), Name: fmt.Sprintf("Chat %d", i+1)}
	}
	return out
}

// history returns n messages, newest first.
func history(conv string, n int) []chat.Message {
	out := make([]chat.Message, n)
	for i := range out {
		out[i] = chat.Message{
			ID:             fmt.Sprintf("%s-m%04d", conv, n-i),
			ConversationID: conv,
			Timestamp:      int64(n - i),
			Body:           chat.Text("body"),
		}
	}
	return out
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func trackerFile(h *harness) string {
	return filepath.Join(h.store.Root(), "download_tracker.json")
}
