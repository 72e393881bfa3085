package mediaqueue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/source"
	"github.com/tupski/wa-monitor/internal/source/sourcetest"
	"github.com/tupski/wa-monitor/internal/store"
)

var png = []byte("\x89PNG\r\n\x1a\n0000")

type fixture struct {
	db     *store.DB
	src    *sourcetest.Fake
	cache  *cache.Cache
	store  *media.Store
	bus    *bus.Bus
	worker *Worker
}

func newFixture(t *testing.T, src *sourcetest.Fake) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ms, err := media.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	f := &fixture{db: db, src: src, cache: cache.New(), store: ms, bus: bus.New()}
	f.worker = NewWorker(db, src, f.cache, media.NewCapturer(src, ms, zap.NewNop()), f.bus, zap.NewNop(), 10*time.Millisecond)
	return f
}

func (f *fixture) run(t *testing.T) {
	t.Helper()
	f.worker.Start(context.Background())
	t.Cleanup(f.worker.Stop)
}

func wait(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for media event")
		return bus.Event{}
	}
}

func TestDownloadsCachedMessage(t *testing.T) {
	src := &sourcetest.Fake{Media: map[string]source.Blob{"m1": {Data: png, MimeType: "image/png"}}}
	f := newFixture(t, src)
	f.cache.Upsert("c1", chat.Message{ID: "m1", ConversationID: "c1", HasMedia: true, Type: chat.KindImage})

	ch, unsub := f.bus.Subscribe("media.", 4)
	defer unsub()
	f.run(t)

	_, err := f.worker.Request("c1", "m1")
	require.NoError(t, err)

	evt := wait(t, ch)
	require.Equal(t, bus.KindMediaDownloaded, evt.Kind)
	done := evt.Payload.(Downloaded)
	assert.Equal(t, "image/png", done.Media.MimeType)
	assert.FileExists(t, f.store.LocalPath(done.Media.Path))

	cached, ok := f.cache.Get("c1", "m1")
	require.True(t, ok)
	require.NotNil(t, cached.Media)
	assert.Equal(t, done.Media.Path, cached.Media.Path)

	req, err := f.db.GetMediaRequest("c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, store.MediaDone, req.Status)
	assert.Equal(t, done.Media.Path, req.MediaPath)
}

func TestDownloadRefreshesSnapshot(t *testing.T) {
	src := &sourcetest.Fake{Media: map[string]source.Blob{"m1": {Data: png, MimeType: "image/png"}}}
	f := newFixture(t, src)
	f.cache.Upsert("c1", chat.Message{ID: "m1", ConversationID: "c1", HasMedia: true, Body: chat.Text("look")})
	require.NoError(t, f.store.WriteSnapshot(chat.Message{ID: "m1", ConversationID: "c1", HasMedia: true, Body: chat.Text("look")}))

	ch, unsub := f.bus.Subscribe("media.", 4)
	defer unsub()
	f.run(t)

	_, err := f.worker.Request("c1", "m1")
	require.NoError(t, err)
	done := wait(t, ch).Payload.(Downloaded)

	data, err := os.ReadFile(filepath.Join(f.store.ConversationDir("c1"), "message_m1.json"))
	require.NoError(t, err)
	var snap chat.Message
	require.NoError(t, json.Unmarshal(data, &snap))
	require.NotNil(t, snap.Media)
	assert.Equal(t, done.Media, *snap.Media)
	assert.Equal(t, "look", snap.BodyText())
}

func TestFallsBackToRecentBatch(t *testing.T) {
	src := &sourcetest.Fake{
		History: map[string][]chat.Message{"c1": {
			{ID: "m2", ConversationID: "c1", Timestamp: 2},
			{ID: "m1", ConversationID: "c1", Timestamp: 1, HasMedia: true},
		}},
		Media: map[string]source.Blob{"m1": {Data: png, MimeType: "image/png"}},
	}
	f := newFixture(t, src)

	ch, unsub := f.bus.Subscribe("media.", 4)
	defer unsub()
	f.run(t)

	_, err := f.worker.Request("c1", "m1")
	require.NoError(t, err)

	evt := wait(t, ch)
	require.Equal(t, bus.KindMediaDownloaded, evt.Kind)
	assert.Equal(t, 1, src.Fetches("c1"))

	cached, ok := f.cache.Get("c1", "m1")
	require.True(t, ok, "looked-up message should be cached")
	assert.NotNil(t, cached.Media)
}

func TestFailureMarksRequest(t *testing.T) {
	tests := []struct {
		name    string
		src     *sourcetest.Fake
		wantErr string
	}{
		{
			name:    "unknown message",
			src:     &sourcetest.Fake{},
			wantErr: ErrMessageNotFound.Error(),
		},
		{
			name: "download error",
			src: &sourcetest.Fake{
				History:  map[string][]chat.Message{"c1": {{ID: "m1", ConversationID: "c1", HasMedia: true}}},
				MediaErr: map[string][]error{"m1": {errors.New("media expired")}},
			},
			wantErr: "media expired",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.src)
			ch, unsub := f.bus.Subscribe("media.", 4)
			defer unsub()
			f.run(t)

			_, err := f.worker.Request("c1", "m1")
			require.NoError(t, err)

			evt := wait(t, ch)
			require.Equal(t, bus.KindMediaFailed, evt.Kind)
			failed := evt.Payload.(Failed)
			assert.Contains(t, failed.Error, tt.wantErr)

			req, err := f.db.GetMediaRequest("c1", "m1")
			require.NoError(t, err)
			assert.Equal(t, store.MediaFailed, req.Status)
			assert.Contains(t, req.ErrorMessage, tt.wantErr)
		})
	}
}

func TestRetryAfterFailure(t *testing.T) {
	src := &sourcetest.Fake{
		Media:    map[string]source.Blob{"m1": {Data: png, MimeType: "image/png"}},
		MediaErr: map[string][]error{"m1": {errors.New("timeout")}},
	}
	f := newFixture(t, src)
	f.cache.Upsert("c1", chat.Message{ID: "m1", ConversationID: "c1", HasMedia: true})

	ch, unsub := f.bus.Subscribe("media.", 4)
	defer unsub()
	f.run(t)

	_, err := f.worker.Request("c1", "m1")
	require.NoError(t, err)
	require.Equal(t, bus.KindMediaFailed, wait(t, ch).Kind)

	req, err := f.worker.Request("c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, store.MediaQueued, req.Status)
	require.Equal(t, bus.KindMediaDownloaded, wait(t, ch).Kind)
	assert.Equal(t, 2, src.MediaCalls("m1"))
}

func TestStartRequeuesStale(t *testing.T) {
	src := &sourcetest.Fake{Media: map[string]source.Blob{"m1": {Data: png, MimeType: "image/png"}}}
	f := newFixture(t, src)
	f.cache.Upsert("c1", chat.Message{ID: "m1", ConversationID: "c1", HasMedia: true})

	_, err := f.db.QueueMediaRequest("c1", "m1")
	require.NoError(t, err)
	_, err = f.db.ClaimMediaRequests(1)
	require.NoError(t, err)

	ch, unsub := f.bus.Subscribe("media.", 4)
	defer unsub()
	f.run(t)

	assert.Equal(t, bus.KindMediaDownloaded, wait(t, ch).Kind)
}
