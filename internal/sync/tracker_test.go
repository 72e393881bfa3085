package sync

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTrackerMergeAccumulatesUnfinishedDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_tracker.json")
	tr := LoadTracker(path, zap.NewNop())
	now := time.Now()

	_, err := tr.Merge("2026-01-02", []string{"a"}, 10, false, now)
	require.NoError(t, err)
	rec, err := tr.Merge("2026-01-02", []string{"a", "b"}, 5, true, now)
	require.NoError(t, err)

	assert.True(t, rec.IsCompleted)
	assert.Equal(t, 15, rec.TotalMessagesDownloaded)
	assert.Equal(t, []string{"a", "b"}, rec.ProcessedChats)
	require.NotNil(t, rec.CompletedAt)

	again := LoadTracker(path, zap.NewNop()).Record()
	assert.Equal(t, rec.TotalMessagesDownloaded, again.TotalMessagesDownloaded)
	assert.True(t, again.CompletedOn("2026-01-02"))
	assert.False(t, again.CompletedOn("2026-01-03"))
}

func TestTrackerMergeNewDayResets(t *testing.T) {
	tr := LoadTracker(filepath.Join(t.TempDir(), "t.json"), zap.NewNop())
	_, err := tr.Merge("2026-01-02", []string{"a"}, 10, true, time.Now())
	require.NoError(t, err)

	rec, err := tr.Merge("2026-01-03", []string{"b"}, 3, false, time.Now())
	require.NoError(t, err)
	assert.False(t, rec.IsCompleted)
	assert.Equal(t, 3, rec.TotalMessagesDownloaded)
	assert.Equal(t, []string{"b"}, rec.ProcessedChats)
}

func TestLoadTrackerCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0600))

	rec := LoadTracker(path, zap.NewNop()).Record()
	assert.False(t, rec.IsCompleted)
	assert.Empty(t, rec.LastRunDate)
}

func TestLoadTrackerRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"bad date":       `{"isCompleted": true, "totalMessagesDownloaded": 4, "lastRunDate": "yesterday"}`,
		"negative count": `{"isCompleted": true, "totalMessagesDownloaded": -1, "lastRunDate": "2026-01-02"}`,
		"missing flag":   `{"totalMessagesDownloaded": 4, "lastRunDate": "2026-01-02"}`,
		"chat not text":  `{"isCompleted": true, "totalMessagesDownloaded": 4, "processedChats": [7], "lastRunDate": "2026-01-02"}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "t.json")
			require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

			rec := LoadTracker(path, zap.NewNop()).Record()
			assert.False(t, rec.IsCompleted)
			assert.Empty(t, rec.LastRunDate)
			assert.Zero(t, rec.TotalMessagesDownloaded)
		})
	}
}

func TestLoadTrackerAcceptsWrittenRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.json")
	doc := `{"isCompleted": true, "completedAt": "2026-01-02T10:00:00Z", "totalMessagesDownloaded": 9, "processedChats": ["a"], "lastRunDate": "2026-01-02"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	rec := LoadTracker(path, zap.NewNop()).Record()
	assert.True(t, rec.CompletedOn("2026-01-02"))
	assert.Equal(t, 9, rec.TotalMessagesDownloaded)
	assert.Equal(t, []string{"a"}, rec.ProcessedChats)
}

func TestTrackerRecordIsACopy(t *testing.T) {
	tr := LoadTracker(filepath.Join(t.TempDir(), "t.json"), zap.NewNop())
	_, err := tr.Merge("2026-01-02", []string{"a"}, 1, false, time.Now())
	require.NoError(t, err)

	rec := tr.Record()
	rec.ProcessedChats[0] = "mutated"
	assert.Equal(t, "a", tr.Record().ProcessedChats[0])
}
