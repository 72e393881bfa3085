package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/media"
)

const dayLayout = "2006-01-02"

// Day returns the local calendar date key used by the completion gate.
func Day(t time.Time) string {
	return t.Local().Format(dayLayout)
}

// CompletionRecord is the durable state of the once-per-day completion gate.
type CompletionRecord struct {
	IsCompleted             bool       `json:"isCompleted"`
	CompletedAt             *time.Time `json:"completedAt"`
	TotalMessagesDownloaded int        `json:"totalMessagesDownloaded"`
	ProcessedChats          []string   `json:"processedChats"`
	LastRunDate             string     `json:"lastRunDate"`
}

// CompletedOn reports whether a full pass already finished on day.
func (r CompletionRecord) CompletedOn(day string) bool {
	return r.IsCompleted && r.LastRunDate == day
}

func (r CompletionRecord) clone() CompletionRecord {
	r.ProcessedChats = slices.Clone(r.ProcessedChats)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		r.CompletedAt = &at
	}
	return r
}

// Tracker loads and persists the CompletionRecord.
type Tracker struct {
	path string
	log  *zap.Logger

	mu  gosync.Mutex
	rec CompletionRecord
}

// LoadTracker reads the record at path. A missing, unreadable or
// schema-invalid file starts from an empty record.
func LoadTracker(path string, log *zap.Logger) *Tracker {
	t := &Tracker{path: path, log: log}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		log.Warn("read download tracker", zap.Error(err))
	default:
		if err := media.ValidateTracker(data); err != nil {
			log.Warn("invalid download tracker", zap.Error(err))
			break
		}
		if err := json.Unmarshal(data, &t.rec); err != nil {
			log.Warn("decode download tracker", zap.Error(err))
			t.rec = CompletionRecord{}
		}
	}
	return t
}

// Record returns a copy of the current record.
func (t *Tracker) Record() CompletionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.clone()
}

// Merge folds a finished pass into the record and persists it. On the same
// day as an unfinished earlier run, counts and chats accumulate; a new day
// starts over. The in-memory record is updated even if the write fails.
func (t *Tracker) Merge(day string, chats []string, messages int, completed bool, now time.Time) (CompletionRecord, error) {
	t.mu.Lock()
	rec := t.rec.clone()
	if rec.LastRunDate == day && !rec.IsCompleted {
		rec.TotalMessagesDownloaded += messages
		for _, id := range chats {
			if !slices.Contains(rec.ProcessedChats, id) {
				rec.ProcessedChats = append(rec.ProcessedChats, id)
			}
		}
	} else {
		rec.TotalMessagesDownloaded = messages
		rec.ProcessedChats = slices.Clone(chats)
	}
	if rec.ProcessedChats == nil {
		rec.ProcessedChats = []string{}
	}
	rec.LastRunDate = day
	rec.IsCompleted = completed
	if completed {
		at := now
		rec.CompletedAt = &at
	}
	t.rec = rec
	out := rec.clone()
	t.mu.Unlock()

	return out, t.write(out)
}

func (t *Tracker) write(rec CompletionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("create tracker dir: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write tracker: %w", err)
	}
	return os.Rename(tmp, t.path)
}
