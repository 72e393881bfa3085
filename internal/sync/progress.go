package sync

import (
	"slices"
	"time"
)

// SyncError is one entry of a pass's error list.
type SyncError struct {
	Chat  string `json:"chat"`
	Error string `json:"error"`
}

// Progress is the live state of a sync pass.
type Progress struct {
	IsRunning              bool        `json:"isRunning"`
	TotalChats             int         `json:"totalChats"`
	ProcessedChats         int         `json:"processedChats"`
	TotalMessages          int         `json:"totalMessages"`
	ProcessedMessages      int         `json:"processedMessages"`
	CurrentChat            string      `json:"currentChat"`
	Errors                 []SyncError `json:"errors"`
	StartTime              time.Time   `json:"startTime"`
	EstimatedTimeRemaining int64       `json:"estimatedTimeRemaining"`
}

func (p Progress) clone() Progress {
	p.Errors = slices.Clone(p.Errors)
	if p.Errors == nil {
		p.Errors = []SyncError{}
	}
	return p
}

// Summary is the payload of sync.completed and sync.stopped.
type Summary struct {
	Completed       bool             `json:"completed"`
	TotalChats      int              `json:"totalChats"`
	ProcessedChats  int              `json:"processedChats"`
	TotalMessages   int              `json:"totalMessages"`
	NewMessages     int              `json:"newMessages"`
	Errors          []SyncError      `json:"errors"`
	DurationSeconds float64          `json:"duration"`
	Record          CompletionRecord `json:"record"`
}

// StartStatus is the outcome of a start request.
type StartStatus string

const (
	StartStarted          StartStatus = "started"
	StartAlreadyRunning   StartStatus = "already_running"
	StartAlreadyCompleted StartStatus = "already_completed"
)

// StartResult is returned by Orchestrator.Start.
type StartResult struct {
	Status   StartStatus      `json:"status"`
	Progress Progress         `json:"progress"`
	Record   CompletionRecord `json:"record"`
}

// Pacing holds the throttling knobs of a pass.
type Pacing struct {
	ChatDelay  time.Duration
	BatchDelay time.Duration
	BatchSize  int
	MaxBatches int
}

// DefaultPacing is 50 messages per batch, at most 100 batches per conversation.
func DefaultPacing() Pacing {
	return Pacing{
		ChatDelay:  100 * time.Millisecond,
		BatchDelay: 50 * time.Millisecond,
		BatchSize:  50,
		MaxBatches: 100,
	}
}

func (p Pacing) withDefaults() Pacing {
	d := DefaultPacing()
	if p.BatchSize <= 0 {
		p.BatchSize = d.BatchSize
	}
	if p.MaxBatches <= 0 {
		p.MaxBatches = d.MaxBatches
	}
	return p
}
