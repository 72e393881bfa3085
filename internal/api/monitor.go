// Package api exposes the monitor's query and command surface, in Go and
// over gRPC.
package api

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/cache"
	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/mediaqueue"
	"github.com/tupski/wa-monitor/internal/profile"
	"github.com/tupski/wa-monitor/internal/source"
	"github.com/tupski/wa-monitor/internal/status"
	"github.com/tupski/wa-monitor/internal/store"
	intsync "github.com/tupski/wa-monitor/internal/sync"
)

// ErrInvalidArgument is returned for empty ids.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrUnsupported is returned when the source cannot describe accounts.
var ErrUnsupported = errors.New("not supported by source")

// Deps are the components a Monitor fronts.
type Deps struct {
	Session  string
	Source   source.MessageSource
	Cache    *cache.Cache
	Store    *media.Store
	Sync     *intsync.Orchestrator
	Profiles *profile.Loader
	Queue    *mediaqueue.Worker
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Monitor is the transport-independent surface of the daemon.
type Monitor struct {
	Deps

	base   context.Context
	cancel context.CancelFunc
}

// StatusReport summarizes the daemon for wamonctl and /healthz.
type StatusReport struct {
	Session   string                   `json:"session"`
	State     status.State             `json:"state"`
	Since     time.Time                `json:"since"`
	Connected bool                     `json:"connected"`
	Syncing   bool                     `json:"syncing"`
	Record    intsync.CompletionRecord `json:"record"`
}

// NewMonitor creates a Monitor. Sync passes it starts live until Close.
func NewMonitor(d Deps) *Monitor {
	base, cancel := context.WithCancel(context.Background())
	return &Monitor{Deps: d, base: base, cancel: cancel}
}

// Close cancels background work started through the Monitor.
func (m *Monitor) Close() {
	m.cancel()
}

// GetMessages returns a conversation's messages newest first, including
// deleted ones. Deletion records on disk fill in entries the cache lost and
// flag the ones it still holds.
func (m *Monitor) GetMessages(conversationID string) ([]chat.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidArgument
	}
	msgs := m.Cache.GetAll(conversationID)

	records, err := m.Store.LoadDeletionRecords(conversationID)
	if err != nil {
		m.Logger.Warn("failed to load deletion records", zap.String("chat", conversationID), zap.Error(err))
	}
	index := make(map[string]int, len(msgs))
	for i, msg := range msgs {
		index[msg.ID] = i
	}
	for _, rec := range records {
		i, ok := index[rec.ID]
		if !ok {
			index[rec.ID] = len(msgs)
			msgs = append(msgs, rec.Message.Normalize())
			continue
		}
		msgs[i] = applyRecord(msgs[i], rec)
	}

	chat.SortNewestFirst(msgs)
	return msgs, nil
}

// applyRecord flags a cached message from its disk record. An everyone
// deletion outranks a self deletion.
func applyRecord(cur chat.Message, rec media.Record) chat.Message {
	if !cur.Deleted || cur.DeletedScope != chat.ScopeEveryone {
		cur.DeletedScope = rec.DeletedScope
	}
	cur.Deleted = true
	if cur.Body == nil {
		cur.Body = rec.Body
	}
	if cur.Media == nil {
		cur.Media = rec.Media
	}
	return cur
}

// RequestMediaDownload queues a download of a message's media. The result
// arrives as media.downloaded or media.failed.
func (m *Monitor) RequestMediaDownload(messageID, conversationID string) (*store.MediaRequest, error) {
	if messageID == "" || conversationID == "" {
		return nil, ErrInvalidArgument
	}
	return m.Queue.Request(conversationID, messageID)
}

// StartSync starts a full pass unless one is running or today's is done.
func (m *Monitor) StartSync() intsync.StartResult {
	return m.Sync.Start(m.base)
}

// StopSync asks the running pass to stop. Returns false when none is running.
func (m *Monitor) StopSync() bool {
	return m.Sync.Stop()
}

// GetSyncProgress returns a snapshot of the current or last pass.
func (m *Monitor) GetSyncProgress() intsync.Progress {
	return m.Sync.Progress()
}

// ListConversations returns every known conversation, most recent first.
func (m *Monitor) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	return m.Source.ListConversations(ctx)
}

// GetCallLogs returns the call logs seen for a conversation.
func (m *Monitor) GetCallLogs(conversationID string) []chat.CallLog {
	return m.Cache.CallLogs(conversationID)
}

// LoadProfiles loads avatars for ids, or for every conversation when ids is
// empty. Blocks until done; returns profile.ErrBusy if a load is running.
func (m *Monitor) LoadProfiles(ctx context.Context, ids []string) (profile.Summary, error) {
	if len(ids) == 0 {
		convs, err := m.Source.ListConversations(ctx)
		if err != nil {
			return profile.Summary{}, err
		}
		for _, c := range convs {
			ids = append(ids, c.ID)
		}
	}
	return m.Profiles.LoadAll(ctx, ids)
}

// GetContactInfo describes a contact, with its cached avatar when present.
func (m *Monitor) GetContactInfo(ctx context.Context, contactID string) (chat.Contact, error) {
	if contactID == "" {
		return chat.Contact{}, ErrInvalidArgument
	}
	dir, ok := m.Source.(source.Directory)
	if !ok {
		return chat.Contact{}, ErrUnsupported
	}
	c, err := dir.ContactInfo(ctx, contactID)
	if err != nil {
		return chat.Contact{}, err
	}
	return m.withAvatar(c, contactID), nil
}

// GetSelfInfo describes the logged-in account.
func (m *Monitor) GetSelfInfo(ctx context.Context) (chat.Contact, error) {
	dir, ok := m.Source.(source.Directory)
	if !ok {
		return chat.Contact{}, ErrUnsupported
	}
	c, err := dir.SelfInfo(ctx)
	if err != nil {
		return chat.Contact{}, err
	}
	return m.withAvatar(c, c.ID), nil
}

// LoadProfile fetches one contact's avatar on demand.
func (m *Monitor) LoadProfile(ctx context.Context, contactID string) (profile.Item, error) {
	if contactID == "" {
		return profile.Item{}, ErrInvalidArgument
	}
	return m.Profiles.Load(ctx, contactID), nil
}

func (m *Monitor) withAvatar(c chat.Contact, id string) chat.Contact {
	if _, err := os.Stat(m.Store.ProfilePath(id)); err == nil {
		c.ProfilePicture = m.Store.ProfileRel(id)
	}
	return c
}

// Status reports the connection and sync state.
func (m *Monitor) Status() StatusReport {
	return StatusReport{
		Session:   m.Session,
		State:     m.Machine.Current(),
		Since:     m.Machine.Since(),
		Connected: m.Machine.Connected(),
		Syncing:   m.Sync.Running(),
		Record:    m.Sync.Record(),
	}
}
