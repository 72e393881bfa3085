// Package cache holds the in-memory view of every conversation's messages.
package cache

import (
	"sync"

	"github.com/tupski/wa-monitor/internal/chat"
)

type thread struct {
	msgs  []chat.Message
	index map[string]int
}

func newThread() *thread {
	return &thread{index: make(map[string]int)}
}

func (t *thread) reindex() {
	for i, m := range t.msgs {
		t.index[m.ID] = i
	}
}

// Cache maps conversation ids to messages kept in insertion order. Every
// method is atomic with respect to the others.
type Cache struct {
	mu      sync.RWMutex
	threads map[string]*thread
	calls   map[string][]chat.CallLog
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		threads: make(map[string]*thread),
		calls:   make(map[string][]chat.CallLog),
	}
}

func (c *Cache) thread(conversationID string) *thread {
	t, ok := c.threads[conversationID]
	if !ok {
		t = newThread()
		c.threads[conversationID] = t
	}
	return t
}

func prepare(conversationID string, msg chat.Message) chat.Message {
	msg.ConversationID = conversationID
	return msg.Normalize()
}

// overlay replaces cur with next without forgetting media that was already
// captured or a deletion that was already observed.
func overlay(cur, next chat.Message) chat.Message {
	if next.Media == nil {
		next.Media = cur.Media
	}
	if cur.Deleted {
		next.Deleted = true
		next.DeletedScope = cur.DeletedScope
		if next.Body == nil {
			next.Body = cur.Body
		}
	}
	return next
}

// Upsert appends msg if its id is unseen and replaces the stored entry
// otherwise. Captured media and deletion flags survive the replacement. It
// reports whether the message was new.
func (c *Cache) Upsert(conversationID string, msg chat.Message) bool {
	msg = prepare(conversationID, msg)
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.thread(conversationID)
	if i, ok := t.index[msg.ID]; ok {
		t.msgs[i] = overlay(t.msgs[i], msg)
		return false
	}
	t.index[msg.ID] = len(t.msgs)
	t.msgs = append(t.msgs, msg)
	return true
}

// UpsertHead is Upsert for live traffic: unseen messages go to the front.
func (c *Cache) UpsertHead(conversationID string, msg chat.Message) bool {
	msg = prepare(conversationID, msg)
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.thread(conversationID)
	if i, ok := t.index[msg.ID]; ok {
		t.msgs[i] = overlay(t.msgs[i], msg)
		return false
	}
	t.msgs = append([]chat.Message{msg}, t.msgs...)
	t.reindex()
	return true
}

// Merge folds a fetched batch into a conversation. Known ids are replaced in
// place, unseen ids are appended in batch order. Returns how many were new.
func (c *Cache) Merge(conversationID string, batch []chat.Message) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.thread(conversationID)
	added := 0
	for _, msg := range batch {
		msg = prepare(conversationID, msg)
		if i, ok := t.index[msg.ID]; ok {
			t.msgs[i] = overlay(t.msgs[i], msg)
			continue
		}
		t.index[msg.ID] = len(t.msgs)
		t.msgs = append(t.msgs, msg)
		added++
	}
	return added
}

// GetAll returns a copy of a conversation's messages in insertion order.
func (c *Cache) GetAll(conversationID string) []chat.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return nil
	}
	return append([]chat.Message(nil), t.msgs...)
}

// Get returns one message.
func (c *Cache) Get(conversationID, messageID string) (chat.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return chat.Message{}, false
	}
	i, ok := t.index[messageID]
	if !ok {
		return chat.Message{}, false
	}
	return t.msgs[i], true
}

// Len returns the number of messages cached for a conversation.
func (c *Cache) Len(conversationID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.threads[conversationID]; ok {
		return len(t.msgs)
	}
	return 0
}

// MarkDeleted flags a message as deleted, merging payload over the stored
// entry. A nil payload body or media keeps what was already known. When the
// message was never seen, payload is inserted as a deleted entry. Returns the
// resulting entry.
func (c *Cache) MarkDeleted(conversationID, messageID string, payload chat.Message) chat.Message {
	payload.ID = messageID
	payload = prepare(conversationID, payload)
	if payload.DeletedScope == chat.ScopeNone {
		payload.DeletedScope = chat.ScopeEveryone
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.thread(conversationID)
	i, ok := t.index[messageID]
	if !ok {
		payload.Deleted = true
		t.index[messageID] = len(t.msgs)
		t.msgs = append(t.msgs, payload)
		return payload
	}

	cur := t.msgs[i]
	cur.Deleted = true
	cur.DeletedScope = payload.DeletedScope
	if payload.Body != nil {
		cur.Body = payload.Body
	}
	if payload.Media != nil {
		cur.Media = payload.Media
	}
	if cur.SenderID == "" {
		cur.SenderID = payload.SenderID
	}
	if cur.Timestamp == 0 {
		cur.Timestamp = payload.Timestamp
	}
	t.msgs[i] = cur
	return cur
}

// SetMedia attaches a media descriptor to a cached message.
func (c *Cache) SetMedia(conversationID, messageID string, m chat.Media) (chat.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.threads[conversationID]
	if !ok {
		return chat.Message{}, false
	}
	i, ok := t.index[messageID]
	if !ok {
		return chat.Message{}, false
	}
	t.msgs[i].Media = &m
	return t.msgs[i], true
}

// AddCallLog records a call log entry once per id.
func (c *Cache) AddCallLog(log chat.CallLog) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.calls[log.ConversationID] {
		if existing.ID == log.ID {
			return false
		}
	}
	c.calls[log.ConversationID] = append([]chat.CallLog{log}, c.calls[log.ConversationID]...)
	return true
}

// CallLogs returns a conversation's call logs, newest insert first.
func (c *Cache) CallLogs(conversationID string) []chat.CallLog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]chat.CallLog(nil), c.calls[conversationID]...)
}

// Reset drops everything. On-disk records are untouched.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threads = make(map[string]*thread)
	c.calls = make(map[string][]chat.CallLog)
}
