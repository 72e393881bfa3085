// Package sourcetest provides an in-memory MessageSource for tests.
package sourcetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tupski/wa-monitor/internal/chat"
	"github.com/tupski/wa-monitor/internal/source"
)

// Fake is a scripted MessageSource. Messages are served newest first in the
// order they appear in History.
type Fake struct {
	mu sync.Mutex

	Conversations []chat.Conversation
	ListErr       error

	History  map[string][]chat.Message
	FetchErr map[string]error
	// Endless makes every fetch return a full batch of synthetic messages.
	Endless bool
	// OnFetch runs before each fetch is served, outside the lock.
	OnFetch func(conversationID string)

	Media    map[string]source.Blob
	MediaErr map[string][]error

	Profiles   map[string]string
	ProfileErr map[string]error

	Contacts map[string]chat.Contact
	Self     *chat.Contact

	fetches      map[string]int
	totalFetches int
	mediaCalls   map[string]int
}

var _ source.MessageSource = (*Fake)(nil)

func (f *Fake) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return append([]chat.Conversation(nil), f.Conversations...), nil
}

func (f *Fake) FetchMessageBatch(ctx context.Context, conversationID string, limit int, cursor source.Cursor) ([]chat.Message, error) {
	f.mu.Lock()
	hook := f.OnFetch
	f.mu.Unlock()
	if hook != nil {
		hook(conversationID)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetches == nil {
		f.fetches = make(map[string]int)
	}
	call := f.fetches[conversationID]
	f.fetches[conversationID]++
	f.totalFetches++

	if err := f.FetchErr[conversationID]; err != nil {
		return nil, err
	}

	if f.Endless {
		out := make([]chat.Message, limit)
		for i := range out {
			out[i] = chat.Message{
				ID:             fmt.Sprintf("%s-%d-%d", conversationID, call, i),
				ConversationID: conversationID,
				Timestamp:      int64(1_000_000 - call*limit - i),
				Body:           chat.Text("synthetic"),
				Type:           chat.KindChat,
			}
		}
		return out, nil
	}

	all := f.History[conversationID]
	start := 0
	if !cursor.IsZero() {
		start = len(all)
		for i, m := range all {
			if m.ID == cursor.BeforeID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	return append([]chat.Message(nil), all[start:end]...), nil
}

func (f *Fake) DownloadMessageMedia(ctx context.Context, msg chat.Message) (source.Blob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaCalls == nil {
		f.mediaCalls = make(map[string]int)
	}
	f.mediaCalls[msg.ID]++
	if errs := f.MediaErr[msg.ID]; len(errs) > 0 {
		err := errs[0]
		f.MediaErr[msg.ID] = errs[1:]
		if err != nil {
			return source.Blob{}, err
		}
	}
	blob, ok := f.Media[msg.ID]
	if !ok {
		return source.Blob{}, source.ErrNoMedia
	}
	return blob, nil
}

func (f *Fake) ProfileImageURL(ctx context.Context, contactID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ProfileErr[contactID]; err != nil {
		return "", err
	}
	return f.Profiles[contactID], nil
}

func (f *Fake) ContactInfo(ctx context.Context, contactID string) (chat.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Contacts[contactID]
	if !ok {
		return chat.Contact{}, source.ErrUnknownContact
	}
	return c, nil
}

func (f *Fake) SelfInfo(ctx context.Context) (chat.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Self == nil {
		return chat.Contact{}, errors.New("not logged in")
	}
	return *f.Self, nil
}

// Fetches returns how many batches were requested for a conversation.
func (f *Fake) Fetches(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[conversationID]
}

// TotalFetches returns how many batches were requested overall.
func (f *Fake) TotalFetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalFetches
}

// MediaCalls returns how many downloads were attempted for a message.
func (f *Fake) MediaCalls(messageID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mediaCalls[messageID]
}
