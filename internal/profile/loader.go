// Package profile caches contact avatars under the media store.
package profile

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/bus"
	"github.com/tupski/wa-monitor/internal/media"
	"github.com/tupski/wa-monitor/internal/source"
)

// ErrBusy is returned when a load is already in progress.
var ErrBusy = errors.New("profile load already running")

// Summary is the payload of profile.loaded.
type Summary struct {
	Loaded int `json:"loaded"`
	Errors int `json:"errors"`
	Total  int `json:"total"`
}

// Item is the payload of profile.picture.
type Item struct {
	ContactID string `json:"contactId"`
	Path      string `json:"path,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Loader downloads avatars one contact at a time.
type Loader struct {
	src    source.MessageSource
	store  *media.Store
	dl     *media.Downloader
	bus    *bus.Bus
	logger *zap.Logger

	mu      sync.Mutex
	delay   time.Duration
	retries int
	running bool
}

// NewLoader creates a loader with a 200ms pause between contacts.
func NewLoader(src source.MessageSource, store *media.Store, dl *media.Downloader, b *bus.Bus, logger *zap.Logger) *Loader {
	return &Loader{
		src:     src,
		store:   store,
		dl:      dl,
		bus:     b,
		logger:  logger,
		delay:   200 * time.Millisecond,
		retries: media.DefaultRetries,
	}
}

// SetPacing changes the inter-contact delay and download attempt bound.
func (l *Loader) SetPacing(delay time.Duration, retries int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = delay
	if retries > 0 {
		l.retries = retries
	}
}

// LoadAll fetches the avatar of every contact whose file is not cached yet.
// Contacts without a picture count toward neither loaded nor errors.
func (l *Loader) LoadAll(ctx context.Context, contactIDs []string) (Summary, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return Summary{}, ErrBusy
	}
	l.running = true
	delay, retries := l.delay, l.retries
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	sum := Summary{Total: len(contactIDs)}
	for i, id := range contactIDs {
		if i > 0 {
			select {
			case <-ctx.Done():
				l.bus.Emit(bus.KindProfileLoaded, sum)
				return sum, ctx.Err()
			case <-time.After(delay):
			}
		}

		item := l.loadOne(ctx, id, retries)
		switch {
		case item.Error != "":
			sum.Errors++
		case item.Path != "":
			sum.Loaded++
		}
		l.bus.Emit(bus.KindProfilePicture, item)
	}

	l.logger.Info("profile pictures loaded",
		zap.Int("loaded", sum.Loaded),
		zap.Int("errors", sum.Errors),
		zap.Int("total", sum.Total),
	)
	l.bus.Emit(bus.KindProfileLoaded, sum)
	return sum, nil
}

// Load fetches one contact's avatar unless it is already cached. It does not
// wait for a running LoadAll.
func (l *Loader) Load(ctx context.Context, id string) Item {
	l.mu.Lock()
	retries := l.retries
	l.mu.Unlock()

	item := l.loadOne(ctx, id, retries)
	l.bus.Emit(bus.KindProfilePicture, item)
	return item
}

func (l *Loader) loadOne(ctx context.Context, id string, retries int) Item {
	item := Item{ContactID: id}
	dest := l.store.ProfilePath(id)
	if _, err := os.Stat(dest); err == nil {
		item.Path = l.store.ProfileRel(id)
		item.Cached = true
		return item
	}

	url, err := l.src.ProfileImageURL(ctx, id)
	if err != nil {
		l.logger.Warn("profile picture lookup failed", zap.String("contact", id), zap.Error(err))
		item.Error = err.Error()
		return item
	}
	if url == "" {
		return item
	}

	if err := l.dl.DownloadRemote(ctx, url, dest, retries); err != nil {
		item.Error = err.Error()
		return item
	}
	item.Path = l.store.ProfileRel(id)
	return item
}
