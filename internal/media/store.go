// Package media persists downloaded media, per-message JSON snapshots and
// deletion records under one directory per conversation.
package media

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/chat"
)

const (
	trackerFile = "download_tracker.json"
	profilesDir = "profiles"
)

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SafeName maps an id onto a filesystem-safe name.
func SafeName(id string) string {
	return unsafeChars.ReplaceAllString(id, "_")
}

// Record is a deletion record as written to disk.
type Record struct {
	chat.Message
	DeletedAt int64 `json:"deletedAt"`
}

// Store owns the on-disk layout rooted at a single directory.
type Store struct {
	root string
	log  *zap.Logger
	now  func() time.Time
}

// NewStore creates the root and profile directories if needed.
func NewStore(root string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, profilesDir), 0700); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{root: root, log: log, now: time.Now}, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// TrackerPath is where the completion record lives.
func (s *Store) TrackerPath() string {
	return filepath.Join(s.root, trackerFile)
}

// ProfileRel is a contact's avatar path relative to the root.
func (s *Store) ProfileRel(contactID string) string {
	return profilesDir + "/profile_" + SafeName(contactID) + ".jpg"
}

// ProfilePath is where a contact's avatar is cached.
func (s *Store) ProfilePath(contactID string) string {
	return s.LocalPath(s.ProfileRel(contactID))
}

// ConversationDir returns the directory holding a conversation's files.
func (s *Store) ConversationDir(conversationID string) string {
	return filepath.Join(s.root, SafeName(conversationID))
}

// LocalPath resolves a media path returned by Persist to an absolute file path.
func (s *Store) LocalPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Persist writes media bytes for a message and returns its descriptor. The
// descriptor path is relative to the store root, using forward slashes.
func (s *Store) Persist(conversationID, messageID string, data []byte, mimeType string) (chat.Media, error) {
	dir := s.ConversationDir(conversationID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return chat.Media{}, fmt.Errorf("create conversation dir: %w", err)
	}

	mimeType = normalizeMime(mimeType)
	if mimeType == "" && len(data) > 0 {
		mimeType = mimetype.Detect(data).String()
	}

	name := fmt.Sprintf("%d-%s.%s", s.now().UnixMilli(), SafeName(messageID), extensionFor(mimeType))
	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return chat.Media{}, fmt.Errorf("write media: %w", err)
	}

	return chat.Media{
		MimeType: mimeType,
		Path:     SafeName(conversationID) + "/" + name,
	}, nil
}

// FindMedia returns the descriptor of a file Persist already wrote for the
// message. The MIME type comes from the message snapshot when one records
// it, otherwise from the file contents.
func (s *Store) FindMedia(conversationID, messageID string) (chat.Media, bool) {
	dir := s.ConversationDir(conversationID)
	matches, err := filepath.Glob(filepath.Join(dir, "*-"+SafeName(messageID)+".*"))
	if err != nil {
		return chat.Media{}, false
	}
	matches = slices.DeleteFunc(matches, func(p string) bool {
		return strings.HasSuffix(p, ".tmp")
	})
	if len(matches) == 0 {
		return chat.Media{}, false
	}
	slices.Sort(matches)
	found := chat.Media{Path: SafeName(conversationID) + "/" + filepath.Base(matches[0])}

	if snap, err := s.readSnapshot(conversationID, messageID); err == nil && snap.Media != nil && snap.Media.Path == found.Path {
		found.MimeType = snap.Media.MimeType
		return found, true
	}
	if m, err := mimetype.DetectFile(matches[0]); err == nil {
		found.MimeType = normalizeMime(m.String())
	}
	return found, true
}

func (s *Store) readSnapshot(conversationID, messageID string) (chat.Message, error) {
	var msg chat.Message
	data, err := os.ReadFile(filepath.Join(s.ConversationDir(conversationID), "message_"+SafeName(messageID)+".json"))
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(data, &msg)
	return msg, err
}

// WriteSnapshot stores the message metadata as message_{id}.json.
func (s *Store) WriteSnapshot(msg chat.Message) error {
	return s.writeJSON(msg.ConversationID, "message_"+SafeName(msg.ID)+".json", msg)
}

// WriteDeletionRecord stores a deleted message. Scope "me" is written to
// deleted_by_me_{id}.json, anything else to deleted_{id}.json.
func (s *Store) WriteDeletionRecord(msg chat.Message) (Record, error) {
	rec := Record{Message: msg, DeletedAt: s.now().Unix()}
	rec.Deleted = true
	prefix := "deleted_"
	if msg.DeletedScope == chat.ScopeMe {
		prefix = "deleted_by_me_"
	} else {
		rec.DeletedScope = chat.ScopeEveryone
	}
	if err := s.writeJSON(msg.ConversationID, prefix+SafeName(msg.ID)+".json", rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// LoadDeletionRecords reads every deletion record of a conversation. Records
// that fail to parse or validate are skipped.
func (s *Store) LoadDeletionRecords(conversationID string) ([]Record, error) {
	paths, err := filepath.Glob(filepath.Join(s.ConversationDir(conversationID), "deleted_*.json"))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			s.log.Warn("read deletion record", zap.String("path", p), zap.Error(err))
			continue
		}
		if err := validateRecord(data); err != nil {
			s.log.Warn("invalid deletion record", zap.String("path", p), zap.Error(err))
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Warn("decode deletion record", zap.String("path", p), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) writeJSON(conversationID, name string, v any) error {
	dir := s.ConversationDir(conversationID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create conversation dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}

func extensionFor(mimeType string) string {
	if mimeType == "" || mimeType == "application/octet-stream" {
		return "bin"
	}
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	if i := strings.IndexByte(mimeType, '/'); i >= 0 && i < len(mimeType)-1 {
		if ext := SafeName(mimeType[i+1:]); ext != "" {
			return ext
		}
	}
	return "bin"
}
