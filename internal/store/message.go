package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, has_media, mime_type, raw, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		sender_name = CASE WHEN excluded.sender_name != '' THEN excluded.sender_name ELSE messages.sender_name END,
		body = COALESCE(excluded.body, messages.body),
		message_type = excluded.message_type,
		has_media = excluded.has_media,
		mime_type = excluded.mime_type,
		raw = COALESCE(excluded.raw, messages.raw)`

const touchChatSQL = `
	INSERT INTO chats (jid, last_message_at, last_message_preview, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(jid) DO UPDATE SET
		last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
		last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
		updated_at = excluded.updated_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertMessage(ex execer, m *Message, now int64) error {
	if _, err := ex.Exec(touchChatSQL, m.ChatJID, m.Timestamp, preview(m), now); err != nil {
		return fmt.Errorf("touch chat: %w", err)
	}
	if _, err := ex.Exec(upsertMessageSQL,
		m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType,
		m.FromMe, m.HasMedia, m.MimeType, nullBlob(m.Raw), m.Timestamp, now); err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// UpsertMessage inserts or updates a message (idempotent on chat_jid + msg_id)
// and bumps the chat's last-message summary.
func (db *DB) UpsertMessage(m *Message) error {
	return upsertMessage(db, m, time.Now().UnixMilli())
}

// IngestHistory stores a history chunk in one transaction.
func (db *DB) IngestHistory(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if err := upsertMessage(tx, m, now); err != nil {
			return fmt.Errorf("message %s: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// GetMessage returns one message including its raw payload, or nil.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	var m Message
	var body sql.NullString
	err := db.QueryRow(`
		SELECT chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, has_media, mime_type, raw, timestamp
		FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID).
		Scan(&m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &body, &m.MessageType, &m.FromMe, &m.HasMedia, &m.MimeType, &m.Raw, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if body.Valid {
		m.Body = &body.String
	}
	return &m, nil
}

// ListMessagesBefore pages a chat's history newest first. A zero beforeTs
// starts at the newest message; otherwise rows strictly older than
// (beforeTs, beforeID) are returned. Raw payloads are not loaded.
func (db *DB) ListMessagesBefore(chatJID string, beforeTs int64, beforeID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	const cols = `chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, has_media, mime_type, timestamp`
	var (
		rows *sql.Rows
		err  error
	)
	if beforeTs == 0 && beforeID == "" {
		rows, err = db.Query(`SELECT `+cols+` FROM messages
			WHERE chat_jid = ?
			ORDER BY timestamp DESC, msg_id DESC
			LIMIT ?`, chatJID, limit)
	} else {
		rows, err = db.Query(`SELECT `+cols+` FROM messages
			WHERE chat_jid = ? AND (timestamp < ? OR (timestamp = ? AND msg_id < ?))
			ORDER BY timestamp DESC, msg_id DESC
			LIMIT ?`, chatJID, beforeTs, beforeTs, beforeID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var body sql.NullString
		if err := rows.Scan(&m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &body, &m.MessageType, &m.FromMe, &m.HasMedia, &m.MimeType, &m.Timestamp); err != nil {
			return nil, err
		}
		if body.Valid {
			s := body.String
			m.Body = &s
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of buffered messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func preview(m *Message) string {
	if m.Body != nil && *m.Body != "" {
		return truncate(*m.Body, 100)
	}
	return "[" + m.MessageType + "]"
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
