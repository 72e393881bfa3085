package store

import "fmt"

// LIDMapping maps a LID user to a phone number user, both without server part.
type LIDMapping struct {
	LID string
	PN  string
}

// SyncLIDMap replaces the lid_map table with the given mappings.
func (db *DB) SyncLIDMap(mappings []LIDMapping) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM lid_map`); err != nil {
		return fmt.Errorf("clear lid_map: %w", err)
	}
	for _, m := range mappings {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO lid_map (lid, pn) VALUES (?, ?)`, m.LID, m.PN); err != nil {
			return fmt.Errorf("insert lid_map %q: %w", m.LID, err)
		}
	}
	return tx.Commit()
}

// ReconcileLIDs folds @lid chats into their phone-number chats so history
// pages from one conversation id. Messages already present under the phone
// number win over their LID duplicates. Returns the number of LID chats merged.
func (db *DB) ReconcileLIDs() (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		name  string
		query string
	}{
		{"merge chats", `
			INSERT INTO chats (jid, name, is_group, last_message_at, last_message_preview, updated_at)
			SELECT lm.pn || '@s.whatsapp.net', c.name, c.is_group, c.last_message_at, c.last_message_preview, c.updated_at
			FROM chats c
			JOIN lid_map lm ON c.jid = lm.lid || '@lid'
			WHERE true
			ON CONFLICT(jid) DO UPDATE SET
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				last_message_preview = CASE WHEN excluded.last_message_at > chats.last_message_at THEN excluded.last_message_preview ELSE chats.last_message_preview END,
				name = CASE WHEN chats.name = '' THEN excluded.name ELSE chats.name END,
				updated_at = excluded.updated_at`},
		{"move messages", `
			UPDATE OR IGNORE messages SET
				chat_jid = (SELECT lm.pn || '@s.whatsapp.net' FROM lid_map lm WHERE messages.chat_jid = lm.lid || '@lid')
			WHERE chat_jid IN (SELECT lid || '@lid' FROM lid_map)`},
		{"drop duplicate messages", `
			DELETE FROM messages WHERE chat_jid IN (SELECT lid || '@lid' FROM lid_map)`},
		{"map senders", `
			UPDATE messages SET
				sender_jid = (SELECT lm.pn || '@s.whatsapp.net' FROM lid_map lm WHERE messages.sender_jid = lm.lid || '@lid')
			WHERE sender_jid IN (SELECT lid || '@lid' FROM lid_map)`},
		{"merge contacts", `
			INSERT INTO contacts (jid, name, push_name, updated_at)
			SELECT lm.pn || '@s.whatsapp.net', ct.name, ct.push_name, ct.updated_at
			FROM contacts ct
			JOIN lid_map lm ON ct.jid = lm.lid || '@lid'
			WHERE true
			ON CONFLICT(jid) DO UPDATE SET
				name = CASE WHEN contacts.name = '' AND excluded.name != '' THEN excluded.name ELSE contacts.name END,
				push_name = CASE WHEN contacts.push_name = '' AND excluded.push_name != '' THEN excluded.push_name ELSE contacts.push_name END,
				updated_at = excluded.updated_at`},
		{"drop LID contacts", `
			DELETE FROM contacts WHERE jid IN (SELECT lid || '@lid' FROM lid_map)`},
	}
	for _, s := range steps {
		if _, err := tx.Exec(s.query); err != nil {
			return 0, fmt.Errorf("%s: %w", s.name, err)
		}
	}

	result, err := tx.Exec(`DELETE FROM chats WHERE jid IN (SELECT lid || '@lid' FROM lid_map)`)
	if err != nil {
		return 0, fmt.Errorf("drop LID chats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return result.RowsAffected()
}
