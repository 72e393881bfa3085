package store

import (
	"fmt"
	"time"
)

// QueueMediaRequest records a download request for a message's media. A
// request that is already queued or downloading is left alone; a finished
// or failed one is queued again. Returns the current row.
func (db *DB) QueueMediaRequest(chatJID, msgID string) (*MediaRequest, error) {
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO media_requests (chat_jid, msg_id, status, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?)
		ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
			status = CASE WHEN media_requests.status IN ('queued', 'downloading') THEN media_requests.status ELSE 'queued' END,
			error_message = CASE WHEN media_requests.status IN ('queued', 'downloading') THEN media_requests.error_message ELSE '' END,
			updated_at = excluded.updated_at`,
		chatJID, msgID, now, now); err != nil {
		return nil, fmt.Errorf("queue media request: %w", err)
	}
	return db.GetMediaRequest(chatJID, msgID)
}

// GetMediaRequest returns the request for a message.
func (db *DB) GetMediaRequest(chatJID, msgID string) (*MediaRequest, error) {
	var r MediaRequest
	err := db.QueryRow(`
		SELECT id, chat_jid, msg_id, status, error_message, media_path, attempts
		FROM media_requests WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID).
		Scan(&r.ID, &r.ChatJID, &r.MsgID, &r.Status, &r.ErrorMessage, &r.MediaPath, &r.Attempts)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ClaimMediaRequests moves up to limit queued requests to downloading and
// returns them, oldest first.
func (db *DB) ClaimMediaRequests(limit int) ([]MediaRequest, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`
		SELECT id, chat_jid, msg_id, status, error_message, media_path, attempts
		FROM media_requests WHERE status = 'queued' ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var reqs []MediaRequest
	for rows.Next() {
		var r MediaRequest
		if err := rows.Scan(&r.ID, &r.ChatJID, &r.MsgID, &r.Status, &r.ErrorMessage, &r.MediaPath, &r.Attempts); err != nil {
			_ = rows.Close()
			return nil, err
		}
		reqs = append(reqs, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	for i := range reqs {
		if _, err := tx.Exec(`UPDATE media_requests SET status = 'downloading', attempts = attempts + 1, updated_at = ? WHERE id = ?`, now, reqs[i].ID); err != nil {
			return nil, fmt.Errorf("claim media request %d: %w", reqs[i].ID, err)
		}
		reqs[i].Status = MediaDownloading
		reqs[i].Attempts++
	}
	return reqs, tx.Commit()
}

// MarkMediaDone records a successful download.
func (db *DB) MarkMediaDone(id int64, path string) error {
	_, err := db.Exec(`UPDATE media_requests SET status = 'done', media_path = ?, error_message = '', updated_at = ? WHERE id = ?`,
		path, time.Now().UnixMilli(), id)
	return err
}

// MarkMediaFailed records a failed download.
func (db *DB) MarkMediaFailed(id int64, errMsg string) error {
	_, err := db.Exec(`UPDATE media_requests SET status = 'failed', error_message = ?, updated_at = ? WHERE id = ?`,
		errMsg, time.Now().UnixMilli(), id)
	return err
}

// RequeueStaleMediaRequests returns in-flight requests to the queue. Used at
// startup, when nothing can be in flight.
func (db *DB) RequeueStaleMediaRequests() (int64, error) {
	res, err := db.Exec(`UPDATE media_requests SET status = 'queued', updated_at = ? WHERE status = 'downloading'`, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
