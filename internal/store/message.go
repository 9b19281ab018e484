package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PageWrite is one page of fetched messages to persist for a chat.
type PageWrite struct {
	ChatID   string
	Messages []Message
	// Last, when set, carries the fields derived from the page's chronologically last
	// message. They are written only if that message is not older than the stored window.
	Last *LastMessage
	// SyncedAt, when non-zero, becomes the chat's last_messages_synced_at.
	SyncedAt int64
	// Complete marks the chat as holding its entire upstream history.
	Complete bool
}

// ApplyMessagePage upserts a page of messages, reconciles pending local messages by
// correlation ID, recomputes the chat's message window from the stored rows, and
// writes the derived last-message fields, all in one transaction.
func (db *DB) ApplyMessagePage(p PageWrite) (*Window, error) {
	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range p.Messages {
		m := &p.Messages[i]
		if m.PendingID != "" {
			if err := confirmPending(tx, p.ChatID, m, now); err != nil {
				return nil, fmt.Errorf("confirm pending %q: %w", m.PendingID, err)
			}
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sender_id, sender_name, text, timestamp, sort_key, from_me,
				attachments, reactions, send_status, pending_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				sender_name = excluded.sender_name,
				text = excluded.text,
				attachments = excluded.attachments,
				reactions = excluded.reactions,
				sort_key = COALESCE(messages.sort_key, excluded.sort_key),
				send_status = CASE WHEN messages.send_status IN ('sending', 'failed') THEN 'sent' ELSE messages.send_status END,
				send_error = CASE WHEN messages.send_status IN ('sending', 'failed') THEN '' ELSE messages.send_error END,
				updated_at = excluded.updated_at`,
			p.ChatID, m.MsgID, m.SenderID, m.SenderName, m.Text, m.Timestamp, nullString(m.SortKey), m.FromMe,
			encodeJSON(m.Attachments), encodeJSON(m.Reactions), m.SendStatus, m.PendingID, now, now); err != nil {
			return nil, fmt.Errorf("upsert message %q: %w", m.MsgID, err)
		}
	}

	var w Window
	if err := tx.QueryRow(`
		SELECT COALESCE(MAX(sort_key), ''), COALESCE(MIN(sort_key), ''), COUNT(*)
		FROM messages WHERE chat_id = ?`, p.ChatID).
		Scan(&w.NewestSortKey, &w.OldestSortKey, &w.MessageCount); err != nil {
		return nil, fmt.Errorf("compute window: %w", err)
	}

	var last LastMessage
	hasLast := p.Last != nil
	if hasLast {
		last = *p.Last
	}
	if _, err := tx.Exec(`
		UPDATE chats SET
			last_message = CASE WHEN ? AND ? >= newest_sort_key THEN ? ELSE last_message END,
			last_message_from = CASE WHEN ? AND ? >= newest_sort_key THEN ? ELSE last_message_from END,
			needs_reply = CASE WHEN ? AND ? >= newest_sort_key THEN ? ELSE needs_reply END,
			newest_sort_key = ?, oldest_sort_key = ?, message_count = ?,
			has_complete_history = CASE WHEN ? THEN 1 ELSE has_complete_history END,
			last_messages_synced_at = CASE WHEN ? > 0 THEN ? ELSE last_messages_synced_at END,
			updated_at = ?
		WHERE id = ?`,
		hasLast, last.SortKey, last.Text,
		hasLast, last.SortKey, last.From,
		hasLast, last.SortKey, last.NeedsReply,
		w.NewestSortKey, w.OldestSortKey, w.MessageCount,
		p.Complete,
		p.SyncedAt, p.SyncedAt,
		now, p.ChatID); err != nil {
		return nil, fmt.Errorf("update chat window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit page: %w", err)
	}

	chat, err := db.GetChat(p.ChatID)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		w.HasCompleteHistory = chat.Window.HasCompleteHistory
	}
	return &w, nil
}

// confirmPending hands the confirmed external ID to the local placeholder carrying the
// same correlation ID. If the confirmed message is already stored, the placeholder is dropped.
func confirmPending(tx *sql.Tx, chatID string, m *Message, now int64) error {
	res, err := tx.Exec(`
		UPDATE messages SET msg_id = ?, sort_key = ?, timestamp = ?, send_status = 'sent', send_error = '', updated_at = ?
		WHERE chat_id = ? AND pending_id = ? AND msg_id != ?
			AND NOT EXISTS (SELECT 1 FROM messages WHERE chat_id = ? AND msg_id = ?)`,
		m.MsgID, nullString(m.SortKey), m.Timestamp, now,
		chatID, m.PendingID, m.MsgID, chatID, m.MsgID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = tx.Exec(`
		DELETE FROM messages
		WHERE chat_id = ? AND pending_id = ? AND msg_id != ? AND send_status IN ('sending', 'failed')`,
		chatID, m.PendingID, m.MsgID)
	return err
}

// insertLocalMessage stores a locally composed message ahead of upstream confirmation.
func insertLocalMessage(tx *sql.Tx, m *Message, now int64) error {
	_, err := tx.Exec(`
		INSERT INTO messages (chat_id, msg_id, sender_id, text, timestamp, from_me, send_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		m.ChatID, m.MsgID, m.SenderID, m.Text, m.Timestamp, StatusSending, now, now)
	return err
}

// SetMessagePending records the correlation ID returned by the chat source for a local message.
func (db *DB) SetMessagePending(chatID, msgID, pendingID string) error {
	_, err := db.Exec(`UPDATE messages SET pending_id = ?, updated_at = ? WHERE chat_id = ? AND msg_id = ?`,
		pendingID, time.Now().UnixMilli(), chatID, msgID)
	return err
}

// MarkMessageFailed flags a local message as failed with the given error.
func (db *DB) MarkMessageFailed(chatID, msgID, errMsg string) error {
	_, err := db.Exec(`
		UPDATE messages SET send_status = 'failed', send_error = ?, updated_at = ?
		WHERE chat_id = ? AND msg_id = ? AND send_status = 'sending'`,
		errMsg, time.Now().UnixMilli(), chatID, msgID)
	return err
}

const messageColumns = `id, chat_id, msg_id, sender_id, sender_name, text, timestamp, COALESCE(sort_key, ''),
	from_me, attachments, reactions, send_status, send_error, pending_id`

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	var attachments, reactions string
	if err := r.Scan(&m.ID, &m.ChatID, &m.MsgID, &m.SenderID, &m.SenderName, &m.Text, &m.Timestamp, &m.SortKey,
		&m.FromMe, &attachments, &reactions, &m.SendStatus, &m.SendError, &m.PendingID); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(attachments), &m.Attachments)
	_ = json.Unmarshal([]byte(reactions), &m.Reactions)
	return &m, nil
}

// GetMessage returns a message by chat and external ID, or nil if it does not exist.
func (db *DB) GetMessage(chatID, msgID string) (*Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND msg_id = ?`, chatID, msgID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns messages for a chat newest first using keyset pagination by sort key.
// Unconfirmed local messages sort ahead of everything on the first page.
func (db *DB) ListMessages(chatID, beforeSortKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if beforeSortKey == "" {
		rows, err = db.Query(`
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ?
			ORDER BY (sort_key IS NULL) DESC, sort_key DESC, id DESC
			LIMIT ?`, chatID, limit)
	} else {
		rows, err = db.Query(`
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = ? AND sort_key < ?
			ORDER BY sort_key DESC
			LIMIT ?`, chatID, beforeSortKey, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
