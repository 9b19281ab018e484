package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const chatColumns = `id, kind, title, network, account_id, handle, phone, normalized_phone, email,
	COALESCE(contact_id, ''), contact_matched_at, contact_override,
	last_activity_at, unread_count, archived, muted, pinned, blocked,
	newest_sort_key, oldest_sort_key, message_count, has_complete_history,
	last_messages_synced_at, last_message, last_message_from, needs_reply`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (*Chat, error) {
	var c Chat
	err := r.Scan(&c.ID, &c.Kind, &c.Title, &c.Network, &c.AccountID, &c.Handle, &c.Phone, &c.NormalizedPhone, &c.Email,
		&c.ContactID, &c.ContactMatchedAt, &c.ContactOverride,
		&c.LastActivityAt, &c.UnreadCount, &c.Archived, &c.Muted, &c.Pinned, &c.Blocked,
		&c.Window.NewestSortKey, &c.Window.OldestSortKey, &c.Window.MessageCount, &c.Window.HasCompleteHistory,
		&c.LastMessagesSyncedAt, &c.LastMessage, &c.LastMessageFrom, &c.NeedsReply)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanChats(rows *sql.Rows) ([]Chat, error) {
	defer func() { _ = rows.Close() }()
	var chats []Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

// UpsertChat inserts a chat on first sight or patches its remote metadata.
// The window descriptor and derived last-message fields are left alone; they are owned
// by the message page writes. The activity timestamp never moves backwards, and a
// contact link set by user override is preserved. Reports whether the chat was created.
func (db *DB) UpsertChat(c *Chat) (bool, error) {
	now := time.Now().UnixMilli()
	kind := c.Kind
	if kind == "" {
		kind = KindSingle
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO chats (id, kind, title, network, account_id, handle, phone, normalized_phone, email,
			contact_id, contact_matched_at, last_activity_at, unread_count, archived, muted, pinned, blocked,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID, kind, c.Title, c.Network, c.AccountID, c.Handle, c.Phone, c.NormalizedPhone, c.Email,
		nullString(c.ContactID), c.ContactMatchedAt, c.LastActivityAt, c.UnreadCount,
		c.Archived, c.Muted, c.Pinned, c.Blocked, now, now)
	if err != nil {
		return false, fmt.Errorf("insert chat: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if inserted == 0 {
		if _, err := tx.Exec(`
			UPDATE chats SET
				kind = ?, title = ?, network = ?, account_id = ?,
				handle = ?, phone = ?, normalized_phone = ?, email = ?,
				contact_matched_at = CASE
					WHEN contact_override = 1 THEN contact_matched_at
					WHEN COALESCE(contact_id, '') = ? THEN contact_matched_at
					ELSE ? END,
				contact_id = CASE WHEN contact_override = 1 THEN contact_id ELSE ? END,
				last_activity_at = MAX(last_activity_at, ?),
				unread_count = ?, archived = ?, muted = ?, pinned = ?, blocked = ?,
				updated_at = ?
			WHERE id = ?`,
			kind, c.Title, c.Network, c.AccountID,
			c.Handle, c.Phone, c.NormalizedPhone, c.Email,
			c.ContactID, c.ContactMatchedAt,
			nullString(c.ContactID),
			c.LastActivityAt,
			c.UnreadCount, c.Archived, c.Muted, c.Pinned, c.Blocked,
			now, c.ID); err != nil {
			return false, fmt.Errorf("update chat: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit chat: %w", err)
	}
	return inserted == 1, nil
}

// GetChat returns a single chat by ID, or nil if it does not exist.
func (db *DB) GetChat(id string) (*Chat, error) {
	c, err := scanChat(db.QueryRow(`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListChats returns chats sorted by activity descending.
func (db *DB) ListChats(limit, offset int) ([]Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+chatColumns+` FROM chats
		ORDER BY last_activity_at DESC, id
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanChats(rows)
}

// ListSingleChats returns every single-type chat in ID order.
func (db *DB) ListSingleChats() ([]Chat, error) {
	rows, err := db.Query(`SELECT `+chatColumns+` FROM chats WHERE kind = ? ORDER BY id`, KindSingle)
	if err != nil {
		return nil, err
	}
	return scanChats(rows)
}

// ChatsForRematch returns single chats plausibly affected by an identifier change:
// those whose handle matches one of handles (case-insensitive, leading @ ignored), whose normalized
// phone is one of phones, or that are currently linked to contactID.
func (db *DB) ChatsForRematch(handles, phones []string, contactID string) ([]Chat, error) {
	var (
		conds []string
		args  = []any{KindSingle}
	)
	if len(handles) > 0 {
		conds = append(conds, "LTRIM(TRIM(handle), '@') COLLATE NOCASE IN ("+placeholders(len(handles))+")")
		for _, h := range handles {
			args = append(args, h)
		}
	}
	if len(phones) > 0 {
		conds = append(conds, "normalized_phone IN ("+placeholders(len(phones))+")")
		for _, p := range phones {
			args = append(args, p)
		}
	}
	if contactID != "" {
		conds = append(conds, "contact_id = ?")
		args = append(args, contactID)
	}
	if len(conds) == 0 {
		return nil, nil
	}
	rows, err := db.Query(`SELECT `+chatColumns+` FROM chats WHERE kind = ? AND (`+strings.Join(conds, " OR ")+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	return scanChats(rows)
}

// SetChatContact writes the derived contact link. An empty contactID unlinks the chat.
// Chats under user override are not touched; the returned bool reports whether a row changed.
func (db *DB) SetChatContact(chatID, contactID string, matchedAt int64) (bool, error) {
	if contactID == "" {
		matchedAt = 0
	}
	res, err := db.Exec(`
		UPDATE chats SET contact_id = ?, contact_matched_at = ?, updated_at = ?
		WHERE id = ? AND contact_override = 0`,
		nullString(contactID), matchedAt, time.Now().UnixMilli(), chatID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// SetContactOverride pins a chat to contactID regardless of identifier matching.
// An empty contactID releases the override and leaves the link for the next rematch.
func (db *DB) SetContactOverride(chatID, contactID string) error {
	now := time.Now().UnixMilli()
	var err error
	if contactID == "" {
		_, err = db.Exec(`UPDATE chats SET contact_override = 0, updated_at = ? WHERE id = ?`, now, chatID)
	} else {
		_, err = db.Exec(`
			UPDATE chats SET contact_id = ?, contact_matched_at = ?, contact_override = 1, updated_at = ?
			WHERE id = ?`, contactID, now, now, chatID)
	}
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
