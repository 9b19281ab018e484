package store

import (
	"database/sql"
	"fmt"
	"time"
)

const contactColumns = `id, COALESCE(external_id, ''), COALESCE(handle, ''), COALESCE(phone, ''),
	first_name, last_name, email, company, phones, social_handles, normalized_phones,
	notes, tags, lead_status, do_not_sync, merged_from,
	external_updated_at, last_synced_at, last_modified_at, created_at`

func scanContact(r rowScanner) (*Contact, error) {
	var c Contact
	var phones, socials, normalized, tags, mergedFrom string
	if err := r.Scan(&c.ID, &c.ExternalID, &c.Handle, &c.Phone,
		&c.FirstName, &c.LastName, &c.Email, &c.Company, &phones, &socials, &normalized,
		&c.Notes, &tags, &c.LeadStatus, &c.DoNotSync, &mergedFrom,
		&c.ExternalUpdatedAt, &c.LastSyncedAt, &c.LastModifiedAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Phones = decodeStrings(phones)
	c.SocialHandles = decodeStrings(socials)
	c.NormalizedPhones = decodeStrings(normalized)
	c.Tags = decodeStrings(tags)
	c.MergedFrom = decodeStrings(mergedFrom)
	return &c, nil
}

// InsertContact inserts a new contact. The caller assigns the ID.
func (db *DB) InsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO contacts (id, external_id, handle, phone, first_name, last_name, email, company,
			phones, social_handles, normalized_phones, notes, tags, lead_status, do_not_sync, merged_from,
			external_updated_at, last_synced_at, last_modified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullString(c.ExternalID), nullString(c.Handle), nullString(c.Phone),
		c.FirstName, c.LastName, c.Email, c.Company,
		encodeJSON(c.Phones), encodeJSON(c.SocialHandles), encodeJSON(c.NormalizedPhones),
		c.Notes, encodeJSON(c.Tags), c.LeadStatus, c.DoNotSync, encodeJSON(c.MergedFrom),
		c.ExternalUpdatedAt, c.LastSyncedAt, c.LastModifiedAt, c.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

// SaveContact overwrites every column of an existing contact in one statement.
func (db *DB) SaveContact(c *Contact) error {
	res, err := db.Exec(`
		UPDATE contacts SET
			external_id = ?, handle = ?, phone = ?, first_name = ?, last_name = ?, email = ?, company = ?,
			phones = ?, social_handles = ?, normalized_phones = ?, notes = ?, tags = ?, lead_status = ?,
			do_not_sync = ?, merged_from = ?, external_updated_at = ?, last_synced_at = ?, last_modified_at = ?,
			updated_at = ?
		WHERE id = ?`,
		nullString(c.ExternalID), nullString(c.Handle), nullString(c.Phone),
		c.FirstName, c.LastName, c.Email, c.Company,
		encodeJSON(c.Phones), encodeJSON(c.SocialHandles), encodeJSON(c.NormalizedPhones),
		c.Notes, encodeJSON(c.Tags), c.LeadStatus,
		c.DoNotSync, encodeJSON(c.MergedFrom), c.ExternalUpdatedAt, c.LastSyncedAt, c.LastModifiedAt,
		time.Now().UnixMilli(), c.ID)
	if err != nil {
		return fmt.Errorf("save contact %q: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save contact %q: %w", c.ID, sql.ErrNoRows)
	}
	return nil
}

func (db *DB) getContactWhere(where string, arg any) (*Contact, error) {
	c, err := scanContact(db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE `+where+` ORDER BY created_at, id LIMIT 1`, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetContact returns a contact by local ID, or nil.
func (db *DB) GetContact(id string) (*Contact, error) {
	return db.getContactWhere("id = ?", id)
}

// GetContactByExternalID returns the contact linked to a CRM record, or nil.
func (db *DB) GetContactByExternalID(externalID string) (*Contact, error) {
	return db.getContactWhere("external_id = ?", externalID)
}

// GetContactByHandle returns the contact owning a handle (exact match), or nil.
func (db *DB) GetContactByHandle(handle string) (*Contact, error) {
	return db.getContactWhere("handle = ?", handle)
}

// GetContactByPhone returns the contact owning a primary phone (exact match), or nil.
func (db *DB) GetContactByPhone(phone string) (*Contact, error) {
	return db.getContactWhere("phone = ?", phone)
}

// ListContacts returns every contact in storage order.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT ` + contactColumns + ` FROM contacts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// MergeContacts folds duplicateID into primary in one transaction: chats linked to the
// duplicate are pinned to the primary, the duplicate row is deleted and primary is saved.
// Returns the number of chats moved.
func (db *DB) MergeContacts(primary *Contact, duplicateID string) (int64, error) {
	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE chats SET contact_id = ?, contact_matched_at = ?, contact_override = 1, updated_at = ?
		WHERE contact_id = ?`, primary.ID, now, now, duplicateID)
	if err != nil {
		return 0, fmt.Errorf("repoint chats: %w", err)
	}
	moved, _ := res.RowsAffected()

	// The duplicate goes first so the primary can take over its unique identifiers.
	if _, err := tx.Exec(`DELETE FROM contacts WHERE id = ?`, duplicateID); err != nil {
		return 0, fmt.Errorf("delete duplicate: %w", err)
	}
	res, err = tx.Exec(`
		UPDATE contacts SET
			external_id = ?, handle = ?, phone = ?, first_name = ?, last_name = ?, email = ?, company = ?,
			phones = ?, social_handles = ?, normalized_phones = ?, notes = ?, tags = ?, lead_status = ?,
			do_not_sync = ?, merged_from = ?, last_modified_at = ?, updated_at = ?
		WHERE id = ?`,
		nullString(primary.ExternalID), nullString(primary.Handle), nullString(primary.Phone),
		primary.FirstName, primary.LastName, primary.Email, primary.Company,
		encodeJSON(primary.Phones), encodeJSON(primary.SocialHandles), encodeJSON(primary.NormalizedPhones),
		primary.Notes, encodeJSON(primary.Tags), primary.LeadStatus,
		primary.DoNotSync, encodeJSON(primary.MergedFrom), primary.LastModifiedAt, now, primary.ID)
	if err != nil {
		return 0, fmt.Errorf("save primary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("save primary %q: %w", primary.ID, sql.ErrNoRows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return moved, nil
}
