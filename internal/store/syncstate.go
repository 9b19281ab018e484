package store

import "time"

// GetSyncState returns the singleton chat-list sync record.
func (db *DB) GetSyncState() (*SyncState, error) {
	var s SyncState
	err := db.QueryRow(`
		SELECT newest_cursor, oldest_cursor, last_synced_at, COALESCE(lock_id, ''), lock_at
		FROM sync_state WHERE id = 1`).
		Scan(&s.NewestCursor, &s.OldestCursor, &s.LastSyncedAt, &s.LockID, &s.LockAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SaveCursors stores the chat-list cursor pair. Empty values keep the stored cursor.
func (db *DB) SaveCursors(newest, oldest string, syncedAt int64) error {
	_, err := db.Exec(`
		UPDATE sync_state SET
			newest_cursor = CASE WHEN ? != '' THEN ? ELSE newest_cursor END,
			oldest_cursor = CASE WHEN ? != '' THEN ? ELSE oldest_cursor END,
			last_synced_at = ?, updated_at = ?
		WHERE id = 1`,
		newest, newest, oldest, oldest, syncedAt, time.Now().UnixMilli())
	return err
}

// AcquireSyncLock takes the advisory list-sync lock for lockID. A lock taken before
// staleBefore is considered abandoned and is reclaimed. Reports whether the lock was acquired.
func (db *DB) AcquireSyncLock(lockID string, now, staleBefore int64) (bool, error) {
	res, err := db.Exec(`
		UPDATE sync_state SET lock_id = ?, lock_at = ?, updated_at = ?
		WHERE id = 1 AND (lock_id IS NULL OR lock_at < ?)`,
		lockID, now, now, staleBefore)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseSyncLock releases the lock if it is still held by lockID.
func (db *DB) ReleaseSyncLock(lockID string) error {
	_, err := db.Exec(`
		UPDATE sync_state SET lock_id = NULL, lock_at = 0, updated_at = ?
		WHERE id = 1 AND lock_id = ?`, time.Now().UnixMilli(), lockID)
	return err
}
