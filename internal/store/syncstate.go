package store

import (
	"database/sql"
	"strconv"
	"time"
)

// Sync checkpoints live in the sync_state key/value table. Keys are
// namespaced per conversation.

// SetCheckpoint stores a sync checkpoint value.
func (db *DB) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint retrieves a sync checkpoint value; missing keys return "".
func (db *DB) GetCheckpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// HighWaterMark returns the highest sequence id observed for a conversation
// through sync or live delivery.
func (db *DB) HighWaterMark(conversationID string) (int64, error) {
	v, err := db.GetCheckpoint("hwm:" + conversationID)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// AdvanceHighWaterMark raises the per-conversation high-water mark. It only
// ever moves forward; out-of-order arrivals cannot regress it.
func (db *DB) AdvanceHighWaterMark(conversationID string, seq int64) error {
	cur, err := db.HighWaterMark(conversationID)
	if err != nil {
		return err
	}
	if seq <= cur {
		return nil
	}
	return db.SetCheckpoint("hwm:"+conversationID, strconv.FormatInt(seq, 10))
}

// LastReadSeq returns the sequence id of the last message the user has read
// in a conversation, used for unread computation.
func (db *DB) LastReadSeq(conversationID string) (int64, error) {
	v, err := db.GetCheckpoint("read:" + conversationID)
	if err != nil || v == "" {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// SetLastReadSeq records the last-read sequence id for a conversation.
func (db *DB) SetLastReadSeq(conversationID string, seq int64) error {
	return db.SetCheckpoint("read:"+conversationID, strconv.FormatInt(seq, 10))
}
