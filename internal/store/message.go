package store

import (
	"database/sql"
	"time"
)

// UpsertMessage inserts or updates a message, idempotent on client_msg_id.
// The second apply's fields win, except a non-zero sequence id is never
// overwritten by the zero placeholder: a server echo's assignment survives a
// stale local re-apply.
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, client_msg_id, sequence_id, sender_id, sender_name, msg_type, status, body, attachment, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_msg_id) DO UPDATE SET
			sequence_id = CASE WHEN excluded.sequence_id > 0 THEN excluded.sequence_id ELSE messages.sequence_id END,
			sender_name = excluded.sender_name,
			status = excluded.status,
			body = excluded.body,
			attachment = excluded.attachment`,
		m.ConversationID, m.ClientMsgID, m.SequenceID, m.SenderID, m.SenderName,
		m.Type, m.Status, m.Body, m.Attachment, m.Timestamp, now)
	return err
}

// GetMessage returns a message by its client id, or nil if absent.
func (db *DB) GetMessage(clientMsgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, conversation_id, client_msg_id, sequence_id, sender_id, sender_name, msg_type, status, body, attachment, timestamp
		FROM messages WHERE client_msg_id = ?`, clientMsgID).
		Scan(&m.RowID, &m.ConversationID, &m.ClientMsgID, &m.SequenceID, &m.SenderID,
			&m.SenderName, &m.Type, &m.Status, &m.Body, &m.Attachment, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages for a conversation in display order:
// sequence id, then timestamp for rows the server has not sequenced yet.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, client_msg_id, sequence_id, sender_id, sender_name, msg_type, status, body, attachment, timestamp
		FROM messages
		WHERE conversation_id = ? AND status != ?
		ORDER BY sequence_id DESC, timestamp DESC
		LIMIT ?`, conversationID, StatusDeleted, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.RowID, &m.ConversationID, &m.ClientMsgID, &m.SequenceID, &m.SenderID,
			&m.SenderName, &m.Type, &m.Status, &m.Body, &m.Attachment, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// UpdateMessageStatus sets the status of a message by client id.
func (db *DB) UpdateMessageStatus(clientMsgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE client_msg_id = ?`, status, clientMsgID)
	return err
}

// MarkMessageSequenced records the server-assigned sequence id and status
// from an acknowledgement.
func (db *DB) MarkMessageSequenced(clientMsgID string, sequenceID int64, status string) error {
	_, err := db.Exec(`
		UPDATE messages SET
			sequence_id = CASE WHEN ? > 0 THEN ? ELSE sequence_id END,
			status = ?
		WHERE client_msg_id = ?`, sequenceID, sequenceID, status, clientMsgID)
	return err
}

// MaxSequenceID returns the highest sequence id stored for a conversation.
func (db *DB) MaxSequenceID(conversationID string) (int64, error) {
	var seq int64
	err := db.QueryRow(`
		SELECT COALESCE(MAX(sequence_id), 0) FROM messages WHERE conversation_id = ?`,
		conversationID).Scan(&seq)
	return seq, err
}

// CountUnread returns the number of received messages above the given
// sequence id.
func (db *DB) CountUnread(conversationID string, afterSeq int64) (int64, error) {
	var n int64
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND sequence_id > ? AND status IN (?, ?)`,
		conversationID, afterSeq, StatusReceived, StatusUnread).Scan(&n)
	return n, err
}
