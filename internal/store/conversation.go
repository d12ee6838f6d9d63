package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation record (idempotent
// on id). Concurrent resolvers racing on the same private pair converge via
// the member_key unique index: the conflict clause folds the loser's write
// into the winner's row instead of failing.
func (db *DB) UpsertConversation(c *Conversation) error {
	members, err := json.Marshal(c.Members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO conversations (id, conv_type, status, member_key, members, last_message_at, last_message_preview, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			members = excluded.members,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			last_message_preview = CASE WHEN excluded.last_message_at >= conversations.last_message_at THEN excluded.last_message_preview ELSE conversations.last_message_preview END,
			updated_at = excluded.updated_at`,
		c.ID, c.Type, c.Status, c.MemberKey, string(members), c.LastMessageAt, c.LastMessagePreview, now, now)
	return err
}

// GetConversation returns a conversation by id, or nil if absent.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	return db.scanConversation(db.QueryRow(`
		SELECT id, conv_type, status, member_key, members, last_message_at, last_message_preview
		FROM conversations WHERE id = ?`, id))
}

// FindPrivateConversation returns the private conversation for an unordered
// member pair, or nil if none exists locally. Deleted conversations do not
// count; the pair may be re-resolved remotely.
func (db *DB) FindPrivateConversation(userA, userB string) (*Conversation, error) {
	return db.scanConversation(db.QueryRow(`
		SELECT id, conv_type, status, member_key, members, last_message_at, last_message_preview
		FROM conversations
		WHERE conv_type = ? AND member_key = ? AND status != ?`,
		ConvPrivate, PairKey(userA, userB), ConvDeleted))
}

// ListConversations returns conversations sorted by last message time
// descending, for UI consumption.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, conv_type, status, member_key, members, last_message_at, last_message_preview
		FROM conversations
		WHERE status != ?
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, ConvDeleted, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversationRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// TouchConversation advances the last-message preview without rewriting
// membership.
func (db *DB) TouchConversation(id string, at int64, preview string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE conversations SET
			last_message_at = MAX(last_message_at, ?),
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			updated_at = ?
		WHERE id = ?`, at, at, truncate(preview, 100), now, id)
	return err
}

func (db *DB) scanConversation(row *sql.Row) (*Conversation, error) {
	c, err := scanConversationRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanConversationRow(scan func(...any) error) (*Conversation, error) {
	var (
		c       Conversation
		members string
	)
	if err := scan(&c.ID, &c.Type, &c.Status, &c.MemberKey, &members, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(members), &c.Members); err != nil {
		return nil, fmt.Errorf("unmarshal members: %w", err)
	}
	return &c, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
