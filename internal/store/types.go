package store

import (
	"sort"
	"strings"
)

// Conversation types.
const (
	ConvPrivate = "private"
	ConvGroup   = "group"
)

// Conversation statuses.
const (
	ConvActive   = "active"
	ConvInactive = "inactive"
	ConvDeleted  = "deleted"
)

// Message types.
const (
	MsgText  = "text"
	MsgFile  = "file"
	MsgVoice = "voice"
	MsgVideo = "video"
	MsgImage = "image"
)

// Message statuses.
const (
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusReceived = "received"
	StatusFailed   = "failed"
	StatusRead     = "read"
	StatusUnread   = "unread"
	StatusDeleted  = "deleted"
	StatusRevoked  = "revoked"
)

// Transaction types.
const (
	TxnCreateConversation  = "create_conversation"
	TxnSendMessage         = "send_message"
	TxnUploadFile          = "upload_file"
	TxnUpdateMessageStatus = "update_message_status"
	TxnSyncConversation    = "sync_conversation"
)

// Transaction statuses. Success, Failed and Cancelled are terminal.
const (
	TxnPending    = "pending"
	TxnProcessing = "processing"
	TxnSuccess    = "success"
	TxnFailed     = "failed"
	TxnCancelled  = "cancelled"
)

// Transaction priorities. Higher numbers drain first.
const (
	PriorityLow      = 0
	PriorityNormal   = 1
	PriorityHigh     = 2
	PriorityCritical = 3
)

// DefaultMaxRetries bounds transport retries per transaction.
const DefaultMaxRetries = 3

// Member is one conversation participant.
type Member struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// Conversation is a locally stored conversation record.
type Conversation struct {
	ID                 string
	Type               string
	Status             string
	MemberKey          string
	Members            []Member
	LastMessageAt      int64
	LastMessagePreview string
}

// Message is a locally stored message row, keyed by ClientMsgID for
// deduplication across local insert, server echo and history sync.
type Message struct {
	RowID          int64
	ConversationID string
	ClientMsgID    string
	SequenceID     int64
	SenderID       string
	SenderName     string
	Type           string
	Status         string
	Body           string
	Attachment     string // JSON file metadata for binary message types
	Timestamp      int64
}

// Transaction is one outbox-managed unit of work.
type Transaction struct {
	ID           string
	Type         string
	Payload      string
	Status       string
	Priority     int
	RetryCount   int
	MaxRetries   int
	DependsOn    string // transaction id that must succeed first
	ErrorMessage string
	CreatedAt    int64
	UpdatedAt    int64
}

// Terminal reports whether the transaction can no longer change state.
func (t *Transaction) Terminal() bool {
	return t.Status == TxnSuccess || t.Status == TxnFailed || t.Status == TxnCancelled
}

// PairKey returns the canonical member key for an unordered user pair.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
