package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix, so "message." matches
// every message event.
const (
	KindMessageUpserted = "message.upserted"
	KindMessageAck      = "message.send_ack"
	KindMessageFailed   = "message.send_failed"

	KindTxnSuccess = "txn.success"
	KindTxnFailed  = "txn.failed"

	KindConnStateChanged = "conn.state_changed"
	KindConnError        = "conn.error"

	KindSessionStatusChanged = "session.status_changed"
	KindSessionAuthRequired  = "session.auth_required"

	KindSyncPageMerged = "sync.page_merged"

	KindServerMessage = "srv.message"
	KindServerAck     = "srv.ack"
)

// MessageRef identifies a message in message.* event payloads.
type MessageRef struct {
	ConversationID string
	ClientMsgID    string
}

// TxnResult is the payload of txn.* terminal events, correlating the outcome
// back to the enqueuer by transaction id and domain key.
type TxnResult struct {
	TxnID       string
	Type        string
	ClientMsgID string
	Error       string
}

// ServerAck is the payload of srv.ack events: the server's response to a
// framed request, carrying the assigned sequence id on success.
type ServerAck struct {
	TxnID       string
	ClientMsgID string
	SequenceID  int64
	OK          bool
	Error       string
}
