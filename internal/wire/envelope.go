package wire

import (
	"encoding/json"
	"fmt"
)

// Envelope is the unit carried by every frame: a thin routing header plus a
// polymorphic JSON payload discriminated by Type. New operations are added
// as new payload types, not new header fields.
type Envelope struct {
	Type           string          `json:"type"`
	TxnID          string          `json:"txn_id,omitempty"`
	ClientMsgID    string          `json:"client_msg_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	From           string          `json:"from,omitempty"`
	SequenceID     int64           `json:"sequence_id,omitempty"`
	Ts             int64           `json:"ts,omitempty"` // unix ms
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Envelope types sent by the client.
const (
	TypeSendMessage  = "send_message"
	TypeCreateConv   = "create_conversation"
	TypeUpdateStatus = "update_status"
	TypeSyncConv     = "sync_conversation"
	TypePing         = "ping"
)

// Envelope types received from the server.
const (
	TypeAck     = "ack"
	TypeMessage = "message"
	TypeError   = "error"
	TypePong    = "pong"
)

// Ack is the server acknowledgement payload for a client operation,
// correlated by TxnID on the envelope.
type Ack struct {
	OK         bool   `json:"ok"`
	SequenceID int64  `json:"sequence_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Code       int    `json:"code,omitempty"`
}

// EncodeEnvelope marshals e into a frame payload. Length-prefix framing is
// the transport's job, not the codec's.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return payload, nil
}

// DecodeEnvelope parses one frame payload into an Envelope. An envelope
// without a type discriminator is malformed.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	return &e, nil
}
