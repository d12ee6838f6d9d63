package outbox

import "encoding/json"

// Transaction payloads, serialized into the transactions table. Each outbox
// handler decodes the payload matching its transaction type.

// SendMessagePayload drives a send_message transaction.
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Type           string `json:"type"`
	Body           string `json:"body"`
	Attachment     string `json:"attachment,omitempty"`
}

// UploadFilePayload drives an upload_file transaction.
type UploadFilePayload struct {
	ClientMsgID string `json:"client_msg_id"`
	Path        string `json:"path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`
}

// CreateConversationPayload drives a create_conversation transaction.
type CreateConversationPayload struct {
	PeerID string `json:"peer_id"`
}

// UpdateStatusPayload drives an update_message_status transaction.
type UpdateStatusPayload struct {
	ConversationID string `json:"conversation_id"`
	ClientMsgID    string `json:"client_msg_id"`
	Status         string `json:"status"`
}

// SyncConversationPayload drives a sync_conversation transaction.
type SyncConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// EncodePayload marshals a payload for storage.
func EncodePayload(p any) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodePayload unmarshals a stored payload into out.
func DecodePayload(payload string, out any) error {
	return json.Unmarshal([]byte(payload), out)
}

// clientMsgID extracts the domain key carried by a payload, for correlating
// terminal events back to the message they concern.
func clientMsgID(payload string) string {
	var p struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	if json.Unmarshal([]byte(payload), &p) != nil {
		return ""
	}
	return p.ClientMsgID
}
