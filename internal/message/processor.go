package message

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/courier-im/courier/internal/outbox"
	"github.com/courier-im/courier/internal/store"
	"github.com/google/uuid"
)

// Input carries everything a processor needs to build an outgoing message.
// Body holds the text for text messages and the local file path for binary
// types.
type Input struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Body           string
}

// Outcome is what a processor produces: the local message row to persist
// optimistically, and the transactions that deliver it. Transactions are
// ordered; later entries may depend on earlier ones.
type Outcome struct {
	Message      *store.Message
	Transactions []*store.Transaction
}

// Processor turns user input of one message type into a storable message
// plus its delivery transactions. Processors never touch the database or the
// network.
type Processor interface {
	Process(ctx context.Context, in Input) (*Outcome, error)
}

// NewProcessor returns the processor for msgType, failing fast on types no
// processor handles.
func NewProcessor(msgType string) (Processor, error) {
	switch msgType {
	case store.MsgText:
		return &textProcessor{}, nil
	case store.MsgFile, store.MsgImage, store.MsgVoice, store.MsgVideo:
		return &fileProcessor{msgType: msgType}, nil
	default:
		return nil, fmt.Errorf("no processor for message type %q", msgType)
	}
}

// InferType maps a file's content type or extension onto a message type.
// Anything unrecognized is a plain file attachment.
func InferType(contentType, filename string) string {
	if contentType == "" {
		contentType = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	}
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return store.MsgImage
	case strings.HasPrefix(contentType, "audio/"):
		return store.MsgVoice
	case strings.HasPrefix(contentType, "video/"):
		return store.MsgVideo
	default:
		return store.MsgFile
	}
}

type textProcessor struct{}

func (p *textProcessor) Process(_ context.Context, in Input) (*Outcome, error) {
	if strings.TrimSpace(in.Body) == "" {
		return nil, fmt.Errorf("empty message body")
	}

	clientMsgID := uuid.NewString()
	msg := &store.Message{
		ConversationID: in.ConversationID,
		ClientMsgID:    clientMsgID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Type:           store.MsgText,
		Status:         store.StatusSending,
		Body:           in.Body,
		Timestamp:      time.Now().UnixMilli(),
	}

	payload, err := outbox.EncodePayload(outbox.SendMessagePayload{
		ConversationID: in.ConversationID,
		ClientMsgID:    clientMsgID,
		Type:           store.MsgText,
		Body:           in.Body,
	})
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Message: msg,
		Transactions: []*store.Transaction{{
			ID:       uuid.NewString(),
			Type:     store.TxnSendMessage,
			Payload:  payload,
			Priority: store.PriorityNormal,
		}},
	}, nil
}

// Attachment is the JSON metadata stored alongside binary messages. URL is
// empty until the upload transaction completes.
type Attachment struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`
	URL         string `json:"url,omitempty"`
}

type fileProcessor struct {
	msgType string
}

func (p *fileProcessor) Process(_ context.Context, in Input) (*Outcome, error) {
	path := in.Body
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("attachment %s is a directory", path)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash attachment: %w", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	att := Attachment{
		Name:        name,
		Size:        info.Size(),
		ContentType: contentType,
		Hash:        hash,
	}
	attJSON, err := json.Marshal(att)
	if err != nil {
		return nil, err
	}

	clientMsgID := uuid.NewString()
	msg := &store.Message{
		ConversationID: in.ConversationID,
		ClientMsgID:    clientMsgID,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		Type:           p.msgType,
		Status:         store.StatusSending,
		Body:           name,
		Attachment:     string(attJSON),
		Timestamp:      time.Now().UnixMilli(),
	}

	uploadPayload, err := outbox.EncodePayload(outbox.UploadFilePayload{
		ClientMsgID: clientMsgID,
		Path:        path,
		Name:        name,
		Size:        info.Size(),
		ContentType: contentType,
		Hash:        hash,
	})
	if err != nil {
		return nil, err
	}
	sendPayload, err := outbox.EncodePayload(outbox.SendMessagePayload{
		ConversationID: in.ConversationID,
		ClientMsgID:    clientMsgID,
		Type:           p.msgType,
		Body:           name,
		Attachment:     string(attJSON),
	})
	if err != nil {
		return nil, err
	}

	upload := &store.Transaction{
		ID:       uuid.NewString(),
		Type:     store.TxnUploadFile,
		Payload:  uploadPayload,
		Priority: store.PriorityNormal,
	}
	send := &store.Transaction{
		ID:        uuid.NewString(),
		Type:      store.TxnSendMessage,
		Payload:   sendPayload,
		Priority:  store.PriorityNormal,
		DependsOn: upload.ID,
	}

	return &Outcome{Message: msg, Transactions: []*store.Transaction{upload, send}}, nil
}
