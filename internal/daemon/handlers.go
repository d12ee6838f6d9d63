package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/courier-im/courier/internal/message"
	"github.com/courier-im/courier/internal/outbox"
	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
	"github.com/courier-im/courier/internal/syncpull"
	"github.com/courier-im/courier/internal/transport"
	"github.com/courier-im/courier/internal/wire"
	"go.uber.org/zap"
)

// Handlers implements the outbox transaction types. Transport-bound work
// goes through the supervisor's guarded send; REST-bound work goes through
// the remote client. Handler errors flow back to the outbox, which decides
// between retry and terminal failure.
type Handlers struct {
	db         *store.DB
	supervisor *transport.Supervisor
	remote     *remote.Client
	sess       *session.Context
	engine     *syncpull.Engine
	logger     *zap.Logger
}

// NewHandlers creates the transaction handlers.
func NewHandlers(
	db *store.DB,
	supervisor *transport.Supervisor,
	rc *remote.Client,
	sess *session.Context,
	engine *syncpull.Engine,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		db:         db,
		supervisor: supervisor,
		remote:     rc,
		sess:       sess,
		engine:     engine,
		logger:     logger,
	}
}

// Register binds every transaction type to its handler.
func (h *Handlers) Register(m *outbox.Manager) {
	m.Register(store.TxnSendMessage, h.sendMessage)
	m.Register(store.TxnUploadFile, h.uploadFile)
	m.Register(store.TxnCreateConversation, h.createConversation)
	m.Register(store.TxnUpdateMessageStatus, h.updateStatus)
	m.Register(store.TxnSyncConversation, h.syncConversation)
}

// sendMessage writes the message frame to the server. Success means the
// frame left the socket; the sequence id arrives later in the server's ack
// and is applied by the sync engine.
func (h *Handlers) sendMessage(_ context.Context, txn *store.Transaction) error {
	var p outbox.SendMessagePayload
	if err := outbox.DecodePayload(txn.Payload, &p); err != nil {
		return fmt.Errorf("decode send payload: %w", err)
	}

	body, err := json.Marshal(map[string]string{
		"type":       p.Type,
		"body":       p.Body,
		"attachment": p.Attachment,
	})
	if err != nil {
		return err
	}
	encoded, err := wire.EncodeEnvelope(&wire.Envelope{
		Type:           wire.TypeSendMessage,
		TxnID:          txn.ID,
		ClientMsgID:    p.ClientMsgID,
		ConversationID: p.ConversationID,
		Ts:             time.Now().UnixMilli(),
		Payload:        body,
	})
	if err != nil {
		return err
	}
	return h.supervisor.SendGuarded(encoded)
}

// uploadFile streams the attachment to the REST service and records the
// resulting URL on the message row so the dependent send carries it.
func (h *Handlers) uploadFile(ctx context.Context, txn *store.Transaction) error {
	var p outbox.UploadFilePayload
	if err := outbox.DecodePayload(txn.Payload, &p); err != nil {
		return fmt.Errorf("decode upload payload: %w", err)
	}

	f, err := os.Open(p.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", p.Path, err)
	}
	defer func() { _ = f.Close() }()

	rec, err := h.remote.UploadFile(ctx, h.sess, f, remote.FileMeta{
		Name:        p.Name,
		Size:        p.Size,
		ContentType: p.ContentType,
		Hash:        p.Hash,
	})
	if err != nil {
		return err
	}

	msg, err := h.db.GetMessage(p.ClientMsgID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %s vanished before upload completed", p.ClientMsgID)
	}
	var att message.Attachment
	if err := json.Unmarshal([]byte(msg.Attachment), &att); err != nil {
		return fmt.Errorf("decode attachment metadata: %w", err)
	}
	att.URL = rec.URL
	updated, err := json.Marshal(att)
	if err != nil {
		return err
	}
	msg.Attachment = string(updated)
	if err := h.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("record upload url: %w", err)
	}

	h.logger.Info("attachment uploaded",
		zap.String("client_msg_id", p.ClientMsgID),
		zap.String("file_id", rec.ID))
	return nil
}

func (h *Handlers) createConversation(ctx context.Context, txn *store.Transaction) error {
	var p outbox.CreateConversationPayload
	if err := outbox.DecodePayload(txn.Payload, &p); err != nil {
		return fmt.Errorf("decode create payload: %w", err)
	}

	rec, err := h.remote.CreateOrGetConversation(ctx, h.sess, p.PeerID)
	if err != nil {
		return err
	}
	members := make([]store.Member, 0, len(rec.Members))
	for _, id := range rec.Members {
		members = append(members, store.Member{UserID: id})
	}
	return h.db.UpsertConversation(&store.Conversation{
		ID:        rec.ID,
		Type:      rec.Type,
		Status:    rec.Status,
		MemberKey: store.PairKey(h.sess.UserID(), p.PeerID),
		Members:   members,
	})
}

// updateStatus sends a status change (read receipt, revoke) to the server.
func (h *Handlers) updateStatus(_ context.Context, txn *store.Transaction) error {
	var p outbox.UpdateStatusPayload
	if err := outbox.DecodePayload(txn.Payload, &p); err != nil {
		return fmt.Errorf("decode status payload: %w", err)
	}

	body, err := json.Marshal(map[string]string{"status": p.Status})
	if err != nil {
		return err
	}
	encoded, err := wire.EncodeEnvelope(&wire.Envelope{
		Type:           wire.TypeUpdateStatus,
		TxnID:          txn.ID,
		ClientMsgID:    p.ClientMsgID,
		ConversationID: p.ConversationID,
		Ts:             time.Now().UnixMilli(),
		Payload:        body,
	})
	if err != nil {
		return err
	}
	return h.supervisor.SendGuarded(encoded)
}

func (h *Handlers) syncConversation(ctx context.Context, txn *store.Transaction) error {
	var p outbox.SyncConversationPayload
	if err := outbox.DecodePayload(txn.Payload, &p); err != nil {
		return fmt.Errorf("decode sync payload: %w", err)
	}
	return h.engine.SyncConversation(ctx, p.ConversationID)
}
