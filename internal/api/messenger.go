package api

import (
	"context"
	"fmt"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/conversation"
	"github.com/courier-im/courier/internal/message"
	"github.com/courier-im/courier/internal/outbox"
	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Authenticator is the remote login surface.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*remote.LoginResult, error)
}

// Messenger is the daemon's client-facing surface. Send operations are
// accepted locally and delivered asynchronously: the message row is written
// optimistically and its transactions go to the outbox, so callers return
// before any network work happens.
type Messenger struct {
	db          *store.DB
	bus         *bus.Bus
	manager     *outbox.Manager
	resolver    *conversation.Resolver
	sess        *session.Context
	auth        Authenticator
	sessionName string
	logger      *zap.Logger
}

// NewMessenger wires the client surface over the store, outbox and
// resolver.
func NewMessenger(
	db *store.DB,
	b *bus.Bus,
	manager *outbox.Manager,
	resolver *conversation.Resolver,
	sess *session.Context,
	auth Authenticator,
	sessionName string,
	logger *zap.Logger,
) *Messenger {
	return &Messenger{
		db:          db,
		bus:         b,
		manager:     manager,
		resolver:    resolver,
		sess:        sess,
		auth:        auth,
		sessionName: sessionName,
		logger:      logger,
	}
}

// Login exchanges credentials for a session token and persists it.
func (m *Messenger) Login(ctx context.Context, username, password string) error {
	result, err := m.auth.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	m.sess.SetIdentity(result.UserID, result.Token)
	if err := m.sess.SaveToken(session.TokenPath(m.sessionName)); err != nil {
		m.logger.Warn("failed to persist token", zap.Error(err))
	}
	m.logger.Info("logged in", zap.String("user_id", result.UserID))
	return nil
}

// Logout cancels all pending work and clears the session identity.
func (m *Messenger) Logout() error {
	n, err := m.manager.CancelAllPending()
	if err != nil {
		return fmt.Errorf("cancel pending transactions: %w", err)
	}
	if n > 0 {
		m.logger.Info("cancelled pending transactions on logout", zap.Int64("count", n))
	}
	m.sess.Clear()
	return session.RemoveToken(m.sessionName)
}

// SendText queues a text message to peerID and returns its client message
// id.
func (m *Messenger) SendText(ctx context.Context, peerID, text string) (string, error) {
	return m.send(ctx, peerID, store.MsgText, text)
}

// SendFile queues a binary message built from a local file. The message
// type is inferred from the file name.
func (m *Messenger) SendFile(ctx context.Context, peerID, path string) (string, error) {
	return m.send(ctx, peerID, message.InferType("", path), path)
}

func (m *Messenger) send(ctx context.Context, peerID, msgType, body string) (string, error) {
	res := m.resolver.EnsureSession(ctx, peerID)
	if !res.OK() {
		return "", fmt.Errorf("resolve conversation: %w", res.Err)
	}

	proc, err := message.NewProcessor(msgType)
	if err != nil {
		return "", err
	}
	out, err := proc.Process(ctx, message.Input{
		ConversationID: res.ConversationID,
		SenderID:       m.sess.UserID(),
		Body:           body,
	})
	if err != nil {
		return "", err
	}

	if err := m.db.UpsertMessage(out.Message); err != nil {
		return "", fmt.Errorf("store message: %w", err)
	}
	if err := m.db.TouchConversation(res.ConversationID, out.Message.Timestamp, out.Message.Body); err != nil {
		return "", fmt.Errorf("touch conversation: %w", err)
	}
	for _, txn := range out.Transactions {
		if err := m.manager.Enqueue(txn); err != nil {
			return "", fmt.Errorf("enqueue %s: %w", txn.Type, err)
		}
	}

	m.bus.Publish(bus.KindMessageUpserted, bus.MessageRef{
		ConversationID: res.ConversationID,
		ClientMsgID:    out.Message.ClientMsgID,
	})
	return out.Message.ClientMsgID, nil
}

// ConversationView is a conversation with its derived unread count.
type ConversationView struct {
	store.Conversation
	UnreadCount int64
}

// ListConversations returns conversations by recency with unread counts.
func (m *Messenger) ListConversations(limit, offset int) ([]ConversationView, error) {
	convs, err := m.db.ListConversations(limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		lastRead, err := m.db.LastReadSeq(c.ID)
		if err != nil {
			return nil, err
		}
		unread, err := m.db.CountUnread(c.ID, lastRead)
		if err != nil {
			return nil, err
		}
		views = append(views, ConversationView{Conversation: c, UnreadCount: unread})
	}
	return views, nil
}

// ListMessages returns a conversation's messages in display order.
func (m *Messenger) ListMessages(conversationID string, limit int) ([]store.Message, error) {
	return m.db.ListMessages(conversationID, limit)
}

// MarkRead records everything currently stored for the conversation as read
// locally and queues the read receipt for the server.
func (m *Messenger) MarkRead(conversationID string) error {
	maxSeq, err := m.db.MaxSequenceID(conversationID)
	if err != nil {
		return err
	}
	if err := m.db.SetLastReadSeq(conversationID, maxSeq); err != nil {
		return err
	}

	payload, err := outbox.EncodePayload(outbox.UpdateStatusPayload{
		ConversationID: conversationID,
		Status:         store.StatusRead,
	})
	if err != nil {
		return err
	}
	return m.manager.Enqueue(&store.Transaction{
		ID:       uuid.NewString(),
		Type:     store.TxnUpdateMessageStatus,
		Payload:  payload,
		Priority: store.PriorityLow,
	})
}

// RequestSync queues a history sync for the conversation.
func (m *Messenger) RequestSync(conversationID string) error {
	payload, err := outbox.EncodePayload(outbox.SyncConversationPayload{
		ConversationID: conversationID,
	})
	if err != nil {
		return err
	}
	return m.manager.Enqueue(&store.Transaction{
		ID:       uuid.NewString(),
		Type:     store.TxnSyncConversation,
		Payload:  payload,
		Priority: store.PriorityHigh,
	})
}

// CancelSend withdraws a queued transaction. Returns false once it is past
// the point of no return.
func (m *Messenger) CancelSend(txnID string) (bool, error) {
	return m.manager.Cancel(txnID)
}
