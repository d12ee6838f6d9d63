package conversation

import (
	"context"
	"fmt"

	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
	"go.uber.org/zap"
)

// Creator is the remote surface the resolver needs: create-or-get a private
// conversation for a user pair.
type Creator interface {
	CreateOrGetConversation(ctx context.Context, sess *session.Context, peerID string) (*remote.ConversationRecord, error)
}

// Result is the outcome of a conversation resolution.
type Result struct {
	ConversationID string
	Created        bool
	Err            error
}

// OK reports whether resolution produced a usable conversation id.
func (r Result) OK() bool {
	return r.Err == nil && r.ConversationID != ""
}

// Resolver maps a user pair to its single private conversation. The local
// store is the fast path; misses go to the service, which owns conversation
// identity, and the answer is cached locally. Concurrent resolutions of the
// same pair converge on one id because the server's create-or-get is
// idempotent and the local member key is unique.
type Resolver struct {
	db     *store.DB
	remote Creator
	sess   *session.Context
	logger *zap.Logger
}

// NewResolver creates a resolver over the local store and the remote
// service.
func NewResolver(db *store.DB, r Creator, sess *session.Context, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, remote: r, sess: sess, logger: logger}
}

// EnsureSession returns the private conversation between the current user
// and peerID, creating it on the server when no local record exists.
func (r *Resolver) EnsureSession(ctx context.Context, peerID string) Result {
	currentUserID := r.sess.UserID()
	if currentUserID == "" {
		return Result{Err: session.ErrNotAuthenticated}
	}
	if peerID == "" || peerID == currentUserID {
		return Result{Err: fmt.Errorf("invalid peer id %q", peerID)}
	}

	local, err := r.db.FindPrivateConversation(currentUserID, peerID)
	if err != nil {
		return Result{Err: fmt.Errorf("lookup conversation: %w", err)}
	}
	if local != nil {
		return Result{ConversationID: local.ID}
	}

	rec, err := r.remote.CreateOrGetConversation(ctx, r.sess, peerID)
	if err != nil {
		return Result{Err: fmt.Errorf("create conversation with %s: %w", peerID, err)}
	}

	conv := &store.Conversation{
		ID:        rec.ID,
		Type:      store.ConvPrivate,
		Status:    store.ConvActive,
		MemberKey: store.PairKey(currentUserID, peerID),
		Members: []store.Member{
			{UserID: currentUserID},
			{UserID: peerID},
		},
	}
	if err := r.db.UpsertConversation(conv); err != nil {
		return Result{Err: fmt.Errorf("cache conversation %s: %w", rec.ID, err)}
	}

	r.logger.Info("resolved new conversation",
		zap.String("conversation_id", rec.ID),
		zap.String("peer_id", peerID))
	return Result{ConversationID: rec.ID, Created: true}
}
