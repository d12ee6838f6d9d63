package syncpull

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/observability"
	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
	"go.uber.org/zap"
)

// Puller is the remote surface the engine pulls history through.
type Puller interface {
	PullMessages(ctx context.Context, sess *session.Context, conversationID string, page, size int) (*remote.MessagePage, error)
}

// Config tunes paging and the background sweep.
type Config struct {
	PageSize int
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	return c
}

// Engine reconciles local message state with the server. It pulls history
// page by page, merging each page idempotently and persisting a per-
// conversation page checkpoint so an interrupted sync resumes at the last
// unfinished page instead of restarting. It also ingests live events from
// the receive path off the bus.
type Engine struct {
	db     *store.DB
	remote Puller
	sess   *session.Context
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a sync engine.
func NewEngine(db *store.DB, r Puller, sess *session.Context, b *bus.Bus, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		db:     db,
		remote: r,
		sess:   sess,
		bus:    b,
		logger: logger,
		cfg:    cfg.withDefaults(),
	}
}

// Start subscribes to inbound server events and, when an interval is
// configured, launches the periodic sweep over all known conversations.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("srv.", 256)

	go func() {
		defer close(e.done)
		defer unsub()

		var tick <-chan time.Time
		if e.cfg.Interval > 0 {
			ticker := time.NewTicker(e.cfg.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-tick:
				e.sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the engine and waits for the worker to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindServerMessage:
		msg, ok := evt.Payload.(*store.Message)
		if !ok {
			return
		}
		if err := e.IngestInbound(msg); err != nil {
			e.logger.Error("failed to ingest inbound message",
				zap.String("client_msg_id", msg.ClientMsgID), zap.Error(err))
		}
	case bus.KindServerAck:
		ack, ok := evt.Payload.(bus.ServerAck)
		if !ok {
			return
		}
		if err := e.applyAck(ack); err != nil {
			e.logger.Error("failed to apply ack",
				zap.String("client_msg_id", ack.ClientMsgID), zap.Error(err))
		}
	}
}

func (e *Engine) sweep(ctx context.Context) {
	convs, err := e.db.ListConversations(0, 0)
	if err != nil {
		e.logger.Error("sweep failed to list conversations", zap.Error(err))
		return
	}
	for _, c := range convs {
		if ctx.Err() != nil {
			return
		}
		if err := e.SyncConversation(ctx, c.ID); err != nil {
			e.logger.Warn("sweep sync failed",
				zap.String("conversation_id", c.ID), zap.Error(err))
		}
	}
}

// IngestInbound upserts a live inbound message and refreshes conversation
// metadata. Idempotent on the message's client id.
func (e *Engine) IngestInbound(msg *store.Message) error {
	if msg.Status == "" {
		msg.Status = store.StatusReceived
	}
	if err := e.db.UpsertMessage(msg); err != nil {
		return fmt.Errorf("upsert inbound message: %w", err)
	}
	if err := e.db.TouchConversation(msg.ConversationID, msg.Timestamp, msg.Body); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if msg.SequenceID > 0 {
		if err := e.db.AdvanceHighWaterMark(msg.ConversationID, msg.SequenceID); err != nil {
			return fmt.Errorf("advance high-water mark: %w", err)
		}
	}
	e.bus.Publish(bus.KindMessageUpserted, bus.MessageRef{
		ConversationID: msg.ConversationID,
		ClientMsgID:    msg.ClientMsgID,
	})
	return nil
}

// applyAck records the server-assigned sequence id for a locally sent
// message and reports the outcome on the bus.
func (e *Engine) applyAck(ack bus.ServerAck) error {
	if !ack.OK {
		if err := e.db.UpdateMessageStatus(ack.ClientMsgID, store.StatusFailed); err != nil {
			return err
		}
		e.bus.Publish(bus.KindMessageFailed, bus.MessageRef{ClientMsgID: ack.ClientMsgID})
		return nil
	}
	if err := e.db.MarkMessageSequenced(ack.ClientMsgID, ack.SequenceID, store.StatusSent); err != nil {
		return err
	}
	e.bus.Publish(bus.KindMessageAck, ack)
	return nil
}

func checkpointKey(conversationID string) string {
	return "syncpage:" + conversationID
}

// SyncConversation pulls the conversation's history from the last
// checkpointed page until the server reports no more. Each page is merged
// in a single database transaction, so a crash mid-sync loses at most the
// page in flight.
func (e *Engine) SyncConversation(ctx context.Context, conversationID string) error {
	page := 1
	if v, err := e.db.GetCheckpoint(checkpointKey(conversationID)); err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	} else if v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := e.remote.PullMessages(ctx, e.sess, conversationID, page, e.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("pull page %d: %w", page, err)
		}

		merged, maxSeq, err := e.mergePage(conversationID, result.Items)
		if err != nil {
			return fmt.Errorf("merge page %d: %w", page, err)
		}
		if maxSeq > 0 {
			if err := e.db.AdvanceHighWaterMark(conversationID, maxSeq); err != nil {
				return fmt.Errorf("advance high-water mark: %w", err)
			}
		}

		observability.SyncPagesMergedTotal.Inc()
		observability.SyncMessagesMergedTotal.Add(float64(merged))
		e.bus.Publish(bus.KindSyncPageMerged, map[string]any{
			"conversation_id": conversationID,
			"page":            page,
			"messages":        merged,
		})

		// The last page is re-requested next time so new messages appended
		// to it are picked up.
		next := page
		if result.HasMore {
			next = page + 1
		}
		if err := e.db.SetCheckpoint(checkpointKey(conversationID), strconv.Itoa(next)); err != nil {
			return fmt.Errorf("write checkpoint: %w", err)
		}

		if !result.HasMore {
			e.logger.Info("conversation synced",
				zap.String("conversation_id", conversationID),
				zap.Int("last_page", page))
			return nil
		}
		page = next
	}
}

// mergePage applies one history page atomically and returns the merged row
// count and the highest sequence id seen.
func (e *Engine) mergePage(conversationID string, items []remote.MessageRecord) (int, int64, error) {
	if len(items) == 0 {
		return 0, 0, nil
	}

	tx, err := e.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	var (
		maxSeq   int64
		lastTs   int64
		lastBody string
	)
	for _, rec := range items {
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, client_msg_id, sequence_id, sender_id, sender_name, msg_type, status, body, attachment, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(client_msg_id) DO UPDATE SET
				sequence_id = CASE WHEN excluded.sequence_id > 0 THEN excluded.sequence_id ELSE messages.sequence_id END,
				sender_name = excluded.sender_name,
				status = excluded.status,
				body = excluded.body,
				attachment = excluded.attachment`,
			conversationID, rec.ClientMsgID, rec.SequenceID, rec.SenderID, rec.SenderName,
			rec.Type, rec.Status, rec.Body, rec.Attachment, rec.Timestamp, now); err != nil {
			return 0, 0, fmt.Errorf("upsert message %s: %w", rec.ClientMsgID, err)
		}
		if rec.SequenceID > maxSeq {
			maxSeq = rec.SequenceID
		}
		if rec.Timestamp >= lastTs {
			lastTs = rec.Timestamp
			lastBody = rec.Body
		}
	}

	if _, err := tx.Exec(`
		UPDATE conversations SET
			last_message_at = MAX(last_message_at, ?),
			last_message_preview = CASE WHEN ? >= last_message_at THEN ? ELSE last_message_preview END,
			updated_at = ?
		WHERE id = ?`, lastTs, lastTs, truncate(lastBody, 100), now, conversationID); err != nil {
		return 0, 0, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit page: %w", err)
	}
	return len(items), maxSeq, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
