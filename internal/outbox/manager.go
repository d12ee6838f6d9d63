package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/observability"
	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler executes one transaction type against the transport or the REST
// service. A nil return is terminal success; an error is judged retryable
// or terminal by the manager.
type Handler func(ctx context.Context, txn *store.Transaction) error

// Config tunes the worker's retry and polling behavior.
type Config struct {
	// MaxRetries is applied to enqueued transactions that do not carry
	// their own retry budget.
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = store.DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Manager is the durable transaction outbox. Enqueue persists a transaction
// and returns immediately; a single worker goroutine drains the queue in
// priority order, one transaction in flight at a time, retrying transient
// failures with exponential backoff and reporting terminal outcomes on the
// bus.
type Manager struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cfg    Config

	mu       sync.RWMutex
	handlers map[string]Handler

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates an outbox manager. Handlers are registered before
// Start.
func NewManager(db *store.DB, b *bus.Bus, cfg Config, logger *zap.Logger) *Manager {
	return &Manager{
		db:       db,
		bus:      b,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]Handler),
		wake:     make(chan struct{}, 1),
	}
}

// Register binds a handler to a transaction type.
func (m *Manager) Register(txnType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[txnType] = h
}

// Enqueue persists the transaction as pending and nudges the worker. It
// never blocks on transport work. A missing id is filled in.
func (m *Manager) Enqueue(txn *store.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	if txn.MaxRetries == 0 {
		txn.MaxRetries = m.cfg.MaxRetries
	}
	if err := m.db.InsertTransaction(txn); err != nil {
		return fmt.Errorf("enqueue transaction: %w", err)
	}
	m.nudge()
	return nil
}

// Cancel moves a pending transaction to cancelled. A processing transaction
// runs to completion first; Cancel reports false for it.
func (m *Manager) Cancel(id string) (bool, error) {
	return m.db.CancelTransaction(id)
}

// CancelAllPending cancels every pending transaction (logout path).
func (m *Manager) CancelAllPending() (int64, error) {
	return m.db.CancelPendingTransactions()
}

// Start recovers transactions orphaned by a previous crash and launches the
// worker.
func (m *Manager) Start(ctx context.Context) error {
	recovered, err := m.db.RecoverOrphanedTransactions()
	if err != nil {
		return fmt.Errorf("recover orphaned transactions: %w", err)
	}
	if recovered > 0 {
		m.logger.Info("recovered orphaned transactions", zap.Int64("count", recovered))
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
	return nil
}

// Stop halts the worker. An in-flight transaction finishes its current
// attempt first.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Manager) nudge() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.drain(ctx)
		select {
		case <-m.wake:
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// drain processes every currently eligible transaction, one at a time.
func (m *Manager) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		txn := m.nextEligible()
		if txn == nil {
			return
		}
		m.process(ctx, txn)
	}
}

// nextEligible returns the first pending transaction, in priority order,
// whose backoff has elapsed and whose dependency (if any) has succeeded.
// Transactions whose dependency failed are failed terminally here.
func (m *Manager) nextEligible() *store.Transaction {
	pending, err := m.db.PendingTransactions()
	if err != nil {
		m.logger.Error("failed to read outbox", zap.Error(err))
		return nil
	}
	now := time.Now().UnixMilli()

	for i := range pending {
		txn := &pending[i]
		if txn.RetryCount > 0 && now < txn.UpdatedAt+m.backoffMillis(txn.RetryCount) {
			continue
		}
		if txn.DependsOn != "" {
			switch m.dependencyState(txn) {
			case depSucceeded:
			case depPending:
				continue
			case depFailed:
				m.failDependent(txn)
				continue
			}
		}
		return txn
	}
	return nil
}

type depState int

const (
	depPending depState = iota
	depSucceeded
	depFailed
)

func (m *Manager) dependencyState(txn *store.Transaction) depState {
	dep, err := m.db.GetTransaction(txn.DependsOn)
	if err != nil {
		m.logger.Error("failed to read dependency", zap.String("txn_id", txn.ID), zap.Error(err))
		return depPending
	}
	switch {
	case dep == nil:
		// The dependency row is gone; nothing will ever satisfy it.
		return depFailed
	case dep.Status == store.TxnSuccess:
		return depSucceeded
	case dep.Status == store.TxnFailed || dep.Status == store.TxnCancelled:
		return depFailed
	default:
		return depPending
	}
}

// failDependent terminally fails a transaction whose dependency cannot
// succeed. It never enters processing.
func (m *Manager) failDependent(txn *store.Transaction) {
	if ok, err := m.db.MarkTransactionProcessing(txn.ID); err != nil || !ok {
		return
	}
	msg := fmt.Sprintf("dependency %s did not succeed", txn.DependsOn)
	if err := m.db.MarkTransactionFailed(txn.ID, msg); err != nil {
		m.logger.Error("failed to mark dependent failed", zap.String("txn_id", txn.ID), zap.Error(err))
		return
	}
	m.emitTerminal(txn, msg)
}

func (m *Manager) process(ctx context.Context, txn *store.Transaction) {
	claimed, err := m.db.MarkTransactionProcessing(txn.ID)
	if err != nil {
		m.logger.Error("failed to claim transaction", zap.String("txn_id", txn.ID), zap.Error(err))
		return
	}
	if !claimed {
		return // cancelled between fetch and claim
	}

	m.mu.RLock()
	handler, ok := m.handlers[txn.Type]
	m.mu.RUnlock()
	if !ok {
		msg := fmt.Sprintf("no handler for transaction type %q", txn.Type)
		_ = m.db.MarkTransactionFailed(txn.ID, msg)
		m.emitTerminal(txn, msg)
		return
	}

	err = handler(ctx, txn)
	if err == nil {
		if err := m.db.MarkTransactionSuccess(txn.ID); err != nil {
			m.logger.Error("failed to mark success", zap.String("txn_id", txn.ID), zap.Error(err))
			return
		}
		m.emitTerminal(txn, "")
		return
	}

	if errors.Is(err, session.ErrNotAuthenticated) || errors.Is(err, remote.ErrUnauthorized) {
		// Not retried: surface to the session layer immediately.
		_ = m.db.MarkTransactionFailed(txn.ID, err.Error())
		m.bus.Publish(bus.KindSessionAuthRequired, err.Error())
		m.emitTerminal(txn, err.Error())
		return
	}

	if !remote.Retryable(err) || txn.RetryCount >= txn.MaxRetries {
		_ = m.db.MarkTransactionFailed(txn.ID, err.Error())
		m.emitTerminal(txn, err.Error())
		return
	}

	observability.TransactionRetriesTotal.Inc()
	m.logger.Warn("transaction attempt failed, requeueing",
		zap.String("txn_id", txn.ID),
		zap.String("type", txn.Type),
		zap.Int("retry_count", txn.RetryCount+1),
		zap.Error(err))
	if err := m.db.RequeueTransaction(txn.ID, err.Error()); err != nil {
		m.logger.Error("failed to requeue", zap.String("txn_id", txn.ID), zap.Error(err))
	}
}

// backoffMillis returns base * 2^(retryCount-1), capped.
func (m *Manager) backoffMillis(retryCount int) int64 {
	d := m.cfg.BackoffBase
	for i := 1; i < retryCount && d < m.cfg.BackoffCap; i++ {
		d *= 2
	}
	if d > m.cfg.BackoffCap {
		d = m.cfg.BackoffCap
	}
	return d.Milliseconds()
}

func (m *Manager) emitTerminal(txn *store.Transaction, errMsg string) {
	result := bus.TxnResult{
		TxnID:       txn.ID,
		Type:        txn.Type,
		ClientMsgID: clientMsgID(txn.Payload),
		Error:       errMsg,
	}
	if errMsg == "" {
		observability.TransactionsTotal.WithLabelValues(txn.Type, "success").Inc()
		m.logger.Info("transaction succeeded", zap.String("txn_id", txn.ID), zap.String("type", txn.Type))
		m.bus.Publish(bus.KindTxnSuccess, result)
		return
	}
	observability.TransactionsTotal.WithLabelValues(txn.Type, "failed").Inc()
	m.logger.Error("transaction failed",
		zap.String("txn_id", txn.ID),
		zap.String("type", txn.Type),
		zap.String("error", errMsg))
	m.bus.Publish(bus.KindTxnFailed, result)
}
