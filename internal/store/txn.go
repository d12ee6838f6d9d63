package store

import (
	"database/sql"
	"time"
)

// InsertTransaction persists a new transaction as pending.
func (db *DB) InsertTransaction(t *Transaction) error {
	now := time.Now().UnixMilli()
	if t.Status == "" {
		t.Status = TxnPending
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err := db.Exec(`
		INSERT INTO transactions (id, txn_type, payload, status, priority, retry_count, max_retries, depends_on, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Payload, t.Status, t.Priority, t.RetryCount, t.MaxRetries,
		t.DependsOn, t.ErrorMessage, t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTransaction returns a transaction by id, or nil if absent.
func (db *DB) GetTransaction(id string) (*Transaction, error) {
	var t Transaction
	err := db.QueryRow(`
		SELECT id, txn_type, payload, status, priority, retry_count, max_retries, depends_on, error_message, created_at, updated_at
		FROM transactions WHERE id = ?`, id).
		Scan(&t.ID, &t.Type, &t.Payload, &t.Status, &t.Priority, &t.RetryCount,
			&t.MaxRetries, &t.DependsOn, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkTransactionProcessing moves a pending transaction to processing.
// Returns false if the transaction was not pending (already terminal,
// cancelled, or picked up elsewhere).
func (db *DB) MarkTransactionProcessing(id string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE transactions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, TxnProcessing, now, id, TxnPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkTransactionSuccess moves a processing transaction to its terminal
// success state.
func (db *DB) MarkTransactionSuccess(id string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE transactions SET status = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = ?`, TxnSuccess, now, id, TxnProcessing)
	return err
}

// MarkTransactionFailed moves a processing transaction to its terminal
// failed state with a human-readable error.
func (db *DB) MarkTransactionFailed(id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE transactions SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`, TxnFailed, errMsg, now, id, TxnProcessing)
	return err
}

// RequeueTransaction moves a processing transaction back to pending with an
// incremented retry count, recording the error that caused the retry.
func (db *DB) RequeueTransaction(id, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		UPDATE transactions SET status = ?, retry_count = retry_count + 1, error_message = ?, updated_at = ?
		WHERE id = ? AND status = ?`, TxnPending, errMsg, now, id, TxnProcessing)
	return err
}

// CancelTransaction cancels a transaction only while it is pending; a
// processing transaction runs to completion first.
func (db *DB) CancelTransaction(id string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE transactions SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`, TxnCancelled, now, id, TxnPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CancelPendingTransactions cancels every pending transaction (logout path)
// and returns how many were cancelled.
func (db *DB) CancelPendingTransactions() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE transactions SET status = ?, updated_at = ?
		WHERE status = ?`, TxnCancelled, now, TxnPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingTransactions returns pending transactions in dispatch order:
// priority tiers first, FIFO within a tier.
func (db *DB) PendingTransactions() ([]Transaction, error) {
	rows, err := db.Query(`
		SELECT id, txn_type, payload, status, priority, retry_count, max_retries, depends_on, error_message, created_at, updated_at
		FROM transactions WHERE status = ?
		ORDER BY priority DESC, created_at ASC, id ASC`, TxnPending)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var txns []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Payload, &t.Status, &t.Priority, &t.RetryCount,
			&t.MaxRetries, &t.DependsOn, &t.ErrorMessage, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// RecoverOrphanedTransactions demotes processing rows back to pending.
// Called once at startup: a row can only be processing across a restart if
// the previous daemon died mid-flight.
func (db *DB) RecoverOrphanedTransactions() (int64, error) {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE transactions SET status = ?, updated_at = ?
		WHERE status = ?`, TxnPending, now, TxnProcessing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
