package store

import (
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
}

func TestConversationUpsertAndLookup(t *testing.T) {
	db := testDB(t)

	c := &Conversation{
		ID:        "conv-1",
		Type:      ConvPrivate,
		Status:    ConvActive,
		MemberKey: PairKey("u2", "u1"),
		Members:   []Member{{UserID: "u1"}, {UserID: "u2"}},
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	// Lookup is order-insensitive on the pair.
	got, err := db.FindPrivateConversation("u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "conv-1" {
		t.Fatalf("got %v, want conv-1", got)
	}
	got, err = db.FindPrivateConversation("u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "conv-1" {
		t.Fatalf("reversed pair: got %v, want conv-1", got)
	}
	if len(got.Members) != 2 {
		t.Errorf("members = %d, want 2", len(got.Members))
	}

	// Missing pair.
	got, err = db.FindPrivateConversation("u1", "u9")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown pair, got %v", got)
	}
}

func TestConversationUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	c := &Conversation{ID: "conv-1", Type: ConvPrivate, Status: ConvActive, MemberKey: PairKey("a", "b")}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(c); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
}

func TestMessageUpsertDeduplicatesByClientMsgID(t *testing.T) {
	db := testDB(t)

	m := &Message{ConversationID: "conv-1", ClientMsgID: "c1", Type: MsgText, Status: StatusSending, Body: "hi", Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	// Server echo of the same message: updates, never duplicates.
	m.Status = StatusSent
	m.SequenceID = 7
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("conv-1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != StatusSent || msgs[0].SequenceID != 7 {
		t.Errorf("got status=%q seq=%d, want sent/7", msgs[0].Status, msgs[0].SequenceID)
	}
}

func TestMessageSequenceNeverRegressesToZero(t *testing.T) {
	db := testDB(t)

	// Echo with a sequence id lands first, then a stale local re-apply
	// with the zero placeholder.
	if err := db.UpsertMessage(&Message{ConversationID: "c", ClientMsgID: "m", Type: MsgText, Status: StatusSent, SequenceID: 12, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ConversationID: "c", ClientMsgID: "m", Type: MsgText, Status: StatusSent, SequenceID: 0, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetMessage("m")
	if err != nil {
		t.Fatal(err)
	}
	if got.SequenceID != 12 {
		t.Errorf("sequence_id = %d, want 12 (placeholder must not win)", got.SequenceID)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	db := testDB(t)

	txn := &Transaction{ID: "t1", Type: TxnSendMessage, Payload: `{"x":1}`, Priority: PriorityNormal}
	if err := db.InsertTransaction(txn); err != nil {
		t.Fatal(err)
	}

	ok, err := db.MarkTransactionProcessing("t1")
	if err != nil || !ok {
		t.Fatalf("processing: ok=%v err=%v", ok, err)
	}

	// A processing transaction cannot be picked up twice.
	ok, err = db.MarkTransactionProcessing("t1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second MarkTransactionProcessing should not claim the row")
	}

	if err := db.RequeueTransaction("t1", "io timeout"); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetTransaction("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != TxnPending || got.RetryCount != 1 || got.ErrorMessage != "io timeout" {
		t.Errorf("after requeue: %+v", got)
	}

	if ok, _ := db.MarkTransactionProcessing("t1"); !ok {
		t.Fatal("reclaim after requeue failed")
	}
	if err := db.MarkTransactionSuccess("t1"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetTransaction("t1")
	if !got.Terminal() || got.Status != TxnSuccess {
		t.Errorf("status = %q, want terminal success", got.Status)
	}
}

func TestCancelOnlyWhilePending(t *testing.T) {
	db := testDB(t)

	if err := db.InsertTransaction(&Transaction{ID: "t1", Type: TxnSendMessage}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := db.MarkTransactionProcessing("t1"); !ok {
		t.Fatal("claim failed")
	}
	ok, err := db.CancelTransaction("t1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("processing transaction must not be cancellable")
	}

	if err := db.InsertTransaction(&Transaction{ID: "t2", Type: TxnSendMessage}); err != nil {
		t.Fatal(err)
	}
	ok, err = db.CancelTransaction("t2")
	if err != nil || !ok {
		t.Fatalf("pending cancel: ok=%v err=%v", ok, err)
	}
}

func TestPendingTransactionsOrder(t *testing.T) {
	db := testDB(t)

	// Insert out of priority order.
	for _, tc := range []struct {
		id       string
		priority int
	}{
		{"low", PriorityLow},
		{"critical", PriorityCritical},
		{"normal-1", PriorityNormal},
		{"normal-2", PriorityNormal},
	} {
		if err := db.InsertTransaction(&Transaction{ID: tc.id, Type: TxnSendMessage, Priority: tc.priority}); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := db.PendingTransactions()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"critical", "normal-1", "normal-2", "low"}
	if len(pending) != len(want) {
		t.Fatalf("got %d pending, want %d", len(pending), len(want))
	}
	for i, id := range want {
		if pending[i].ID != id {
			t.Errorf("pending[%d] = %q, want %q", i, pending[i].ID, id)
		}
	}
}

func TestRecoverOrphanedTransactions(t *testing.T) {
	db := testDB(t)

	if err := db.InsertTransaction(&Transaction{ID: "t1", Type: TxnSendMessage}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := db.MarkTransactionProcessing("t1"); !ok {
		t.Fatal("claim failed")
	}

	n, err := db.RecoverOrphanedTransactions()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("recovered %d, want 1", n)
	}
	got, _ := db.GetTransaction("t1")
	if got.Status != TxnPending {
		t.Errorf("status = %q, want pending after recovery", got.Status)
	}
}

func TestHighWaterMarkMonotonic(t *testing.T) {
	db := testDB(t)

	if err := db.AdvanceHighWaterMark("c", 10); err != nil {
		t.Fatal(err)
	}
	// Out-of-order arrival must not regress the mark.
	if err := db.AdvanceHighWaterMark("c", 4); err != nil {
		t.Fatal(err)
	}

	hwm, err := db.HighWaterMark("c")
	if err != nil {
		t.Fatal(err)
	}
	if hwm != 10 {
		t.Errorf("hwm = %d, want 10", hwm)
	}
}

func TestCountUnread(t *testing.T) {
	db := testDB(t)

	for i, status := range []string{StatusReceived, StatusReceived, StatusRead} {
		if err := db.UpsertMessage(&Message{
			ConversationID: "c", ClientMsgID: PairKey("m", string(rune('a'+i))),
			Type: MsgText, Status: status, SequenceID: int64(i + 1), Timestamp: int64(i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.CountUnread("c", 0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}
	n, _ = db.CountUnread("c", 1)
	if n != 1 {
		t.Errorf("unread after seq 1 = %d, want 1", n)
	}
}
