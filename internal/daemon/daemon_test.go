package daemon

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/outbox"
	"github.com/courier-im/courier/internal/remote"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
	"github.com/courier-im/courier/internal/syncpull"
	"github.com/courier-im/courier/internal/transport"
	"github.com/courier-im/courier/internal/wire"
	"go.uber.org/zap"
)

func TestRouterRoutesMessage(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("srv.", 16)
	defer unsub()

	router := NewRouter(b, zap.NewNop())
	router.Route(&wire.Envelope{
		Type:           wire.TypeMessage,
		ClientMsgID:    "cmid-1",
		ConversationID: "conv-1",
		From:           "bob",
		SequenceID:     12,
		Ts:             1700000000000,
		Payload:        []byte(`{"type":"text","body":"hi","sender_name":"Bob"}`),
	})

	select {
	case evt := <-events:
		if evt.Kind != bus.KindServerMessage {
			t.Fatalf("kind = %q", evt.Kind)
		}
		msg := evt.Payload.(*store.Message)
		if msg.ClientMsgID != "cmid-1" || msg.SequenceID != 12 || msg.Body != "hi" {
			t.Errorf("msg = %+v", msg)
		}
		if msg.Status != store.StatusReceived {
			t.Errorf("status = %q", msg.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no event routed")
	}
}

func TestRouterRoutesAck(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("srv.", 16)
	defer unsub()

	router := NewRouter(b, zap.NewNop())
	router.Route(&wire.Envelope{
		Type:        wire.TypeAck,
		TxnID:       "txn-1",
		ClientMsgID: "cmid-1",
		Payload:     []byte(`{"ok":true,"sequence_id":99}`),
	})

	select {
	case evt := <-events:
		ack := evt.Payload.(bus.ServerAck)
		if !ack.OK || ack.SequenceID != 99 || ack.TxnID != "txn-1" {
			t.Errorf("ack = %+v", ack)
		}
	case <-time.After(time.Second):
		t.Fatal("no event routed")
	}
}

func TestRouterDropsMalformedPayloads(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe("srv.", 16)
	defer unsub()

	router := NewRouter(b, zap.NewNop())
	router.Route(&wire.Envelope{Type: wire.TypeMessage, Payload: []byte("not json")})
	router.Route(&wire.Envelope{Type: wire.TypeAck, Payload: []byte("not json")})

	select {
	case evt := <-events:
		t.Fatalf("unexpected event %q", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// ackingServer accepts one connection and acknowledges every send_message
// envelope with a monotonically growing sequence id.
func ackingServer(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		reader := bufio.NewReader(conn)
		var seq int64 = 100
		for {
			payload, err := wire.ReadFrame(reader, wire.DefaultMaxFrameSize)
			if err != nil {
				return
			}
			env, err := wire.DecodeEnvelope(payload)
			if err != nil {
				return
			}
			if env.Type != wire.TypeSendMessage {
				continue
			}
			seq++
			ack, err := wire.EncodeEnvelope(&wire.Envelope{
				Type:        wire.TypeAck,
				TxnID:       env.TxnID,
				ClientMsgID: env.ClientMsgID,
				Payload:     []byte(`{"ok":true,"sequence_id":` + itoa(seq) + `}`),
			})
			if err != nil {
				return
			}
			if _, err := conn.Write(wire.AppendFrame(nil, ack)); err != nil {
				return
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func itoa(n int64) string {
	buf := [20]byte{}
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// TestSendDeliveryLifecycle drives a message from outbox enqueue through
// the framed transport to a fake server and back: the ack must sequence the
// local row.
func TestSendDeliveryLifecycle(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	logger := zap.NewNop()
	sess := session.NewContext()
	sess.SetIdentity("alice", "tok")

	router := NewRouter(b, logger)
	sup := transport.NewSupervisor(transport.Options{}, router, b, logger)
	host, port := ackingServer(t)
	if err := sup.Connect(host, port); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sup.Close)

	rc := remote.NewClient("http://127.0.0.1:0", time.Second, logger)
	engine := syncpull.NewEngine(db, rc, sess, b, syncpull.Config{}, logger)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	manager := outbox.NewManager(db, b, outbox.Config{
		BackoffBase:  time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, logger)
	NewHandlers(db, sup, rc, sess, engine, logger).Register(manager)
	if err := manager.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(manager.Stop)

	if err := db.UpsertConversation(&store.Conversation{
		ID:        "conv-1",
		Type:      store.ConvPrivate,
		Status:    store.ConvActive,
		MemberKey: store.PairKey("alice", "bob"),
		Members:   []store.Member{{UserID: "alice"}, {UserID: "bob"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&store.Message{
		ConversationID: "conv-1",
		ClientMsgID:    "cmid-e2e",
		SenderID:       "alice",
		Type:           store.MsgText,
		Status:         store.StatusSending,
		Body:           "end to end",
		Timestamp:      time.Now().UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}

	payload, err := outbox.EncodePayload(outbox.SendMessagePayload{
		ConversationID: "conv-1",
		ClientMsgID:    "cmid-e2e",
		Type:           store.MsgText,
		Body:           "end to end",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := manager.Enqueue(&store.Transaction{
		Type:    store.TxnSendMessage,
		Payload: payload,
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, err := db.GetMessage("cmid-e2e")
		if err != nil {
			t.Fatal(err)
		}
		if msg != nil && msg.Status == store.StatusSent && msg.SequenceID > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	msg, _ := db.GetMessage("cmid-e2e")
	t.Fatalf("message never sequenced: %+v", msg)
}
