package message

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/courier-im/courier/internal/outbox"
	"github.com/courier-im/courier/internal/store"
)

func TestNewProcessorRejectsUnknownType(t *testing.T) {
	if _, err := NewProcessor("sticker"); err == nil {
		t.Fatal("unknown type should fail fast")
	}
	for _, typ := range []string{store.MsgText, store.MsgFile, store.MsgImage, store.MsgVoice, store.MsgVideo} {
		if _, err := NewProcessor(typ); err != nil {
			t.Errorf("NewProcessor(%q) = %v", typ, err)
		}
	}
}

func TestInferType(t *testing.T) {
	cases := []struct {
		contentType string
		filename    string
		want        string
	}{
		{"image/png", "", store.MsgImage},
		{"audio/ogg", "", store.MsgVoice},
		{"video/mp4", "", store.MsgVideo},
		{"application/pdf", "", store.MsgFile},
		{"", "photo.jpg", store.MsgImage},
		{"", "clip.mp4", store.MsgVideo},
		{"", "notes.txt", store.MsgFile},
		{"", "mystery", store.MsgFile},
	}
	for _, tc := range cases {
		if got := InferType(tc.contentType, tc.filename); got != tc.want {
			t.Errorf("InferType(%q, %q) = %q, want %q", tc.contentType, tc.filename, got, tc.want)
		}
	}
}

func TestTextProcessor(t *testing.T) {
	p, err := NewProcessor(store.MsgText)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Process(context.Background(), Input{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Body:           "hello",
	})
	if err != nil {
		t.Fatal(err)
	}

	if out.Message.ClientMsgID == "" {
		t.Error("message needs a client id")
	}
	if out.Message.Status != store.StatusSending {
		t.Errorf("status = %q, want sending", out.Message.Status)
	}
	if out.Message.SequenceID != 0 {
		t.Errorf("unsent message has sequence id %d", out.Message.SequenceID)
	}
	if len(out.Transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(out.Transactions))
	}
	txn := out.Transactions[0]
	if txn.Type != store.TxnSendMessage {
		t.Errorf("txn type = %q", txn.Type)
	}
	var payload outbox.SendMessagePayload
	if err := outbox.DecodePayload(txn.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.ClientMsgID != out.Message.ClientMsgID {
		t.Error("payload and message disagree on client id")
	}
	if payload.Body != "hello" {
		t.Errorf("payload body = %q", payload.Body)
	}
}

func TestTextProcessorRejectsBlank(t *testing.T) {
	p, _ := NewProcessor(store.MsgText)
	if _, err := p.Process(context.Background(), Input{ConversationID: "c", Body: "   "}); err == nil {
		t.Fatal("blank body should be rejected")
	}
}

func TestFileProcessorBuildsDependentTransactions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.pdf")
	if err := os.WriteFile(path, []byte("pdf bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := NewProcessor(store.MsgFile)
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Process(context.Background(), Input{
		ConversationID: "conv-1",
		SenderID:       "alice",
		Body:           path,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(out.Transactions) != 2 {
		t.Fatalf("got %d transactions, want upload then send", len(out.Transactions))
	}
	upload, send := out.Transactions[0], out.Transactions[1]
	if upload.Type != store.TxnUploadFile || send.Type != store.TxnSendMessage {
		t.Fatalf("transaction types = %q, %q", upload.Type, send.Type)
	}
	if send.DependsOn != upload.ID {
		t.Errorf("send depends on %q, want %q", send.DependsOn, upload.ID)
	}

	var att Attachment
	if err := json.Unmarshal([]byte(out.Message.Attachment), &att); err != nil {
		t.Fatal(err)
	}
	if att.Name != "report.pdf" {
		t.Errorf("attachment name = %q", att.Name)
	}
	if att.Size != int64(len("pdf bytes")) {
		t.Errorf("attachment size = %d", att.Size)
	}
	if att.Hash == "" {
		t.Error("attachment hash missing")
	}
	if att.URL != "" {
		t.Error("url should be empty before upload")
	}

	var uploadPayload outbox.UploadFilePayload
	if err := outbox.DecodePayload(upload.Payload, &uploadPayload); err != nil {
		t.Fatal(err)
	}
	if uploadPayload.Hash != att.Hash {
		t.Error("upload payload and attachment disagree on hash")
	}
	if uploadPayload.ClientMsgID != out.Message.ClientMsgID {
		t.Error("upload payload and message disagree on client id")
	}
}

func TestFileProcessorUnreadablePath(t *testing.T) {
	p, _ := NewProcessor(store.MsgImage)
	out, err := p.Process(context.Background(), Input{
		ConversationID: "conv-1",
		Body:           filepath.Join(t.TempDir(), "missing.png"),
	})
	if err == nil {
		t.Fatal("missing file should fail")
	}
	if out != nil {
		t.Error("no outcome should be produced on failure")
	}
}
