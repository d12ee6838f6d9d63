package wire

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("hi"),
		bytes.Repeat([]byte{0xAA}, 127),
		bytes.Repeat([]byte{0xBB}, 128),
		bytes.Repeat([]byte{0xCC}, 70000), // 3-byte length prefix
	}
	for _, p := range payloads {
		framed := AppendFrame(nil, p)
		got, err := ReadFrame(bytes.NewReader(framed), DefaultMaxFrameSize)
		require.NoError(t, err)
		assert.Equal(t, p, got, "payload length %d", len(p))
	}
}

func TestReadFrameBackToBack(t *testing.T) {
	var buf []byte
	buf = AppendFrame(buf, []byte("first"))
	buf = AppendFrame(buf, []byte("second"))

	r := bytes.NewReader(buf)
	a, err := ReadFrame(r, DefaultMaxFrameSize)
	require.NoError(t, err)
	b, err := ReadFrame(r, DefaultMaxFrameSize)
	require.NoError(t, err)

	assert.Equal(t, "first", string(a))
	assert.Equal(t, "second", string(b))
}

func TestReadFrameRejectsOversized(t *testing.T) {
	framed := AppendFrame(nil, bytes.Repeat([]byte{0x01}, 100))
	_, err := ReadFrame(bytes.NewReader(framed), 50)

	var tooLarge *FrameTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, uint32(100), tooLarge.Size)
	assert.Equal(t, uint32(50), tooLarge.Max)
}

// A declared length the stream cannot satisfy must fail rather than block
// forever or return a short payload.
func TestReadFrameTruncatedPayload(t *testing.T) {
	framed := AppendFrame(nil, []byte("hello world"))
	_, err := ReadFrame(bytes.NewReader(framed[:5]), DefaultMaxFrameSize)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Type:           TypeSendMessage,
		TxnID:          "txn-1",
		ClientMsgID:    "cmid-1",
		ConversationID: "conv-1",
		SequenceID:     42,
		Ts:             1700000000000,
		Payload:        json.RawMessage(`{"body":"hi"}`),
	}
	encoded, err := EncodeEnvelope(env)
	require.NoError(t, err)

	raw, err := ReadFrame(bytes.NewReader(AppendFrame(nil, encoded)), DefaultMaxFrameSize)
	require.NoError(t, err)
	got, err := DecodeEnvelope(raw)
	require.NoError(t, err)

	assert.Equal(t, env.Type, got.Type)
	assert.Equal(t, env.TxnID, got.TxnID)
	assert.Equal(t, env.ClientMsgID, got.ClientMsgID)
	assert.Equal(t, env.SequenceID, got.SequenceID)
	assert.JSONEq(t, string(env.Payload), string(got.Payload))
}

func TestDecodeEnvelopeRejectsMalformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"txn_id":"x"}`))
	assert.Error(t, err, "envelope without type")
}
