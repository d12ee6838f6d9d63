package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarint32RoundTrip(t *testing.T) {
	values := []uint32{
		0, 1, 0x7F, 0x80, 0x81, 300, 0x3FFF, 0x4000,
		1<<21 - 1, 1 << 21, 1<<28 - 1, 1 << 28, 1<<32 - 1,
	}
	for _, v := range values {
		b := AppendVarint32(nil, v)
		require.LessOrEqual(t, len(b), MaxVarint32Len, "value %d", v)

		got, err := ReadVarint32(bytes.NewReader(b))
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
	}
}

func TestVarint32Encoding(t *testing.T) {
	// Known encodings from the base-128 definition.
	assert.Equal(t, []byte{0x00}, AppendVarint32(nil, 0))
	assert.Equal(t, []byte{0x7F}, AppendVarint32(nil, 127))
	assert.Equal(t, []byte{0x80, 0x01}, AppendVarint32(nil, 128))
	assert.Equal(t, []byte{0xAC, 0x02}, AppendVarint32(nil, 300))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, AppendVarint32(nil, 1<<32-1))
}

func TestReadVarint32RejectsOverflow(t *testing.T) {
	cases := [][]byte{
		{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, // 5th group still continues
		{0xFF, 0xFF, 0xFF, 0xFF, 0x10},       // 5th group carries bit 33
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},       // both
	}
	for _, c := range cases {
		_, err := ReadVarint32(bytes.NewReader(c))
		assert.ErrorIs(t, err, ErrVarintOverflow, "input % x", c)
	}
}

func TestReadVarint32TruncatedInput(t *testing.T) {
	_, err := ReadVarint32(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	// Continuation bit set but stream ends.
	_, err = ReadVarint32(bytes.NewReader([]byte{0x80}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadVarint32DoesNotOverread(t *testing.T) {
	// The byte after the varint belongs to the payload and must be left
	// in the reader.
	r := bytes.NewReader([]byte{0x05, 0xAB})
	v, err := ReadVarint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)

	next, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAB}, next)
}
