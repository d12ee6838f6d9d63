package wire

import (
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds the payload size a peer may declare. A length
// prefix above the limit is treated as a protocol violation rather than an
// allocation request.
const DefaultMaxFrameSize = 4 << 20 // 4 MiB

// FrameTooLargeError reports a length prefix above the configured maximum.
type FrameTooLargeError struct {
	Size uint32
	Max  uint32
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("wire: frame of %d bytes exceeds maximum %d", e.Size, e.Max)
}

// AppendFrame appends a complete frame (varint32 length prefix followed by
// payload) to b.
func AppendFrame(b, payload []byte) []byte {
	b = AppendVarint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// ReadFrame reads exactly one frame from r. Partial reads are retried until
// the declared payload length is satisfied; an EOF before that is surfaced
// as io.ErrUnexpectedEOF so callers can distinguish a mid-frame close from
// a clean end of stream.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	size, err := ReadVarint32(r)
	if err != nil {
		return nil, err
	}
	if size > maxSize {
		return nil, &FrameTooLargeError{Size: size, Max: maxSize}
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
