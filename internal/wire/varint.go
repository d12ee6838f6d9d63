package wire

import (
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxVarint32Len is the maximum number of bytes a varint32 may occupy.
const MaxVarint32Len = 5

// ErrVarintOverflow is returned when a varint does not terminate within
// 5 groups, or the 5th group carries bits beyond 32.
var ErrVarintOverflow = errors.New("wire: varint exceeds 32 bits")

// AppendVarint32 appends v in base-128 varint encoding: 7 data bits per
// byte, low-order group first, continuation bit set on all but the last.
func AppendVarint32(b []byte, v uint32) []byte {
	return protowire.AppendVarint(b, uint64(v))
}

// ReadVarint32 reads a varint32 from r one byte at a time, so it never
// consumes bytes belonging to the following payload.
func ReadVarint32(r io.Reader) (uint32, error) {
	var (
		buf [1]byte
		v   uint32
	)
	for i := 0; i < MaxVarint32Len; i++ {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		if i == MaxVarint32Len-1 {
			// Final group: no continuation allowed, and only the
			// low 4 data bits fit into 32 bits.
			if b > 0x0F {
				return 0, ErrVarintOverflow
			}
		}
		v |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrVarintOverflow
}
