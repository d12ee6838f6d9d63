package transport

import (
	"errors"
	"fmt"

	"github.com/courier-im/courier/internal/wire"
)

// ErrNotConnected is returned by Send when the socket is not live and no
// reconnect was attempted at this layer. The Supervisor owns reconnects.
var ErrNotConnected = errors.New("transport: not connected")

// ErrConnectionClosed is returned when the peer closes the stream or EOF is
// hit mid-frame.
var ErrConnectionClosed = errors.New("transport: connection closed")

// ConnectError reports a failed dial (refused, unreachable, timeout).
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or oversized frame. It is unrecoverable
// for the connection carrying it.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("transport: protocol violation: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// classifyReadErr maps wire and socket errors from the read path onto the
// transport taxonomy.
func classifyReadErr(err error) error {
	var tooLarge *wire.FrameTooLargeError
	switch {
	case errors.Is(err, wire.ErrVarintOverflow), errors.As(err, &tooLarge):
		return &ProtocolError{Err: err}
	default:
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
}
