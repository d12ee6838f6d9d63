package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/courier-im/courier/internal/wire"
)

// Transport owns one stream socket and speaks length-prefixed frames over
// it. A Transport is bound to a single connection for its whole life: the
// Supervisor replaces the instance on reconnect rather than re-dialing an
// existing one.
//
// Concurrency contract: one writer (the Supervisor, under its send lock)
// and one reader (the read loop). Close may be called from anywhere and is
// idempotent.
type Transport struct {
	conn         net.Conn
	reader       *bufio.Reader
	maxFrameSize uint32

	mu     sync.Mutex
	closed bool

	writeTimeout time.Duration
}

// Options tune a dialed transport.
type Options struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxFrameSize   uint32
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 5 * time.Second
	}
	if out.MaxFrameSize == 0 {
		out.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	return out
}

// Dial opens a stream socket to host:port and wraps it in a Transport.
// Refusal or timeout yields a ConnectError.
func Dial(host string, port int, opts Options) (*Transport, error) {
	opts = opts.withDefaults()
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", addr, opts.ConnectTimeout)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return &Transport{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		maxFrameSize: opts.MaxFrameSize,
		writeTimeout: opts.WriteTimeout,
	}, nil
}

// Send writes one frame: varint32 length prefix followed by the payload.
// The caller serializes Send invocations.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
		t.Close()
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	frame := wire.AppendFrame(make([]byte, 0, len(payload)+wire.MaxVarint32Len), payload)
	if _, err := conn.Write(frame); err != nil {
		// A write error leaves the stream position unknown; the
		// connection is unusable.
		t.Close()
		return fmt.Errorf("transport: write frame: %w", err)
	}
	return nil
}

// ReceiveFrame blocks until one complete frame is read and returns its
// payload. EOF or a read error mid-frame yields ErrConnectionClosed; a
// malformed varint or oversized length prefix yields a ProtocolError.
func (t *Transport) ReceiveFrame() ([]byte, error) {
	payload, err := wire.ReadFrame(t.reader, t.maxFrameSize)
	if err != nil {
		return nil, classifyReadErr(err)
	}
	return payload, nil
}

// IsActive reports whether the socket is connected and not closed.
func (t *Transport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed && t.conn != nil
}

// Close releases the socket. Idempotent; a blocked ReceiveFrame unblocks
// with ErrConnectionClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// RemoteAddr returns the peer address, for logging.
func (t *Transport) RemoteAddr() string {
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}
