package transport

import (
	"sync"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/observability"
	"go.uber.org/zap"
)

// ConnState is the supervisor-owned connection lifecycle state.
type ConnState string

const (
	Disconnected ConnState = "DISCONNECTED"
	Connecting   ConnState = "CONNECTING"
	Connected    ConnState = "CONNECTED"
	Closing      ConnState = "CLOSING"
)

// ConnStateChange is the bus payload for conn.state_changed events.
type ConnStateChange struct {
	From ConnState
	To   ConnState
}

// Supervisor owns the logical connection to the messaging server. It is the
// only component allowed to dial or close the underlying Transport. All
// writes go through SendGuarded, which serializes frame bytes and performs
// at most one synchronous reconnect when the socket has gone stale. While a
// reconnect is in flight, concurrent senders wait on the same lock instead
// of dialing a second time.
type Supervisor struct {
	opts   Options
	router Router
	bus    *bus.Bus
	logger *zap.Logger

	// sendMu serializes writes and makes reconnect attempts mutually
	// exclusive. No blocking read is ever performed under it.
	sendMu sync.Mutex
	tr     *Transport
	loop   *ReadLoop

	stateMu sync.Mutex
	state   ConnState
	host    string
	port    int
}

// NewSupervisor creates a disconnected supervisor. Inbound envelopes from
// every connection it establishes are dispatched to router via a read loop.
func NewSupervisor(opts Options, router Router, b *bus.Bus, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		opts:   opts,
		router: router,
		bus:    b,
		logger: logger,
		state:  Disconnected,
	}
}

// Connect establishes the connection to host:port and remembers the address
// for later reconnects. Safe to call when already connected; the existing
// connection is torn down first.
func (s *Supervisor) Connect(host string, port int) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.stateMu.Lock()
	s.host, s.port = host, port
	s.stateMu.Unlock()

	return s.dialLocked()
}

// SendGuarded writes one frame payload. If the socket is not active it
// attempts exactly one synchronous reconnect to the last known address
// before writing; if that fails, the error propagates without a write.
func (s *Supervisor) SendGuarded(payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.tr == nil || !s.tr.IsActive() {
		observability.ReconnectsTotal.Inc()
		if err := s.dialLocked(); err != nil {
			return err
		}
	}
	if err := s.tr.Send(payload); err != nil {
		s.setState(Disconnected)
		observability.ConnectionUp.Set(0)
		return err
	}
	observability.FramesSentTotal.Inc()
	return nil
}

// IsActive reports whether the current transport is live.
func (s *Supervisor) IsActive() bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.tr != nil && s.tr.IsActive()
}

// State returns the current connection state.
func (s *Supervisor) State() ConnState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Close tears the connection down and stops its read loop. The supervisor
// can be reconnected afterwards via Connect.
func (s *Supervisor) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.setState(Closing)
	s.teardownLocked()
	s.setState(Disconnected)
	observability.ConnectionUp.Set(0)
}

// dialLocked replaces the transport and read loop. Caller holds sendMu.
func (s *Supervisor) dialLocked() error {
	s.stateMu.Lock()
	host, port := s.host, s.port
	s.stateMu.Unlock()
	if host == "" {
		return ErrNotConnected
	}

	s.teardownLocked()
	s.setState(Connecting)

	tr, err := Dial(host, port, s.opts)
	if err != nil {
		s.setState(Disconnected)
		s.logger.Warn("dial failed", zap.String("host", host), zap.Int("port", port), zap.Error(err))
		return err
	}

	s.tr = tr
	s.loop = NewReadLoop(tr, s.router, s.bus, s.logger)
	s.loop.Start()
	s.setState(Connected)
	observability.ConnectionUp.Set(1)
	s.logger.Info("connected", zap.String("remote", tr.RemoteAddr()))
	return nil
}

// teardownLocked closes the current transport, if any, and waits for its
// read loop to exit. Caller holds sendMu.
func (s *Supervisor) teardownLocked() {
	if s.tr != nil {
		_ = s.tr.Close()
	}
	if s.loop != nil {
		s.loop.Wait()
		s.loop = nil
	}
	s.tr = nil
}

func (s *Supervisor) setState(to ConnState) {
	s.stateMu.Lock()
	from := s.state
	s.state = to
	s.stateMu.Unlock()
	if from != to && s.bus != nil {
		s.bus.Publish(bus.KindConnStateChanged, ConnStateChange{From: from, To: to})
	}
}
