package transport

import (
	"errors"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/observability"
	"github.com/courier-im/courier/internal/wire"
	"go.uber.org/zap"
)

// Router receives every decoded inbound envelope. Implementations must hand
// off quickly (publish to the bus, push onto a channel) and must never call
// back into SendGuarded synchronously: the read loop is the connection's
// single reader and blocking it stalls all inbound traffic.
type Router interface {
	Route(env *wire.Envelope)
}

// ConnErrorEvent is the bus payload for conn.error events.
type ConnErrorEvent struct {
	Err      error
	Protocol bool // decode failure rather than socket loss
}

// ReadLoop drains one Transport: it reads frames, decodes envelopes and
// dispatches them to the router until the connection dies or a frame fails
// to decode. Exactly one loop runs per Transport instance. The loop is the
// connection's dead-peer detector: it closes the transport on exit, so a
// peer hangup flips IsActive and the next guarded send redials instead of
// writing into a dead socket.
type ReadLoop struct {
	tr     *Transport
	router Router
	bus    *bus.Bus
	logger *zap.Logger
	done   chan struct{}
}

// NewReadLoop creates a loop bound to tr. Start launches it.
func NewReadLoop(tr *Transport, router Router, b *bus.Bus, logger *zap.Logger) *ReadLoop {
	return &ReadLoop{
		tr:     tr,
		router: router,
		bus:    b,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the background reader goroutine.
func (l *ReadLoop) Start() {
	go l.run()
}

// Wait blocks until the loop has exited. Closing the transport unblocks it.
func (l *ReadLoop) Wait() {
	<-l.done
}

func (l *ReadLoop) run() {
	defer close(l.done)
	// Closing the transport here is what marks the connection dead after
	// a peer hangup or protocol violation.
	defer func() { _ = l.tr.Close() }()
	for {
		payload, err := l.tr.ReceiveFrame()
		if err != nil {
			l.surface(err)
			return
		}
		observability.FramesReceivedTotal.Inc()

		env, err := wire.DecodeEnvelope(payload)
		if err != nil {
			// A frame that cannot be decoded means the stream is
			// desynchronized; only this connection dies.
			l.surface(&ProtocolError{Err: err})
			return
		}
		l.router.Route(env)
	}
}

func (l *ReadLoop) surface(err error) {
	var proto *ProtocolError
	isProto := errors.As(err, &proto)
	if isProto {
		l.logger.Error("read loop: protocol error", zap.Error(err))
	} else {
		l.logger.Info("read loop: connection closed", zap.Error(err))
	}
	if l.bus != nil {
		l.bus.Publish(bus.KindConnError, ConnErrorEvent{Err: err, Protocol: isProto})
	}
}
