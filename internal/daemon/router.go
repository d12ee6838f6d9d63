package daemon

import (
	"encoding/json"

	"github.com/courier-im/courier/internal/bus"
	"github.com/courier-im/courier/internal/store"
	"github.com/courier-im/courier/internal/wire"
	"go.uber.org/zap"
)

// Router dispatches inbound server envelopes onto the bus. The read loop
// calls Route synchronously, so everything here must be cheap and must
// never write back to the connection; the bus publish is non-blocking and
// interested workers pick the event up on their own goroutines.
type Router struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewRouter creates the inbound envelope router.
func NewRouter(b *bus.Bus, logger *zap.Logger) *Router {
	return &Router{bus: b, logger: logger}
}

// inboundBody is the payload of a server "message" envelope.
type inboundBody struct {
	Type       string `json:"type"`
	Body       string `json:"body"`
	Attachment string `json:"attachment,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// Route classifies one envelope and publishes it as a srv.* event.
func (r *Router) Route(env *wire.Envelope) {
	switch env.Type {
	case wire.TypeMessage:
		var body inboundBody
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &body); err != nil {
				r.logger.Warn("malformed message payload",
					zap.String("client_msg_id", env.ClientMsgID), zap.Error(err))
				return
			}
		}
		msgType := body.Type
		if msgType == "" {
			msgType = store.MsgText
		}
		r.bus.Publish(bus.KindServerMessage, &store.Message{
			ConversationID: env.ConversationID,
			ClientMsgID:    env.ClientMsgID,
			SequenceID:     env.SequenceID,
			SenderID:       env.From,
			SenderName:     body.SenderName,
			Type:           msgType,
			Status:         store.StatusReceived,
			Body:           body.Body,
			Attachment:     body.Attachment,
			Timestamp:      env.Ts,
		})

	case wire.TypeAck:
		var ack wire.Ack
		if err := json.Unmarshal(env.Payload, &ack); err != nil {
			r.logger.Warn("malformed ack payload",
				zap.String("txn_id", env.TxnID), zap.Error(err))
			return
		}
		r.bus.Publish(bus.KindServerAck, bus.ServerAck{
			TxnID:       env.TxnID,
			ClientMsgID: env.ClientMsgID,
			SequenceID:  ack.SequenceID,
			OK:          ack.OK,
			Error:       ack.Error,
		})

	case wire.TypeError:
		r.logger.Warn("server error envelope",
			zap.String("txn_id", env.TxnID),
			zap.ByteString("payload", env.Payload))

	case wire.TypePong:
		// Keepalive reply; nothing to do.

	default:
		r.logger.Debug("ignoring envelope of unknown type", zap.String("type", env.Type))
	}
}
