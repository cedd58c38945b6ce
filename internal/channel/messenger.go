package channel

import "context"

// Handler receives the raw payload of an inbound message on a channel.
// The returned bytes, when non-nil, are the reply payload; transports that
// do not carry replies discard them.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Messenger moves raw payloads across named channels. Implementations must
// deliver messages on a given channel in the order they were sent.
type Messenger interface {
	// Send transmits payload on the named channel.
	Send(ctx context.Context, channel string, payload []byte) error

	// SetHandler installs the handler for inbound messages on the named
	// channel, replacing any previous handler. A nil handler removes it.
	SetHandler(channel string, h Handler)
}
