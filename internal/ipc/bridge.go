package ipc

import (
	"context"
	"sync"

	"textinputd/internal/channel"
	"textinputd/internal/runloop"
)

// Bridge adapts an IPCClient to the channel.Messenger contract so the
// in-process text input core can talk to the daemon. Outbound sends go
// over the socket; daemon-pushed channel messages are posted to the run
// loop and handed to the installed handler, preserving delivery order.
type Bridge struct {
	client *IPCClient
	loop   *runloop.Loop

	mu       sync.Mutex
	handlers map[string]channel.Handler
}

// NewBridge wires a connected client to loop. Installing the bridge
// replaces any channel message handler previously set on the client.
func NewBridge(client *IPCClient, loop *runloop.Loop) *Bridge {
	b := &Bridge{
		client:   client,
		loop:     loop,
		handlers: make(map[string]channel.Handler),
	}
	client.SetChannelMessageHandler(b.dispatch)
	return b
}

// Send transmits payload on the named channel through the daemon.
func (b *Bridge) Send(ctx context.Context, channelName string, payload []byte) error {
	_, err := b.client.ChannelSend(channelName, payload)
	return err
}

// SetHandler installs the handler for daemon-pushed messages on the named
// channel. A nil handler removes it.
func (b *Bridge) SetHandler(channelName string, h channel.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if h == nil {
		delete(b.handlers, channelName)
		return
	}
	b.handlers[channelName] = h
}

// dispatch runs on the client read loop; the handler itself runs on the
// run loop.
func (b *Bridge) dispatch(channelName string, data []byte) {
	b.loop.Post(func() {
		b.mu.Lock()
		h := b.handlers[channelName]
		b.mu.Unlock()

		if h != nil {
			h(context.Background(), data)
		}
	})
}

var _ channel.Messenger = (*Bridge)(nil)
