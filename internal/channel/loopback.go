package channel

import (
	"context"
	"sync"

	"textinputd/internal/runloop"
)

// Loopback is an in-process Messenger for tests and offline use. Outbound
// sends are recorded for inspection; inbound traffic is injected with
// Deliver and handed to the installed handler through the run loop, so
// delivery order matches a real asynchronous transport.
type Loopback struct {
	mu       sync.Mutex
	loop     *runloop.Loop
	handlers map[string]Handler
	sent     []SentMessage
	onSend   func(channel string, call *MethodCall)
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	Channel string
	Call    *MethodCall
}

// NewLoopback creates a loopback messenger that schedules inbound
// deliveries on loop.
func NewLoopback(loop *runloop.Loop) *Loopback {
	return &Loopback{
		loop:     loop,
		handlers: make(map[string]Handler),
	}
}

// Send records the outbound message. Payloads that are not method-call
// envelopes are rejected so tests catch malformed traffic early.
func (l *Loopback) Send(_ context.Context, channel string, payload []byte) error {
	call, err := DecodeMethodCall(payload)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.sent = append(l.sent, SentMessage{Channel: channel, Call: call})
	onSend := l.onSend
	l.mu.Unlock()

	if onSend != nil {
		onSend(channel, call)
	}
	return nil
}

// SetHandler installs the inbound handler for a channel.
func (l *Loopback) SetHandler(channel string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h == nil {
		delete(l.handlers, channel)
		return
	}
	l.handlers[channel] = h
}

// OnSend registers a callback invoked synchronously for every outbound
// message, letting a test play the platform side of a conversation.
func (l *Loopback) OnSend(fn func(channel string, call *MethodCall)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSend = fn
}

// Deliver injects an inbound method call. The handler runs when the loop
// next drains; messages with no handler are dropped.
func (l *Loopback) Deliver(channel, method string, args any) error {
	payload, err := EncodeMethodCall(method, args)
	if err != nil {
		return err
	}

	l.loop.Post(func() {
		l.mu.Lock()
		h := l.handlers[channel]
		l.mu.Unlock()

		if h != nil {
			h(context.Background(), payload)
		}
	})
	return nil
}

// Sent returns a copy of every recorded outbound message.
func (l *Loopback) Sent() []SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SentMessage, len(l.sent))
	copy(out, l.sent)
	return out
}

// SentMethods returns just the outbound method names, in send order.
func (l *Loopback) SentMethods() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.sent))
	for i, m := range l.sent {
		out[i] = m.Call.Method
	}
	return out
}

// LastSent returns the most recent outbound message, or nil.
func (l *Loopback) LastSent() *SentMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sent) == 0 {
		return nil
	}
	m := l.sent[len(l.sent)-1]
	return &m
}

// Reset discards recorded messages.
func (l *Loopback) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent = nil
}
