package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"textinputd/internal/ipc"
	"textinputd/internal/logging"
)

var errOutboxClosed = errors.New("outbox closed")

// outbox decouples the engine from slow clients. Each client gets a
// bounded queue drained by its own goroutine; a full queue drops the
// frame rather than stalling the engine or the backend event pump.
type outbox struct {
	size    int
	deliver func(clientID string, payload []byte) error
	log     *logging.Logger

	mu     sync.Mutex
	queues map[string]chan []byte
	closed bool

	wg sync.WaitGroup
}

func newOutbox(size int, deliver func(clientID string, payload []byte) error) *outbox {
	if size <= 0 {
		size = 64
	}
	return &outbox{
		size:    size,
		deliver: deliver,
		log:     logging.Default().WithComponent("outbox"),
		queues:  make(map[string]chan []byte),
	}
}

// Send queues a frame for the client, creating its queue on first use.
// A full queue drops the frame.
func (o *outbox) Send(clientID string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("send to %s: %w", clientID, errOutboxClosed)
	}

	q, ok := o.queues[clientID]
	if !ok {
		q = make(chan []byte, o.size)
		o.queues[clientID] = q
		o.wg.Add(1)
		go o.drain(clientID, q)
	}

	select {
	case q <- payload:
	default:
		o.log.Warn("client queue full, frame dropped", "client_id", clientID, "size", o.size)
	}
	return nil
}

// drain delivers queued frames in order until the queue closes or the
// client disconnects.
func (o *outbox) drain(clientID string, q chan []byte) {
	defer o.wg.Done()

	for payload := range q {
		err := o.deliver(clientID, payload)
		if err == nil {
			continue
		}
		if errors.Is(err, ipc.ErrClientGone) {
			o.Remove(clientID)
			return
		}
		o.log.Warn("frame delivery failed", "client_id", clientID, "error", err)
	}
}

// Remove drops the client's queue and any frames still buffered in it.
// Safe to call for unknown clients and after Close.
func (o *outbox) Remove(clientID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if q, ok := o.queues[clientID]; ok {
		delete(o.queues, clientID)
		close(q)
	}
}

// Close stops accepting frames and waits up to grace for the drain
// goroutines to flush what is already queued.
func (o *outbox) Close(grace time.Duration) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for id, q := range o.queues {
		delete(o.queues, id)
		close(q)
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		o.log.Warn("shutdown drain timed out", "grace", grace)
	}
}
