// Package ipc provides the daemon handler implementation.
//
// The handler routes channel traffic to the input engine and answers
// status and shutdown requests. Engine integration is injected as
// callbacks so the transport stays independent of daemon internals.
package ipc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"textinputd/internal/channel"
	"textinputd/internal/logging"
	"textinputd/internal/metrics"
)

// StatusFunc builds the daemon status response.
type StatusFunc func(req *StatusRequest) *StatusResponse

// ShutdownFunc triggers daemon shutdown.
type ShutdownFunc func(reason string)

// KeyboardFunc applies an operator keyboard-visibility override.
type KeyboardFunc func(visible bool) (*KeyboardResponse, error)

// StateFunc reports the engine's editing-state mirror.
type StateFunc func() *StateResponse

// DaemonHandler implements the Handler interface for the textinputd daemon
type DaemonHandler struct {
	mu        sync.RWMutex
	version   string
	startedAt time.Time

	statusFn   StatusFunc
	shutdownFn ShutdownFunc
	keyboardFn KeyboardFunc
	stateFn    StateFunc

	// Channel dispatch
	channelHandlers map[string]channel.Handler

	// Event broadcaster (for sending events to clients)
	broadcaster func(*Event)

	log *logging.Logger
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Version  string
	Status   StatusFunc
	Shutdown ShutdownFunc
	Keyboard KeyboardFunc
	State    StateFunc
	Logger   *logging.Logger
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	log := cfg.Logger
	if log == nil {
		log = logging.Default().WithComponent("ipc")
	}

	return &DaemonHandler{
		version:         cfg.Version,
		startedAt:       time.Now(),
		statusFn:        cfg.Status,
		shutdownFn:      cfg.Shutdown,
		keyboardFn:      cfg.Keyboard,
		stateFn:         cfg.State,
		channelHandlers: make(map[string]channel.Handler),
		log:             log,
	}
}

// SetBroadcaster sets the function used to broadcast events
func (h *DaemonHandler) SetBroadcaster(broadcaster func(*Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = broadcaster
}

// SetChannelHandler installs the handler for inbound traffic on the named
// channel. A nil handler removes it.
func (h *DaemonHandler) SetChannelHandler(channelName string, handler channel.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if handler == nil {
		delete(h.channelHandlers, channelName)
		return
	}
	h.channelHandlers[channelName] = handler
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgChannelMessage:
		return h.handleChannelMessage(ctx, client, msg)

	case MsgStatusRequest:
		return h.handleStatus(ctx, client, msg)

	case MsgKeyboardRequest:
		return h.handleKeyboard(ctx, client, msg)

	case MsgStateRequest:
		return h.handleState(ctx, client, msg)

	case MsgShutdown:
		return h.handleShutdown(ctx, client, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

// handleChannelMessage dispatches a method-call envelope to the channel's
// registered handler and returns the acknowledgement.
func (h *DaemonHandler) handleChannelMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var cp ChannelPayload
	if err := Decode(msg.Payload, &cp); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid channel payload"), nil
	}

	h.mu.RLock()
	handler := h.channelHandlers[cp.Channel]
	h.mu.RUnlock()

	if handler == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrNotFound,
			fmt.Sprintf("no handler for channel %q", cp.Channel)), nil
	}

	timer := metrics.GetMetrics().StartDispatchTimer()
	reply, err := handler(ContextWithClientID(ctx, client.ID), cp.Data)
	timer.Stop()

	resp := &ChannelReply{Data: reply}
	if err != nil {
		h.log.Warn("channel handler failed", "channel", cp.Channel, "error", err)
		resp.Error = err.Error()
	}

	return NewResponse(MsgChannelReply, msg.Header.RequestID, resp)
}

// handleStatus handles status requests
func (h *DaemonHandler) handleStatus(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req StatusRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	h.mu.RLock()
	statusFn := h.statusFn
	h.mu.RUnlock()

	var resp *StatusResponse
	if statusFn != nil {
		resp = statusFn(&req)
	}
	if resp == nil {
		resp = &StatusResponse{}
	}
	if resp.Version == "" {
		resp.Version = h.version
	}
	if resp.StartedAt.IsZero() {
		resp.StartedAt = h.startedAt
	}
	if resp.Uptime == 0 {
		resp.Uptime = time.Since(h.startedAt)
	}

	return NewResponse(MsgStatusResponse, msg.Header.RequestID, resp)
}

// handleKeyboard applies an operator keyboard override.
func (h *DaemonHandler) handleKeyboard(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req KeyboardRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
	}

	h.mu.RLock()
	keyboardFn := h.keyboardFn
	h.mu.RUnlock()

	if keyboardFn == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrPermissionDenied, "keyboard control not available"), nil
	}

	h.log.Info("keyboard override", "client_id", client.ID, "visible", req.Visible)

	resp, err := keyboardFn(req.Visible)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	return NewResponse(MsgKeyboardResp, msg.Header.RequestID, resp)
}

// handleState reports the engine editing-state mirror.
func (h *DaemonHandler) handleState(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	h.mu.RLock()
	stateFn := h.stateFn
	h.mu.RUnlock()

	if stateFn == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrPermissionDenied, "state inspection not available"), nil
	}

	return NewResponse(MsgStateResponse, msg.Header.RequestID, stateFn())
}

// handleShutdown handles shutdown requests
func (h *DaemonHandler) handleShutdown(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req ShutdownRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	h.mu.RLock()
	shutdownFn := h.shutdownFn
	broadcaster := h.broadcaster
	h.mu.RUnlock()

	if shutdownFn == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrPermissionDenied, "shutdown not permitted"), nil
	}

	h.log.Info("shutdown requested", "client_id", client.ID, "reason", req.Reason)

	if broadcaster != nil {
		broadcaster(&Event{Type: EventDaemonShutdown, Timestamp: time.Now(), Data: req.Reason})
	}

	// Acknowledge before stopping so the requester gets a reply
	go func() {
		time.Sleep(100 * time.Millisecond)
		shutdownFn(req.Reason)
	}()

	return NewMessage(MsgShutdown, msg.Header.RequestID, nil), nil
}

// Context plumbing for channel handlers.

type contextKey int

const clientIDKey contextKey = iota

// ContextWithClientID tags ctx with the originating IPC client id.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext reports the IPC client id a channel message arrived
// from, when the transport recorded one.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	return id, ok
}
