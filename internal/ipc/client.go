// Package ipc provides client implementation for daemon-client communication.
//
// The client supports:
// - Automatic connection and reconnection
// - Request/response pattern with timeouts
// - Channel traffic for method-call envelopes
// - Event streaming for real-time updates
// - Thread-safe operations
package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient is the client for communicating with the textinputd daemon
type IPCClient struct {
	mu         sync.RWMutex
	connectMu  sync.Mutex
	conn       net.Conn
	socketPath string
	clientID   string
	version    string

	// Connection state
	connected    atomic.Bool
	reconnecting atomic.Bool

	// Request handling
	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	// Event handling
	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	// Channel traffic handling
	channelHandler ChannelMessageHandler
	channelMu      sync.RWMutex

	// Reconnection
	autoReconnect bool
	reconnectWait time.Duration
	maxReconnect  int

	// Context for shutdown
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	// Configuration
	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(dataDir string) ClientConfig {
	return ClientConfig{
		SocketPath:     filepath.Join(dataDir, "textinputd.sock"),
		ClientName:     "textinputctl",
		ClientVersion:  "1.0.0",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  true,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// EventHandler is called when events are received
type EventHandler func(event *Event)

// ChannelMessageHandler is called when the daemon pushes a method-call
// envelope on a channel.
type ChannelMessageHandler func(channelName string, data []byte)

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &IPCClient{
		socketPath:    cfg.SocketPath,
		pending:       make(map[uint32]chan *Message),
		eventChan:     make(chan *Event, 100),
		autoReconnect: cfg.AutoReconnect,
		reconnectWait: cfg.ReconnectWait,
		maxReconnect:  cfg.MaxReconnect,
		ctx:           ctx,
		cancel:        cancel,
		config:        cfg,
	}
}

// Connect establishes a connection to the daemon.
//
// connectMu serializes concurrent connects; the state mutex cannot be
// held here because the handshake request takes it again.
func (c *IPCClient) Connect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.connected.Load() {
		return nil
	}

	conn, err := c.connectUnix()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Perform handshake
	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}

	return nil
}

// connectUnix establishes a Unix socket connection
func (c *IPCClient) connectUnix() (net.Conn, error) {
	dialer := net.Dialer{
		Timeout: c.config.ConnectTimeout,
	}

	conn, err := dialer.Dial("unix", c.socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDaemonNotRunning
		}
		return nil, err
	}

	return conn, nil
}

// Close closes the connection to the daemon. Safe to call more than once.
func (c *IPCClient) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.close()

		// Wait for reader to finish
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}

		close(c.eventChan)
	})
	return nil
}

// close closes the connection without signaling shutdown
func (c *IPCClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)

	// Cancel all pending requests
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the client ID assigned by the server
func (c *IPCClient) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerVersion returns the daemon version reported at handshake
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetEventHandler sets the handler for streamed events
func (c *IPCClient) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// SetChannelMessageHandler sets the handler for pushed channel messages
func (c *IPCClient) SetChannelMessageHandler(handler ChannelMessageHandler) {
	c.channelMu.Lock()
	defer c.channelMu.Unlock()
	c.channelHandler = handler
}

// Events returns the event channel for streaming events
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

// handshake performs the initial handshake with the server
func (c *IPCClient) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
		PID:             os.Getpid(),
	}

	resp, err := c.request(MsgHandshake, req)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgHandshakeAck {
		return fmt.Errorf("unexpected response type: %d", resp.Header.Type)
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.clientID = ack.ClientID
	c.version = ack.ServerVersion

	return nil
}

// request sends a request and waits for a response
func (c *IPCClient) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

// requestWithTimeout sends a request with a custom timeout
func (c *IPCClient) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	// Encode payload
	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	// Create message
	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	// Create response channel
	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	// Send message
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := msg.Write(conn); err != nil {
		c.handleConnectionError(err)
		return nil, fmt.Errorf("write message: %w", err)
	}

	// Wait for response
	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// readLoop reads messages from the connection
func (c *IPCClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			// A successful reconnect starts its own read loop; this one
			// must exit either way so the connection has a single reader.
			if c.autoReconnect {
				c.tryReconnect()
			}
			return
		}

		// Read message
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			// Handle timeout (send ping)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendPing()
				continue
			}

			c.handleConnectionError(err)
			if c.autoReconnect {
				c.tryReconnect()
			}
			return
		}

		// Handle message
		c.handleMessage(msg)
	}
}

// handleMessage processes an incoming message
func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Ping response, ignore

	case MsgPing:
		// Respond to ping
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			pong := NewMessage(MsgPong, msg.Header.RequestID, nil)
			pong.Write(conn)
		}

	case MsgChannelMessage:
		// Daemon-pushed channel traffic
		var cp ChannelPayload
		if err := Decode(msg.Payload, &cp); err == nil {
			c.channelMu.RLock()
			handler := c.channelHandler
			c.channelMu.RUnlock()
			if handler != nil {
				handler(cp.Channel, cp.Data)
			}
		}

	case MsgEvent:
		// Dispatch event
		var event Event
		if err := Decode(msg.Payload, &event); err == nil {
			select {
			case c.eventChan <- &event:
			default:
				// Channel full, drop event
			}

			c.eventMu.RLock()
			handler := c.eventHandler
			c.eventMu.RUnlock()
			if handler != nil {
				go handler(&event)
			}
		}

	default:
		// Response to a request
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// sendPing sends a ping to keep connection alive
func (c *IPCClient) sendPing() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		msg := NewMessage(MsgPing, c.nextReqID.Add(1), nil)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		msg.Write(conn)
	}
}

// handleConnectionError handles connection errors
func (c *IPCClient) handleConnectionError(err error) {
	c.close()
}

// tryReconnect attempts to reconnect to the daemon
func (c *IPCClient) tryReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return // Already reconnecting
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.maxReconnect; i++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectWait):
		}

		if err := c.Connect(); err == nil {
			return
		}
	}
}

// High-level API methods

// Ping checks if the daemon is responsive
func (c *IPCClient) Ping() error {
	resp, err := c.requestWithTimeout(MsgPing, nil, 5*time.Second)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Status requests the daemon status
func (c *IPCClient) Status(includeMetrics, includeConfig bool) (*StatusResponse, error) {
	req := &StatusRequest{
		IncludeMetrics: includeMetrics,
		IncludeConfig:  includeConfig,
	}

	resp, err := c.request(MsgStatusRequest, req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		Decode(resp.Payload, &errResp)
		return nil, fmt.Errorf("%s", errResp.Message)
	}

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// SetKeyboardVisible asks the daemon to force keyboard visibility,
// ignoring connection ownership.
func (c *IPCClient) SetKeyboardVisible(visible bool) (*KeyboardResponse, error) {
	req := &KeyboardRequest{Visible: visible}

	resp, err := c.request(MsgKeyboardRequest, req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		Decode(resp.Payload, &errResp)
		return nil, fmt.Errorf("%s", errResp.Message)
	}

	var result KeyboardResponse
	if err := Decode(resp.Payload, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// State requests the engine's editing-state mirror.
func (c *IPCClient) State() (*StateResponse, error) {
	resp, err := c.request(MsgStateRequest, nil)
	if err != nil {
		return nil, err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		Decode(resp.Payload, &errResp)
		return nil, fmt.Errorf("%s", errResp.Message)
	}

	var state StateResponse
	if err := Decode(resp.Payload, &state); err != nil {
		return nil, err
	}

	return &state, nil
}

// ChannelSend transmits a method-call envelope on the named channel and
// waits for the daemon's acknowledgement. The returned bytes are the reply
// payload, if the handler produced one.
func (c *IPCClient) ChannelSend(channelName string, data []byte) ([]byte, error) {
	req := &ChannelPayload{
		Channel: channelName,
		Data:    data,
	}

	resp, err := c.request(MsgChannelMessage, req)
	if err != nil {
		return nil, err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		Decode(resp.Payload, &errResp)
		return nil, fmt.Errorf("%s", errResp.Message)
	}

	var reply ChannelReply
	if err := Decode(resp.Payload, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, errors.New(reply.Error)
	}

	return reply.Data, nil
}

// Subscribe subscribes to events
func (c *IPCClient) Subscribe(events []EventType) error {
	req := &SubscribeRequest{
		Events: events,
	}

	resp, err := c.request(MsgSubscribe, req)
	if err != nil {
		return err
	}

	var result SubscribeResponse
	if err := Decode(resp.Payload, &result); err != nil {
		return err
	}

	if !result.Success {
		return errors.New("subscription failed")
	}

	return nil
}

// Unsubscribe unsubscribes from events
func (c *IPCClient) Unsubscribe() error {
	req := &UnsubscribeRequest{}

	resp, err := c.request(MsgUnsubscribe, req)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgUnsubscribeResp {
		return fmt.Errorf("unexpected response: %d", resp.Header.Type)
	}

	return nil
}

// Shutdown asks the daemon to stop
func (c *IPCClient) Shutdown(reason string) error {
	req := &ShutdownRequest{Reason: reason}

	resp, err := c.request(MsgShutdown, req)
	if err != nil {
		return err
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		Decode(resp.Payload, &errResp)
		return fmt.Errorf("%s", errResp.Message)
	}

	return nil
}
