// Package ipc provides server implementation for daemon-client communication.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"textinputd/internal/config"
	"textinputd/internal/logging"
	"textinputd/internal/metrics"
)

// Handler processes IPC messages
type Handler interface {
	// HandleMessage processes a message and returns a response
	HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error)
}

// HandlerFunc is a function that implements Handler
type HandlerFunc func(ctx context.Context, client *Client, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	return f(ctx, client, msg)
}

// Server is the IPC server that manages client connections
type Server struct {
	mu          sync.RWMutex
	listener    net.Listener
	socketPath  string
	handler     Handler
	clients     map[string]*Client
	subscribers map[string]*subscription
	version     string
	startedAt   time.Time

	socketPerm      os.FileMode
	maxConnections  int
	maxFrameBytes   uint32
	readTimeout     time.Duration
	writeTimeout    time.Duration
	requireSameUser bool

	onConnect    func(clientID string)
	onDisconnect func(clientID string)

	log *logging.Logger

	// Shutdown coordination
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	// Request ID counter
	nextRequestID atomic.Uint32

	// Event channel for broadcasting
	eventChan chan *Event
}

// Client represents a connected client
type Client struct {
	mu           sync.Mutex
	ID           string
	conn         net.Conn
	Version      string
	Name         string
	PID          int
	UID          int
	ConnectedAt  time.Time
	LastActivity time.Time

	// Write serialization
	writeMu sync.Mutex
}

// subscription tracks event subscriptions
type subscription struct {
	clientID string
	events   map[EventType]bool
}

// ServerConfig configures the IPC server
type ServerConfig struct {
	SocketPath      string // Unix socket path
	Version         string // Server version
	SocketPerm      os.FileMode
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxConnections  int
	MaxFrameBytes   uint32
	RequireSameUser bool
	Logger          *logging.Logger
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig(dataDir string) ServerConfig {
	return ServerConfig{
		SocketPath:      filepath.Join(dataDir, "textinputd.sock"),
		Version:         "1.0.0",
		SocketPerm:      0600,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
		MaxConnections:  32,
		MaxFrameBytes:   1 << 20,
		RequireSameUser: true,
	}
}

// ServerConfigFromConfig builds a ServerConfig from the daemon configuration.
func ServerConfigFromConfig(cfg *config.Config, version string) ServerConfig {
	sc := DefaultServerConfig(filepath.Dir(cfg.IPC.SocketPath))
	sc.SocketPath = cfg.IPC.SocketPath
	sc.Version = version
	sc.MaxConnections = cfg.IPC.MaxConnections
	sc.ReadTimeout = time.Duration(cfg.IPC.TimeoutSec) * time.Second
	if cfg.IPC.MaxFrameBytes > 0 {
		sc.MaxFrameBytes = uint32(cfg.IPC.MaxFrameBytes)
	}
	if perm, err := strconv.ParseUint(cfg.IPC.Permissions, 8, 32); err == nil {
		sc.SocketPerm = os.FileMode(perm)
	}
	return sc
}

// NewServer creates a new IPC server
func NewServer(cfg ServerConfig, handler Handler) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	log := cfg.Logger
	if log == nil {
		log = logging.Default().WithComponent("ipc")
	}

	sc := cfg
	if sc.MaxConnections <= 0 {
		sc.MaxConnections = 32
	}
	if sc.MaxFrameBytes == 0 {
		sc.MaxFrameBytes = 1 << 20
	}
	if sc.ReadTimeout <= 0 {
		sc.ReadTimeout = 30 * time.Second
	}
	if sc.WriteTimeout <= 0 {
		sc.WriteTimeout = 10 * time.Second
	}
	if sc.SocketPerm == 0 {
		sc.SocketPerm = 0600
	}

	return &Server{
		socketPath:      sc.SocketPath,
		handler:         handler,
		version:         sc.Version,
		socketPerm:      sc.SocketPerm,
		maxConnections:  sc.MaxConnections,
		maxFrameBytes:   sc.MaxFrameBytes,
		readTimeout:     sc.ReadTimeout,
		writeTimeout:    sc.WriteTimeout,
		requireSameUser: sc.RequireSameUser,
		log:             log,
		clients:         make(map[string]*Client),
		subscribers:     make(map[string]*subscription),
		ctx:             ctx,
		cancel:          cancel,
		eventChan:       make(chan *Event, 100),
	}, nil
}

// Start begins listening for connections
func (s *Server) Start() error {
	// Ensure socket directory exists
	socketDir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(socketDir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	if IsSocketListening(s.socketPath) {
		return fmt.Errorf("socket %s is already in use by a running daemon", s.socketPath)
	}

	// Remove stale socket file
	if err := CleanupSocket(s.socketPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	if err := SetSocketPermissions(s.socketPath, s.socketPerm); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.listener = listener
	s.startedAt = time.Now()
	s.running.Store(true)

	s.log.Info("ipc server listening", "socket", s.socketPath, "max_connections", s.maxConnections)

	// Start event broadcaster
	s.wg.Add(1)
	go s.eventBroadcaster()

	// Start accepting connections
	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	// Signal shutdown
	s.cancel()

	// Close listener
	if s.listener != nil {
		s.listener.Close()
	}

	// Close all client connections
	s.mu.Lock()
	for _, client := range s.clients {
		client.conn.Close()
	}
	s.mu.Unlock()

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Clean shutdown
	case <-time.After(5 * time.Second):
		s.log.Warn("ipc server shutdown timed out waiting for connections")
	}

	// Remove socket file
	os.Remove(s.socketPath)

	s.log.Info("ipc server stopped")
	return nil
}

// SocketPath returns the socket path
func (s *Server) SocketPath() string {
	return s.socketPath
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// SetConnectHandler installs a callback invoked after a client
// completes its handshake, with the ack already on the wire.
func (s *Server) SetConnectHandler(fn func(clientID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onConnect = fn
}

// SetDisconnectHandler installs a callback invoked after a client
// connection is removed.
func (s *Server) SetDisconnectHandler(fn func(clientID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = fn
}

// Broadcast sends an event to all subscribed clients
func (s *Server) Broadcast(event *Event) {
	if !s.running.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case s.eventChan <- event:
	default:
		// Channel full, drop event
	}
}

// SendChannel pushes a method-call envelope to one client on the named
// channel. Returns ErrClientGone wrapped if the client is gone.
func (s *Server) SendChannel(clientID, channelName string, data []byte) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("client %s: %w", clientID, ErrClientGone)
	}

	msg, err := NewChannelMessage(s.nextRequestID.Add(1), channelName, data)
	if err != nil {
		return err
	}

	return s.sendMessage(client, msg)
}

// ErrClientGone reports a send to a disconnected client.
var ErrClientGone = errors.New("client disconnected")

// acceptLoop accepts new connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if !errors.Is(err, net.ErrClosed) {
					s.log.Warn("accept failed", "error", err)
				}
				continue
			}
		}

		// Check connection limit
		s.mu.RLock()
		count := len(s.clients)
		s.mu.RUnlock()

		if count >= s.maxConnections {
			s.log.Warn("connection limit reached, rejecting client", "limit", s.maxConnections)
			conn.Close()
			continue
		}

		client := &Client{
			ID:           generateClientID(),
			conn:         conn,
			ConnectedAt:  time.Now(),
			LastActivity: time.Now(),
		}

		if cred, err := GetPeerCredentials(conn); err == nil {
			client.PID = cred.PID
			client.UID = cred.UID
		}

		if s.requireSameUser {
			ok, err := VerifyPeerIsCurrentUser(conn)
			if err != nil || !ok {
				s.log.Warn("rejecting peer from different user", "uid", client.UID, "error", err)
				conn.Close()
				continue
			}
		}

		s.mu.Lock()
		s.clients[client.ID] = client
		s.mu.Unlock()

		metrics.GetMetrics().ClientConnected()
		s.log.Debug("client connected", "client_id", client.ID, "pid", client.PID)

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

// handleConnection handles a single client connection
func (s *Server) handleConnection(client *Client) {
	defer s.wg.Done()
	defer func() {
		// Remove client on disconnect
		s.mu.Lock()
		delete(s.clients, client.ID)
		delete(s.subscribers, client.ID)
		onDisconnect := s.onDisconnect
		s.mu.Unlock()
		client.conn.Close()

		metrics.GetMetrics().ClientDisconnected()
		s.log.Debug("client disconnected", "client_id", client.ID)

		if onDisconnect != nil {
			onDisconnect(client.ID)
		}
	}()

	m := metrics.GetMetrics()

	// Main message loop
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		client.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		msg, err := ReadMessageLimit(client.conn, s.maxFrameBytes)
		if err != nil {
			if err == io.EOF || errors.Is(err, net.ErrClosed) {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Idle connection, keep it alive
				s.sendPing(client)
				continue
			}
			s.log.Warn("read failed", "client_id", client.ID, "error", err)
			m.RecordError()
			return
		}

		m.RecordFrameIn(msg.Size())

		client.mu.Lock()
		client.LastActivity = time.Now()
		client.mu.Unlock()

		// Handle message
		response, err := s.processMessage(client, msg)
		if err != nil {
			m.RecordError()
			response = NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error())
		}

		if response != nil {
			if err := s.sendMessage(client, response); err != nil {
				return
			}
		}

		if msg.Header.Type == MsgHandshake && response != nil && response.Header.Type == MsgHandshakeAck {
			s.mu.RLock()
			onConnect := s.onConnect
			s.mu.RUnlock()
			if onConnect != nil {
				onConnect(client.ID)
			}
		}
	}
}

// processMessage processes a single message
func (s *Server) processMessage(client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, msg.Header.RequestID, nil), nil

	case MsgPong:
		// Reply to our keepalive, nothing to do
		return nil, nil

	case MsgHandshake:
		return s.handleHandshake(client, msg)

	case MsgSubscribe:
		return s.handleSubscribe(client, msg)

	case MsgUnsubscribe:
		return s.handleUnsubscribe(client, msg)

	default:
		if s.handler != nil {
			return s.handler.HandleMessage(s.ctx, client, msg)
		}
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "no handler"), nil
	}
}

// handleHandshake processes handshake request
func (s *Server) handleHandshake(client *Client, msg *Message) (*Message, error) {
	var req HandshakeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid handshake"), nil
	}

	client.mu.Lock()
	client.Version = req.ClientVersion
	client.Name = req.ClientName
	if client.PID == 0 {
		client.PID = req.PID
	}
	client.mu.Unlock()

	s.log.Debug("handshake", "client_id", client.ID, "name", req.ClientName, "version", req.ClientVersion)

	resp := &HandshakeResponse{
		ServerVersion:   s.version,
		ProtocolVersion: ProtocolVersion,
		ClientID:        client.ID,
		Capabilities:    0, // Future expansion
	}

	return NewResponse(MsgHandshakeAck, msg.Header.RequestID, resp)
}

// handleSubscribe processes event subscription
func (s *Server) handleSubscribe(client *Client, msg *Message) (*Message, error) {
	var req SubscribeRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid subscribe request"), nil
	}

	s.mu.Lock()
	sub := &subscription{
		clientID: client.ID,
		events:   make(map[EventType]bool),
	}
	if len(req.Events) == 0 {
		// Subscribe to all events
		for _, et := range []EventType{
			EventClientAttached,
			EventClientDetached,
			EventKeyboardShown,
			EventKeyboardHidden,
			EventBackendChanged,
			EventConfigReloaded,
			EventDaemonShutdown,
			EventError,
		} {
			sub.events[et] = true
		}
	} else {
		for _, et := range req.Events {
			sub.events[et] = true
		}
	}
	s.subscribers[client.ID] = sub
	s.mu.Unlock()

	resp := &SubscribeResponse{
		Success:        true,
		SubscriptionID: client.ID,
	}

	return NewResponse(MsgSubscribeResp, msg.Header.RequestID, resp)
}

// handleUnsubscribe processes event unsubscription
func (s *Server) handleUnsubscribe(client *Client, msg *Message) (*Message, error) {
	s.mu.Lock()
	delete(s.subscribers, client.ID)
	s.mu.Unlock()

	return NewMessage(MsgUnsubscribeResp, msg.Header.RequestID, nil), nil
}

// eventBroadcaster broadcasts events to subscribers
func (s *Server) eventBroadcaster() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.eventChan:
			s.mu.RLock()
			for clientID, sub := range s.subscribers {
				if sub.events[event.Type] {
					if client, ok := s.clients[clientID]; ok {
						go s.sendEvent(client, event)
					}
				}
			}
			s.mu.RUnlock()
		}
	}
}

// sendEvent sends an event to a client
func (s *Server) sendEvent(client *Client, event *Event) {
	payload, err := Encode(event)
	if err != nil {
		return
	}

	msg := NewMessage(MsgEvent, s.nextRequestID.Add(1), payload)
	s.sendMessage(client, msg)
}

// sendMessage sends a message to a client
func (s *Server) sendMessage(client *Client, msg *Message) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	m := metrics.GetMetrics()
	timer := m.StartSendTimer()
	defer timer.Stop()

	client.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := msg.Write(client.conn); err != nil {
		m.RecordError()
		return err
	}
	m.RecordFrameOut(msg.Size())
	return nil
}

// sendPing sends a ping to keep connection alive
func (s *Server) sendPing(client *Client) {
	msg := NewMessage(MsgPing, s.nextRequestID.Add(1), nil)
	s.sendMessage(client, msg)
}

// generateClientID generates a unique client ID
func generateClientID() string {
	return fmt.Sprintf("client-%d-%d", time.Now().UnixNano(), os.Getpid())
}
