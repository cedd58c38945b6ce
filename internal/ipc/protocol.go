// Package ipc provides inter-process communication between the textinputd
// daemon and client applications (editors, the control CLI, demo tools).
//
// The protocol is designed for:
// - Request/response pattern for commands
// - Channel traffic carrying method-call envelopes in both directions
// - Event streaming for real-time updates
// - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x54494350 // "TICP" - TextInput Connection Protocol
)

// MaxPayloadSize is the absolute payload cap regardless of configuration.
const MaxPayloadSize = 16 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006

	// Channel traffic (0x01xx)
	MsgChannelMessage MessageType = 0x0100
	MsgChannelReply   MessageType = 0x0101

	// Status and events (0x02xx)
	MsgStatusRequest   MessageType = 0x0200
	MsgStatusResponse  MessageType = 0x0201
	MsgSubscribe       MessageType = 0x0202
	MsgSubscribeResp   MessageType = 0x0203
	MsgUnsubscribe     MessageType = 0x0204
	MsgUnsubscribeResp MessageType = 0x0205
	MsgEvent           MessageType = 0x0206
	MsgKeyboardRequest MessageType = 0x0207
	MsgKeyboardResp    MessageType = 0x0208
	MsgStateRequest    MessageType = 0x0209
	MsgStateResponse   MessageType = 0x020A
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventClientAttached  EventType = 0x0001
	EventClientDetached  EventType = 0x0002
	EventKeyboardShown   EventType = 0x0003
	EventKeyboardHidden  EventType = 0x0004
	EventBackendChanged  EventType = 0x0005
	EventConfigReloaded  EventType = 0x0006
	EventDaemonShutdown  EventType = 0x0007
	EventError           EventType = 0x0008
)

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x01 // Payload is JSON
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// Size returns the wire size of the message in bytes.
func (m *Message) Size() int {
	return HeaderSize + len(m.Payload)
}

// ReadMessage reads a complete message from a reader.
func ReadMessage(r io.Reader) (*Message, error) {
	return ReadMessageLimit(r, MaxPayloadSize)
}

// ReadMessageLimit reads a complete message, rejecting payloads larger
// than maxPayload bytes.
func ReadMessageLimit(r io.Reader, maxPayload uint32) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	if maxPayload == 0 || maxPayload > MaxPayloadSize {
		maxPayload = MaxPayloadSize
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > maxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes (limit %d)", h.Length, maxPayload)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
	PID             int    `json:"pid,omitempty"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
	Capabilities    uint32 `json:"capabilities"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrShuttingDown     = 6
	ErrTooLarge         = 7
)

// ChannelPayload carries one method-call envelope on a named channel.
// Data holds the envelope bytes opaque to the transport.
type ChannelPayload struct {
	Channel string `json:"channel"`
	Data    []byte `json:"data"`
}

// ChannelReply acknowledges a channel message. Data carries the reply
// payload when the handler produced one.
type ChannelReply struct {
	Data  []byte `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// StatusRequest requests daemon status
type StatusRequest struct {
	IncludeMetrics bool `json:"include_metrics,omitempty"`
	IncludeConfig  bool `json:"include_config,omitempty"`
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version          string         `json:"version"`
	Uptime           time.Duration  `json:"uptime"`
	StartedAt        time.Time      `json:"started_at"`
	Backend          string         `json:"backend"`
	BackendRunning   bool           `json:"backend_running"`
	ActiveClient     bool           `json:"active_client"`
	ConnectionID     int64          `json:"connection_id,omitempty"`
	InputType        string         `json:"input_type,omitempty"`
	KeyboardVisible  bool           `json:"keyboard_visible"`
	ConnectedClients int            `json:"connected_clients"`
	AutofillEnabled  bool           `json:"autofill_enabled"`
	StoreEntries     int64          `json:"store_entries,omitempty"`
	Metrics          map[string]any `json:"metrics,omitempty"`
	Config           map[string]any `json:"config,omitempty"`
}

// ShutdownRequest asks the daemon to stop
type ShutdownRequest struct {
	Reason string `json:"reason,omitempty"`
}

// KeyboardRequest forces keyboard visibility. It is an operator
// override and ignores which connection owns the active client.
type KeyboardRequest struct {
	Visible bool `json:"visible"`
}

// KeyboardResponse reports visibility after the change was applied.
type KeyboardResponse struct {
	KeyboardVisible bool   `json:"keyboard_visible"`
	Backend         string `json:"backend"`
}

// StateResponse carries the engine's editing-state mirror. Text is
// withheld and only its length reported while the active configuration
// obscures input.
type StateResponse struct {
	ActiveClient    bool   `json:"active_client"`
	ConnectionID    int64  `json:"connection_id,omitempty"`
	InputType       string `json:"input_type,omitempty"`
	InputAction     string `json:"input_action,omitempty"`
	KeyboardVisible bool   `json:"keyboard_visible"`
	Obscured        bool   `json:"obscured"`
	Text            string `json:"text,omitempty"`
	TextLength      int    `json:"text_length"`
	SelectionBase   int    `json:"selection_base"`
	SelectionExtent int    `json:"selection_extent"`
	ComposingBase   int    `json:"composing_base"`
	ComposingExtent int    `json:"composing_extent"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeRequest requests event unsubscription
type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}

// NewChannelMessage wraps an envelope for transmission on a channel.
func NewChannelMessage(requestID uint32, channelName string, data []byte) (*Message, error) {
	return NewResponse(MsgChannelMessage, requestID, &ChannelPayload{
		Channel: channelName,
		Data:    data,
	})
}
