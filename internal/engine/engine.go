// Package engine implements the daemon side of the text-input protocol.
//
// The engine holds at most one active client: the connection id, the
// configuration, and a mirror of the editing state the owning
// application last announced. TextInput.* methods arriving over IPC
// mutate that state and drive the platform backend; backend events flow
// the other way, edited into the mirror and emitted to the owner as
// TextInputClient.* methods. Messages from IPC clients that do not own
// the active connection are dropped.
package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"textinputd/internal/autofill"
	"textinputd/internal/channel"
	"textinputd/internal/config"
	"textinputd/internal/ipc"
	"textinputd/internal/logging"
	"textinputd/internal/metrics"
	"textinputd/internal/platform"
	"textinputd/internal/textinput"
	"textinputd/internal/tracing"
)

// SendFunc delivers an encoded channel payload to one IPC client. The
// daemon wires this to its per-client outbound queue; tests capture it.
type SendFunc func(clientID string, payload []byte) error

// Engine is the daemon-side peer of the protocol. It implements
// platform.Sink so backends can push committed text, preedit updates
// and key events straight into it.
type Engine struct {
	mu sync.Mutex

	cfg          config.EngineConfig
	saveOnFinish bool
	backend      platform.Backend
	store        *autofill.Store
	session      *autofill.Session
	send         SendFunc
	broadcastFn  func(*ipc.Event)
	log          *logging.Logger

	// Active client. ownerID is the IPC client the connection belongs
	// to; every mutating method must arrive from it.
	ownerID   string
	connID    int
	hasClient bool
	client    textinput.Configuration
	state     textinput.EditingState

	keyboardVisible bool

	// Advisory geometry and style, latest value wins.
	caretRect     textinput.Rect
	composingRect textinput.Rect
	editableSize  textinput.Size
	transform     [16]float64
	style         textinput.TextStyle
}

// New builds an engine over the given backend. store may be nil when
// autofill persistence is disabled; send may be nil until the transport
// is up.
func New(cfg *config.Config, backend platform.Backend, store *autofill.Store, send SendFunc) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Engine{
		cfg:          cfg.Engine,
		saveOnFinish: cfg.Autofill.SaveOnFinish,
		backend:      backend,
		store:        store,
		session:      autofill.NewSession(),
		send:         send,
		log:          logging.Default().WithComponent("engine"),
		transform:    identityTransform(),
	}
}

func identityTransform() [16]float64 {
	var t [16]float64
	t[0], t[5], t[10], t[15] = 1, 1, 1, 1
	return t
}

// SetSend replaces the outbound delivery function.
func (e *Engine) SetSend(send SendFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send = send
}

// SetBackend swaps the platform backend. The attached client, if any,
// is pushed to the replacement so it picks up the current field.
func (e *Engine) SetBackend(b platform.Backend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backend = b
	if !e.hasClient {
		return
	}
	cfg := e.client
	if err := b.SetClient(&cfg); err != nil {
		e.log.Warn("backend set client failed", "backend", b.Name(), "error", err)
	}
}

// SetBroadcaster installs the event fan-out announcing attach, detach
// and keyboard transitions to subscribed IPC clients. The function must
// not block.
func (e *Engine) SetBroadcaster(fn func(*ipc.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.broadcastFn = fn
}

func (e *Engine) broadcast(t ipc.EventType, data map[string]any) {
	if e.broadcastFn == nil {
		return
	}
	e.broadcastFn(&ipc.Event{Type: t, Timestamp: time.Now(), Data: data})
}

// Snapshot is the engine state reported over the status endpoint.
type Snapshot struct {
	ActiveClient    bool
	ConnectionID    int
	InputType       string
	KeyboardVisible bool
	AutofillActive  bool
}

// Snapshot returns the current state for status reporting.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		ActiveClient:    e.hasClient,
		KeyboardVisible: e.keyboardVisible,
		AutofillActive:  !e.session.Empty(),
	}
	if e.hasClient {
		snap.ConnectionID = e.connID
		snap.InputType = e.client.InputType.Kind.String()
	}
	return snap
}

// EditingState returns the current mirror of the owner's text model.
func (e *Engine) EditingState() textinput.EditingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// HandleTextInput is the channel handler for the textinput channel; the
// daemon registers it with the IPC layer. Undecodable messages, unknown
// methods and messages from non-owning clients are dropped. Nothing
// here surfaces an error to the sender.
func (e *Engine) HandleTextInput(ctx context.Context, payload []byte) ([]byte, error) {
	call, err := channel.DecodeMethodCall(payload)
	if err != nil {
		e.log.Debug("drop undecodable inbound message", "error", err)
		return nil, nil
	}
	clientID, _ := ipc.ClientIDFromContext(ctx)

	ctx, span := tracing.StartSpan(ctx, call.Method,
		tracing.WithSpanKind(tracing.SpanKindServer),
		tracing.WithAttributes(tracing.Attribute{Key: "client", Value: clientID}))
	defer span.End()

	timer := metrics.GetMetrics().StartDispatchTimer()
	defer timer.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispatch(ctx, clientID, call)
	return nil, nil
}

func (e *Engine) dispatch(ctx context.Context, clientID string, call *channel.MethodCall) {
	switch call.Method {
	case textinput.MethodSetClient:
		var args []json.RawMessage
		if err := call.DecodeArgs(&args); err != nil || len(args) < 2 {
			e.log.Debug("drop setClient without arguments")
			return
		}
		var connID int
		if err := json.Unmarshal(args[0], &connID); err != nil {
			e.log.Debug("drop setClient with bad connection id", "error", err)
			return
		}
		var cfg textinput.Configuration
		if err := json.Unmarshal(args[1], &cfg); err != nil {
			e.log.Debug("drop setClient with bad configuration", "error", err)
			return
		}
		e.setClient(clientID, connID, cfg)

	case textinput.MethodClearClient:
		if !e.ownerMatches(clientID) {
			return
		}
		e.clearClient()

	case textinput.MethodShow:
		if !e.ownerMatches(clientID) {
			return
		}
		e.showKeyboard()

	case textinput.MethodHide:
		if !e.ownerMatches(clientID) {
			return
		}
		e.hideKeyboard()

	case textinput.MethodUpdateConfig:
		if !e.ownerMatches(clientID) {
			return
		}
		var cfg textinput.Configuration
		if err := call.DecodeArgs(&cfg); err != nil {
			e.log.Debug("drop malformed configuration", "error", err)
			return
		}
		e.client = cfg
		e.observeAutofill()
		if err := e.backend.SetClient(&cfg); err != nil {
			e.log.Warn("backend update config failed", "backend", e.backend.Name(), "error", err)
		}

	case textinput.MethodSetEditingState:
		if !e.ownerMatches(clientID) {
			return
		}
		var state textinput.EditingState
		if err := call.DecodeArgs(&state); err != nil {
			e.log.Debug("drop malformed editing state", "error", err)
			return
		}
		e.state = state
		if e.client.Autofill != nil {
			e.session.Update(state.Text)
		}
		e.log.Debug("editing state updated",
			"conn_id", e.connID,
			"text", logging.TextPreview(state.Text, e.client.ObscureText))

	case textinput.MethodSetMarkedTextRect:
		if !e.ownerMatches(clientID) {
			return
		}
		var rect textinput.Rect
		if err := call.DecodeArgs(&rect); err != nil {
			e.log.Debug("drop malformed composing rect", "error", err)
			return
		}
		e.composingRect = rect
		e.pushRect(rect)

	case textinput.MethodSetCaretRect:
		if !e.ownerMatches(clientID) {
			return
		}
		var rect textinput.Rect
		if err := call.DecodeArgs(&rect); err != nil {
			e.log.Debug("drop malformed caret rect", "error", err)
			return
		}
		e.caretRect = rect
		e.pushRect(rect)

	case textinput.MethodSetEditableSizeAndTransform:
		if !e.ownerMatches(clientID) {
			return
		}
		var geom struct {
			Width     float64   `json:"width"`
			Height    float64   `json:"height"`
			Transform []float64 `json:"transform"`
		}
		if err := call.DecodeArgs(&geom); err != nil || len(geom.Transform) != len(e.transform) {
			e.log.Debug("drop malformed editable geometry")
			return
		}
		e.editableSize = textinput.Size{Width: geom.Width, Height: geom.Height}
		copy(e.transform[:], geom.Transform)
		e.pushRect(e.caretRect)
		e.log.Debug("editable geometry updated", "width", geom.Width, "height", geom.Height)

	case textinput.MethodSetStyle:
		if !e.ownerMatches(clientID) {
			return
		}
		if err := call.DecodeArgs(&e.style); err != nil {
			e.log.Debug("drop malformed text style", "error", err)
		}

	case textinput.MethodFinishAutofillContext:
		if e.hasClient && e.ownerID != clientID {
			metrics.GetMetrics().RecordStaleDrop()
			e.log.Debug("drop message from non-owner", "method", call.Method, "client_id", clientID)
			return
		}
		var shouldSave bool
		if err := call.DecodeArgs(&shouldSave); err != nil {
			e.log.Debug("drop malformed finishAutofillContext", "error", err)
			return
		}
		e.finishAutofill(shouldSave)

	case textinput.MethodRequestAutofill:
		if !e.ownerMatches(clientID) {
			return
		}
		e.requestAutofill(ctx)

	default:
		e.log.Debug("drop unknown inbound method", "method", call.Method)
	}
}

// ownerMatches reports whether a message sender owns the active
// connection. Non-owner messages count as stale drops.
func (e *Engine) ownerMatches(clientID string) bool {
	if !e.hasClient {
		e.log.Debug("drop message without active client", "client_id", clientID)
		return false
	}
	if e.ownerID != clientID {
		metrics.GetMetrics().RecordStaleDrop()
		e.log.Debug("drop message from non-owner", "client_id", clientID)
		return false
	}
	return true
}

func (e *Engine) setClient(clientID string, connID int, cfg textinput.Configuration) {
	if e.hasClient {
		// The previous connection ends implicitly. Its owner already
		// knows when it initiated the switch itself; a different owner
		// has to be told.
		if e.ownerID != clientID {
			e.emitTo(e.ownerID, textinput.ClientOnConnectionClosed, []any{e.connID})
		}
		metrics.GetMetrics().RecordDetach()
	}

	e.ownerID = clientID
	e.connID = connID
	e.hasClient = true
	e.client = cfg
	e.state = textinput.EmptyEditingState()
	e.observeAutofill()
	metrics.GetMetrics().RecordAttach()

	if err := e.backend.SetClient(&cfg); err != nil {
		e.log.Warn("backend set client failed", "backend", e.backend.Name(), "error", err)
	}
	e.broadcast(ipc.EventClientAttached, map[string]any{
		"conn_id":    connID,
		"input_type": cfg.InputType.Kind.String(),
	})
	e.log.Info("client attached",
		"conn_id", connID,
		"client_id", clientID,
		"input_type", cfg.InputType.Kind.String(),
		"obscure", cfg.ObscureText)
}

func (e *Engine) clearClient() {
	connID := e.connID
	e.ownerID = ""
	e.connID = 0
	e.hasClient = false
	e.state = textinput.EmptyEditingState()
	metrics.GetMetrics().RecordDetach()

	if err := e.backend.SetClient(nil); err != nil {
		e.log.Warn("backend clear client failed", "backend", e.backend.Name(), "error", err)
	}
	e.hideKeyboard()
	e.broadcast(ipc.EventClientDetached, map[string]any{"conn_id": connID})
	e.log.Info("client detached", "conn_id", connID)
}

func (e *Engine) showKeyboard() error {
	if err := e.backend.ShowKeyboard(); err != nil {
		e.log.Warn("backend show keyboard failed", "backend", e.backend.Name(), "error", err)
		return err
	}
	if !e.keyboardVisible {
		e.broadcast(ipc.EventKeyboardShown, nil)
	}
	e.keyboardVisible = true
	metrics.GetMetrics().SetKeyboardVisible(true)
	return nil
}

func (e *Engine) hideKeyboard() error {
	wasVisible := e.keyboardVisible
	if err := e.backend.HideKeyboard(); err != nil {
		e.log.Warn("backend hide keyboard failed", "backend", e.backend.Name(), "error", err)
		return err
	}
	e.keyboardVisible = false
	metrics.GetMetrics().SetKeyboardVisible(false)
	if wasVisible {
		e.broadcast(ipc.EventKeyboardHidden, nil)
	}
	return nil
}

// SetKeyboardVisible forces keyboard visibility from the control
// surface. It ignores connection ownership; the active client, if any,
// is untouched.
func (e *Engine) SetKeyboardVisible(visible bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if visible {
		return e.showKeyboard()
	}
	return e.hideKeyboard()
}

// ActiveConfiguration returns the owning client's configuration and
// whether a client is attached at all.
func (e *Engine) ActiveConfiguration() (textinput.Configuration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client, e.hasClient
}

// observeAutofill feeds the active configuration's autofill section
// into the session. The first field seen names the context.
func (e *Engine) observeAutofill() {
	af := e.client.Autofill
	if af == nil {
		return
	}
	e.session.Observe(af.UniqueIdentifier, af.Hints, af.CurrentValue.Text)
}

func (e *Engine) finishAutofill(shouldSave bool) {
	saved, err := e.session.Finish(e.store, shouldSave && e.saveOnFinish)
	if err != nil {
		e.log.Error("autofill save failed", "error", err)
		return
	}
	e.log.Info("autofill context finished", "should_save", shouldSave, "saved", saved)
}

// requestAutofill answers the owner with stored values for the active
// field's hints via updateEditingStateWithTag. No reply is sent when
// nothing matches.
func (e *Engine) requestAutofill(ctx context.Context) {
	af := e.client.Autofill
	if af == nil || af.UniqueIdentifier == "" {
		e.log.Debug("drop requestAutofill for field without autofill section", "conn_id", e.connID)
		return
	}
	if e.store == nil {
		e.log.Debug("drop requestAutofill without store", "conn_id", e.connID)
		return
	}
	_, lookup := tracing.StartSpan(ctx, "autofill.lookup",
		tracing.WithAttributes(tracing.Attribute{Key: "hints", Value: len(af.Hints)}))
	defer lookup.End()
	values, err := e.store.Lookup(af.Hints)
	if err != nil {
		lookup.RecordError(err)
		e.log.Error("autofill lookup failed", "error", err)
		return
	}
	for _, hint := range af.Hints {
		value, ok := values[hint]
		if !ok {
			continue
		}
		caret := textinput.UTF16Length(value)
		state := textinput.EditingState{
			Text:            value,
			SelectionBase:   caret,
			SelectionExtent: caret,
			ComposingBase:   -1,
			ComposingExtent: -1,
		}
		e.emit(textinput.ClientUpdateEditingStateWithTag,
			[]any{e.connID, map[string]textinput.EditingState{af.UniqueIdentifier: state}})
		e.log.Info("autofill value filled", "conn_id", e.connID, "hint", hint)
		return
	}
	e.log.Debug("no stored autofill value", "conn_id", e.connID, "hints", af.Hints)
}

// pushRect forwards a rectangle to the backend in the global
// coordinates the editable's transform maps to. The transform is
// column-major.
func (e *Engine) pushRect(r textinput.Rect) {
	x := e.transform[0]*r.X + e.transform[4]*r.Y + e.transform[12]
	y := e.transform[1]*r.X + e.transform[5]*r.Y + e.transform[13]
	if err := e.backend.SetCursorRect(int(x), int(y), int(r.Width), int(r.Height)); err != nil {
		e.log.Debug("backend cursor rect failed", "backend", e.backend.Name(), "error", err)
	}
}

// NotifyClientConnected runs when an IPC client completes its
// handshake. A client that was attached before a daemon restart
// recovers its session by answering requestExistingInputState.
func (e *Engine) NotifyClientConnected(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cfg.ReplayOnRestart {
		return
	}
	e.emitTo(clientID, textinput.ClientRequestExistingInputState, nil)
	e.log.Debug("requested existing input state", "client_id", clientID)
}

// NotifyClientDisconnected runs when an IPC client drops. If it owned
// the active connection the client is released and the keyboard
// dismissed; no messages are sent to the gone peer.
func (e *Engine) NotifyClientDisconnected(clientID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasClient || e.ownerID != clientID {
		return
	}
	connID := e.connID
	e.ownerID = ""
	e.connID = 0
	e.hasClient = false
	e.state = textinput.EmptyEditingState()
	metrics.GetMetrics().RecordDetach()

	if err := e.backend.SetClient(nil); err != nil {
		e.log.Warn("backend clear client failed", "backend", e.backend.Name(), "error", err)
	}
	e.hideKeyboard()
	e.broadcast(ipc.EventClientDetached, map[string]any{"conn_id": connID})
	e.log.Info("owner disconnected, client released", "conn_id", connID, "client_id", clientID)
}

// CommitText implements platform.Sink. Committed text replaces the
// composing range, or the selection when nothing is composing, and the
// new state is announced to the owner.
func (e *Engine) CommitText(text string) {
	_, span := tracing.StartSpan(context.Background(), "backend.commitText",
		tracing.WithSpanKind(tracing.SpanKindConsumer))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasClient {
		return
	}
	e.state = commitText(e.state, text)
	if e.client.Autofill != nil {
		e.session.Update(e.state.Text)
	}
	e.log.Debug("text committed",
		"conn_id", e.connID,
		"text", logging.TextPreview(text, e.client.ObscureText))
	e.emitState()
}

// UpdatePreedit implements platform.Sink. cursorPos counts runes inside
// the preedit. A hidden or empty preedit removes the composing span.
func (e *Engine) UpdatePreedit(text string, cursorPos int, visible bool) {
	_, span := tracing.StartSpan(context.Background(), "backend.updatePreedit",
		tracing.WithSpanKind(tracing.SpanKindConsumer))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasClient {
		return
	}
	if !visible {
		text, cursorPos = "", 0
	}
	e.state = applyPreedit(e.state, text, cursorPos)
	e.emitState()
}

// ActionKey implements platform.Sink. The emitted action is whatever
// the active configuration asked the keyboard to label the key with.
func (e *Engine) ActionKey() {
	_, span := tracing.StartSpan(context.Background(), "backend.actionKey",
		tracing.WithSpanKind(tracing.SpanKindConsumer))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasClient {
		return
	}
	metrics.GetMetrics().RecordClientAction()
	e.emit(textinput.ClientPerformAction, []any{e.connID, e.client.Action.String()})
	e.log.Debug("action key", "conn_id", e.connID, "action", e.client.Action.String())
}

// PrivateCommand implements platform.Sink. Backend-private payloads
// pass through only when the configuration allows them.
func (e *Engine) PrivateCommand(action string, data map[string]any) {
	_, span := tracing.StartSpan(context.Background(), "backend.privateCommand",
		tracing.WithSpanKind(tracing.SpanKindConsumer))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasClient || !e.cfg.AllowPrivateCommands {
		return
	}
	e.emit(textinput.ClientPerformPrivateCommand,
		[]any{e.connID, map[string]any{"action": action, "data": data}})
}

func (e *Engine) emitState() {
	e.emit(textinput.ClientUpdateEditingState, []any{e.connID, e.state})
}

func (e *Engine) emit(method string, args any) {
	e.emitTo(e.ownerID, method, args)
}

func (e *Engine) emitTo(clientID, method string, args any) {
	if e.send == nil {
		return
	}
	payload, err := channel.EncodeMethodCall(method, args)
	if err != nil {
		e.log.Error("encode outbound method failed", "method", method, "error", err)
		return
	}
	if err := e.send(clientID, payload); err != nil {
		e.log.Warn("deliver to client failed", "method", method, "client_id", clientID, "error", err)
	}
}
