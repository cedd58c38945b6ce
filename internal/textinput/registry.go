// Package textinput implements the connection protocol between
// editable-text clients and the platform input system: connection
// lifecycle, observer fan-out, and the TextInput wire dialect spoken
// over a channel.Messenger.
//
// The protocol is single-threaded. A Registry and every Connection it
// hands out must be used from the goroutine driving the associated
// runloop.Loop; inbound platform messages are delivered on that loop as
// well, so no two dispatches ever interleave.
package textinput

import (
	"context"

	"textinputd/internal/channel"
	"textinputd/internal/logging"
	"textinputd/internal/runloop"
)

// Registry coordinates the text-input subsystem. It allocates
// connection ids, tracks the current connection, fans state changes out
// to the primary control and the input handlers, and bridges to the
// platform over the textinput channel.
type Registry struct {
	loop      *runloop.Loop
	messenger channel.Messenger

	nextID  int
	current *Connection
	config  Configuration

	platform *platformControl
	control  Control // non-nil while a custom control is primary
	handlers []Handler

	keyboardShown bool
	hidePending   bool
}

// NewRegistry creates a registry speaking on the textinput channel of
// m. Inbound TextInputClient messages must be delivered through loop.
func NewRegistry(loop *runloop.Loop, m channel.Messenger) *Registry {
	r := &Registry{loop: loop, messenger: m}
	r.platform = &platformControl{reg: r}
	m.SetHandler(channel.NameTextInput, r.HandleMessage)
	return r
}

// Attach opens a connection for client and makes it current,
// superseding any previous connection, whose handle goes stale. The
// primary control and every handler see Attach in registration order,
// then the platform receives setClient. Attach always succeeds.
func (r *Registry) Attach(client Client, config Configuration) *Connection {
	if prev := r.current; prev != nil {
		prev.state = StateClosed
	}
	r.nextID++
	conn := &Connection{reg: r, id: r.nextID, client: client, state: StateAttached}
	r.current = conn
	r.config = config
	r.eachObserver(func(h Handler) { h.Attach(client, config) })
	if r.control != nil {
		r.platform.Attach(client, config)
	}
	logging.Debug("text input attached", "conn_id", conn.id, "input_type", config.InputType.Kind.String())
	return conn
}

// SetInputControl installs control as the primary observer; nil
// restores the platform control. While a client is attached the old
// primary is detached, the new one attached, and the client told once
// via DidChangeInputControl. Swapping away from the platform control
// schedules a deferred keyboard hide if the keyboard was up.
func (r *Registry) SetInputControl(control Control) {
	if control == Control(r.platform) {
		control = nil
	}
	previous := r.primary()
	wasShown := r.keyboardShown
	r.control = control
	current := r.primary()
	if previous == current {
		return
	}
	if conn := r.current; conn != nil {
		previous.Detach(conn.client)
		current.Attach(conn.client, r.config)
		conn.client.DidChangeInputControl(previous, current)
	}
	if r.control != nil && wasShown {
		r.scheduleHide()
	}
}

// RestorePlatformControl makes the platform control primary again.
func (r *Registry) RestorePlatformControl() {
	r.SetInputControl(nil)
}

// PlatformControl returns the built-in platform control, so clients can
// recognize it in DidChangeInputControl notifications.
func (r *Registry) PlatformControl() Control {
	return r.platform
}

// AddInputHandler registers a secondary observer. A handler instance
// that is already registered is not added again.
func (r *Registry) AddInputHandler(h Handler) {
	if h == nil {
		return
	}
	for _, existing := range r.handlers {
		if existing == h {
			return
		}
	}
	r.handlers = append(r.handlers, h)
}

// RemoveInputHandler removes a previously added handler. Removing one
// that is not present is a no-op.
func (r *Registry) RemoveInputHandler(h Handler) {
	for i, existing := range r.handlers {
		if existing == h {
			r.handlers = append(r.handlers[:i], r.handlers[i+1:]...)
			return
		}
	}
}

// FinishAutofillContext ends the platform autofill session, optionally
// asking it to save the values collected so far.
func (r *Registry) FinishAutofillContext(shouldSave bool) {
	r.primary().FinishAutofillContext(shouldSave)
}

// ResetConnectionIDs restores the connection id counter to its
// baseline. Test hook; ids restart at 1.
func (r *Registry) ResetConnectionIDs() {
	r.nextID = 0
}

// primary returns the active primary control.
func (r *Registry) primary() Control {
	if r.control != nil {
		return r.control
	}
	return r.platform
}

func (r *Registry) currentID() int {
	if r.current == nil {
		return 0
	}
	return r.current.id
}

// eachObserver visits the primary control first, then the handlers in
// registration order.
func (r *Registry) eachObserver(f func(Handler)) {
	f(r.primary())
	for _, h := range r.handlers {
		f(h)
	}
}

// effectiveConfig is the configuration the literal platform sees: the
// real one while the platform control is primary, otherwise masked to
// the none input type so the system keyboard stays down while a custom
// control handles input.
func (r *Registry) effectiveConfig(config Configuration) Configuration {
	if r.control != nil {
		config.InputType = TypeNone()
	}
	return config
}

func (r *Registry) closeConnection(conn *Connection) {
	client := conn.client
	conn.state = StateClosing
	r.current = nil
	r.config = Configuration{}
	r.eachObserver(func(h Handler) { h.Detach(client) })
	if r.control != nil {
		r.platform.Detach(client)
	}
	r.loop.Post(func() {
		if conn.state == StateClosing {
			conn.state = StateClosed
		}
	})
	r.scheduleHide()
	logging.Debug("text input detached", "conn_id", conn.id)
}

// scheduleHide asks the platform to drop the keyboard on the next turn
// of the loop, unless a connection attaches with the platform control
// primary before the task runs. Requests coalesce into one task.
func (r *Registry) scheduleHide() {
	if r.hidePending {
		return
	}
	r.hidePending = true
	r.loop.Post(func() {
		r.hidePending = false
		if r.current == nil || r.control != nil {
			r.platform.Hide()
		}
	})
}

func (r *Registry) updateConfig(config Configuration) {
	r.config = config
	r.eachObserver(func(h Handler) { h.UpdateConfig(config) })
	if r.control != nil {
		r.platform.UpdateConfig(config)
	}
}

func (r *Registry) setEditingState(state EditingState) {
	r.eachObserver(func(h Handler) { h.SetEditingState(state) })
}

func (r *Registry) send(method string, args any) {
	payload, err := channel.EncodeMethodCall(method, args)
	if err != nil {
		logging.Error("encode outbound text input message", "method", method, "error", err)
		return
	}
	if err := r.messenger.Send(context.Background(), channel.NameTextInput, payload); err != nil {
		logging.Error("send outbound text input message", "method", method, "error", err)
	}
}
