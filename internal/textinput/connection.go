package textinput

// State is a connection's lifecycle stage.
type State int

const (
	// StateUnattached is the zero value; the registry creates
	// connections directly in StateAttached.
	StateUnattached State = iota
	// StateAttached means the connection is current.
	StateAttached
	// StateClosing means the connection was closed but the deferred
	// keyboard hide has not run yet.
	StateClosing
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "attached"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unattached"
	}
}

// Connection is the capability handle a client holds on its text-input
// session. Every method forwards to the registry bound to the
// connection id; once the connection is closed or superseded each call
// is a silent no-op, so a client may race its own detach against queued
// platform traffic without guards.
type Connection struct {
	reg    *Registry
	id     int
	client Client
	state  State
}

// ID returns the connection identifier.
func (c *Connection) ID() int {
	return c.id
}

// State returns the lifecycle stage.
func (c *Connection) State() State {
	return c.state
}

// Attached reports whether this connection is still current.
func (c *Connection) Attached() bool {
	return c.state == StateAttached
}

// Close detaches the client, notifies the observers, clears the
// platform client and schedules the deferred keyboard hide. Closing a
// stale connection does nothing.
func (c *Connection) Close() {
	if !c.Attached() {
		return
	}
	c.reg.closeConnection(c)
}

// Show asks the primary control to present its input UI.
func (c *Connection) Show() {
	if !c.Attached() {
		return
	}
	c.reg.primary().Show()
}

// Hide asks the primary control to dismiss its input UI.
func (c *Connection) Hide() {
	if !c.Attached() {
		return
	}
	c.reg.primary().Hide()
}

// SetEditingState announces the client's new text model to every
// observer and, while the platform control is primary, to the platform.
func (c *Connection) SetEditingState(state EditingState) {
	if !c.Attached() {
		return
	}
	c.reg.setEditingState(state)
}

// UpdateConfig announces a configuration change. The whole
// configuration is sent each time.
func (c *Connection) UpdateConfig(config Configuration) {
	if !c.Attached() {
		return
	}
	c.reg.updateConfig(config)
}

// SetComposingRect tells the primary control where the composing span
// is rendered. Advisory; never fails.
func (c *Connection) SetComposingRect(rect Rect) {
	if !c.Attached() {
		return
	}
	c.reg.primary().SetComposingRect(rect)
}

// SetCaretRect tells the primary control where the caret is rendered.
// Advisory; never fails.
func (c *Connection) SetCaretRect(rect Rect) {
	if !c.Attached() {
		return
	}
	c.reg.primary().SetCaretRect(rect)
}

// SetEditableSizeAndTransform tells the primary control the size of the
// editable box and its column-major transform to global coordinates.
func (c *Connection) SetEditableSizeAndTransform(size Size, transform [16]float64) {
	if !c.Attached() {
		return
	}
	c.reg.primary().SetEditableSizeAndTransform(size, transform)
}

// SetStyle tells the primary control how the field renders text.
func (c *Connection) SetStyle(style TextStyle) {
	if !c.Attached() {
		return
	}
	c.reg.primary().SetStyle(style)
}

// RequestAutofill asks the platform to offer autofill for this client's
// group.
func (c *Connection) RequestAutofill() {
	if !c.Attached() {
		return
	}
	c.reg.primary().RequestAutofill()
}
