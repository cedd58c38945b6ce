package platform

import (
	"context"
	"sync"

	"textinputd/internal/config"
	"textinputd/internal/textinput"
)

// NameNull is the registry name of the null backend.
const NameNull = "null"

func init() {
	Register(NameNull, func(config.BackendsConfig) Backend {
		return NewNull()
	})
}

// Null is the backend of last resort: always available, drives no
// platform input system, and accepts every call. Tests use it to
// inspect the state the engine pushed down.
type Null struct {
	mu      sync.Mutex
	sink    Sink
	client  *textinput.Configuration
	visible bool
	rect    [4]int
	running bool
}

// NewNull returns a stopped null backend.
func NewNull() *Null {
	return &Null{}
}

// Name implements Backend.
func (n *Null) Name() string { return NameNull }

// Available implements Backend. The null backend always runs.
func (n *Null) Available() bool { return true }

// Start implements Backend.
func (n *Null) Start(_ context.Context, sink Sink) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sink = sink
	n.running = true
	return nil
}

// Stop implements Backend.
func (n *Null) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sink = nil
	n.running = false
	n.visible = false
	n.client = nil
	return nil
}

// SetClient implements Backend.
func (n *Null) SetClient(cfg *textinput.Configuration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.client = cfg
	return nil
}

// ShowKeyboard implements Backend.
func (n *Null) ShowKeyboard() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return ErrBackendNotRunning
	}
	n.visible = true
	return nil
}

// HideKeyboard implements Backend.
func (n *Null) HideKeyboard() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visible = false
	return nil
}

// SetCursorRect implements Backend.
func (n *Null) SetCursorRect(x, y, w, h int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rect = [4]int{x, y, w, h}
	return nil
}

// KeyboardVisible reports the keyboard state the engine requested.
func (n *Null) KeyboardVisible() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.visible
}

// Client returns the configuration last pushed down.
func (n *Null) Client() *textinput.Configuration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

// CursorRect returns the caret rectangle last pushed down.
func (n *Null) CursorRect() (x, y, w, h int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rect[0], n.rect[1], n.rect[2], n.rect[3]
}

// Sink returns the installed sink, for driving events in tests.
func (n *Null) Sink() Sink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sink
}
