// Package platform hosts the input method backends the daemon can
// drive. A backend owns the connection to one platform input system
// and reports text events through a Sink; the registry picks the
// backend for the current environment.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"textinputd/internal/config"
	"textinputd/internal/textinput"
)

var (
	ErrBackendNotFound     = errors.New("platform: backend not registered")
	ErrNoBackendAvailable  = errors.New("platform: no backend available")
	ErrBackendNotRunning   = errors.New("platform: backend not running")
	ErrBackendDisabled     = errors.New("platform: backend disabled by configuration")
)

// Sink receives events from a running backend. Implementations must
// tolerate calls from the backend's own goroutines.
type Sink interface {
	// CommitText delivers finished text for insertion at the selection.
	CommitText(text string)

	// UpdatePreedit replaces the composing text. visible false clears it.
	UpdatePreedit(text string, cursorPos int, visible bool)

	// ActionKey reports that the platform's action key fired.
	ActionKey()

	// PrivateCommand forwards a backend-specific command.
	PrivateCommand(action string, data map[string]any)
}

// Backend drives one platform input system.
type Backend interface {
	// Name returns the registry name.
	Name() string

	// Available reports whether the backend can run in this environment.
	Available() bool

	// Start connects the backend and begins delivering events to sink.
	Start(ctx context.Context, sink Sink) error

	// Stop disconnects the backend. Safe to call after a failed Start.
	Stop() error

	// SetClient describes the focused field. A nil configuration means
	// no client is attached.
	SetClient(cfg *textinput.Configuration) error

	// ShowKeyboard asks the platform to present its input UI.
	ShowKeyboard() error

	// HideKeyboard dismisses the platform input UI.
	HideKeyboard() error

	// SetCursorRect positions platform UI near the caret. Coordinates
	// are in the client's view space.
	SetCursorRect(x, y, w, h int) error
}

// Factory constructs a backend from its configuration section.
type Factory func(cfg config.BackendsConfig) Backend

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend constructor available under name. Called
// from init functions; duplicate names panic.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("platform: backend %q registered twice", name))
	}
	registry[name] = factory
}

// Get constructs the named backend.
func Get(name string, cfg config.BackendsConfig) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBackendNotFound, name)
	}
	return factory(cfg), nil
}

// Names returns the registered backend names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select picks the backend for cfg: the preferred backend when it is
// registered, enabled, and available; otherwise the null backend when
// fallback is allowed. Preferred "auto" tries every enabled backend in
// name order with null last.
func Select(cfg config.BackendsConfig) (Backend, error) {
	disabled := make(map[string]bool, len(cfg.Disabled))
	for _, name := range cfg.Disabled {
		disabled[name] = true
	}

	try := func(name string) (Backend, error) {
		if disabled[name] {
			return nil, fmt.Errorf("%w: %q", ErrBackendDisabled, name)
		}
		b, err := Get(name, cfg)
		if err != nil {
			return nil, err
		}
		if !b.Available() {
			return nil, fmt.Errorf("%w: %q", ErrNoBackendAvailable, name)
		}
		return b, nil
	}

	preferred := cfg.Preferred
	if preferred == "" {
		preferred = "auto"
	}

	if preferred != "auto" {
		b, err := try(preferred)
		if err == nil {
			return b, nil
		}
		if !cfg.AllowFallback {
			return nil, err
		}
		return try(NameNull)
	}

	for _, name := range Names() {
		if name == NameNull {
			continue
		}
		if b, err := try(name); err == nil {
			return b, nil
		}
	}
	return try(NameNull)
}
