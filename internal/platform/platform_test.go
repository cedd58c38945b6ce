package platform

import (
	"context"
	"errors"
	"sync"
	"testing"

	"textinputd/internal/config"
	"textinputd/internal/textinput"
)

// fakeBackend is a controllable registry entry. The name sorts after
// "null" so auto selection only picks it when made available.
type fakeBackend struct {
	Null
	name      string
	available bool
}

func (f *fakeBackend) Name() string    { return f.name }
func (f *fakeBackend) Available() bool { return f.available }

var fakeMu sync.Mutex
var fakeAvailable bool

func init() {
	Register("zfake", func(config.BackendsConfig) Backend {
		fakeMu.Lock()
		defer fakeMu.Unlock()
		return &fakeBackend{name: "zfake", available: fakeAvailable}
	})
}

func setFakeAvailable(t *testing.T, v bool) {
	t.Helper()
	fakeMu.Lock()
	fakeAvailable = v
	fakeMu.Unlock()
	t.Cleanup(func() {
		fakeMu.Lock()
		fakeAvailable = false
		fakeMu.Unlock()
	})
}

// noDiscovery disables every backend that probes the host environment
// so selection tests behave the same on any machine.
func noDiscovery() []string {
	return []string{"ibus"}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register did not panic")
		}
	}()
	Register(NameNull, func(config.BackendsConfig) Backend { return NewNull() })
}

func TestGetUnknownBackend(t *testing.T) {
	_, err := Get("no-such-backend", config.BackendsConfig{})
	if !errors.Is(err, ErrBackendNotFound) {
		t.Fatalf("expected ErrBackendNotFound, got %v", err)
	}
}

func TestNamesIncludesNull(t *testing.T) {
	names := Names()
	found := false
	for _, n := range names {
		if n == NameNull {
			found = true
		}
	}
	if !found {
		t.Fatalf("Names() = %v, missing %q", names, NameNull)
	}
}

func TestSelectPreferred(t *testing.T) {
	b, err := Select(config.BackendsConfig{Preferred: NameNull})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if b.Name() != NameNull {
		t.Fatalf("selected %q, want %q", b.Name(), NameNull)
	}
}

func TestSelectUnknownPreferredNoFallback(t *testing.T) {
	_, err := Select(config.BackendsConfig{Preferred: "no-such-backend"})
	if err == nil {
		t.Fatal("expected error for unknown preferred backend")
	}
}

func TestSelectUnknownPreferredFallsBack(t *testing.T) {
	b, err := Select(config.BackendsConfig{
		Preferred:     "no-such-backend",
		AllowFallback: true,
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if b.Name() != NameNull {
		t.Fatalf("selected %q, want fallback %q", b.Name(), NameNull)
	}
}

func TestSelectHonorsDisabled(t *testing.T) {
	_, err := Select(config.BackendsConfig{
		Preferred: NameNull,
		Disabled:  []string{NameNull},
	})
	if !errors.Is(err, ErrBackendDisabled) {
		t.Fatalf("expected ErrBackendDisabled, got %v", err)
	}
}

func TestSelectAutoFallsToNull(t *testing.T) {
	b, err := Select(config.BackendsConfig{
		Preferred: "auto",
		Disabled:  noDiscovery(),
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if b.Name() != NameNull {
		t.Fatalf("selected %q, want %q", b.Name(), NameNull)
	}
}

func TestSelectAutoPrefersAvailableBackend(t *testing.T) {
	setFakeAvailable(t, true)

	b, err := Select(config.BackendsConfig{
		Preferred: "auto",
		Disabled:  noDiscovery(),
	})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if b.Name() != "zfake" {
		t.Fatalf("selected %q, want %q", b.Name(), "zfake")
	}
}

type recordingSink struct {
	mu       sync.Mutex
	commits  []string
	preedits []string
	actions  int
	privates []string
}

func (s *recordingSink) CommitText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, text)
}

func (s *recordingSink) UpdatePreedit(text string, cursorPos int, visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preedits = append(s.preedits, text)
}

func (s *recordingSink) ActionKey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions++
}

func (s *recordingSink) PrivateCommand(action string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privates = append(s.privates, action)
}

func TestNullBackendLifecycle(t *testing.T) {
	n := NewNull()
	sink := &recordingSink{}

	if err := n.ShowKeyboard(); !errors.Is(err, ErrBackendNotRunning) {
		t.Fatalf("ShowKeyboard before Start: got %v, want ErrBackendNotRunning", err)
	}

	if err := n.Start(context.Background(), sink); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n.Sink() == nil {
		t.Fatal("sink not installed")
	}

	cfg := textinput.DefaultConfiguration()
	if err := n.SetClient(&cfg); err != nil {
		t.Fatalf("SetClient failed: %v", err)
	}
	if n.Client() == nil {
		t.Fatal("client not recorded")
	}

	if err := n.ShowKeyboard(); err != nil {
		t.Fatalf("ShowKeyboard failed: %v", err)
	}
	if !n.KeyboardVisible() {
		t.Fatal("keyboard should be visible after ShowKeyboard")
	}

	if err := n.SetCursorRect(10, 20, 2, 24); err != nil {
		t.Fatalf("SetCursorRect failed: %v", err)
	}
	x, y, w, h := n.CursorRect()
	if x != 10 || y != 20 || w != 2 || h != 24 {
		t.Fatalf("CursorRect = (%d,%d,%d,%d)", x, y, w, h)
	}

	if err := n.HideKeyboard(); err != nil {
		t.Fatalf("HideKeyboard failed: %v", err)
	}
	if n.KeyboardVisible() {
		t.Fatal("keyboard should be hidden after HideKeyboard")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n.Sink() != nil || n.Client() != nil {
		t.Fatal("Stop should clear sink and client")
	}
}
