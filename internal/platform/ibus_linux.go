//go:build linux

package platform

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"textinputd/internal/config"
	"textinputd/internal/logging"
	"textinputd/internal/metrics"
	"textinputd/internal/textinput"
)

// NameIBus is the registry name of the IBus backend.
const NameIBus = "ibus"

// IBus D-Bus constants
const (
	ibusService       = "org.freedesktop.IBus"
	ibusPortalService = "org.freedesktop.portal.IBus"
	ibusPath          = "/org/freedesktop/IBus"
	ibusInterface     = "org.freedesktop.IBus"
	inputContextIface = "org.freedesktop.IBus.InputContext"
)

// Input context capability flags.
const (
	capPreeditText     uint32 = 1 << 0
	capAuxText         uint32 = 1 << 1
	capLookupTable     uint32 = 1 << 2
	capFocus           uint32 = 1 << 3
	capProperty        uint32 = 1 << 4
	capSurroundingText uint32 = 1 << 5
)

// Content purposes (IBusInputPurpose).
const (
	purposeFreeForm uint32 = iota
	purposeAlpha
	purposeDigits
	purposeNumber
	purposePhone
	purposeURL
	purposeEmail
	purposeName
	purposePassword
	purposePIN
	purposeTerminal
)

// Content hints (IBusInputHints).
const (
	hintSpellcheck         uint32 = 1 << 0
	hintNoSpellcheck       uint32 = 1 << 1
	hintWordCompletion     uint32 = 1 << 2
	hintLowercase          uint32 = 1 << 3
	hintUppercaseChars     uint32 = 1 << 4
	hintUppercaseWords     uint32 = 1 << 5
	hintUppercaseSentences uint32 = 1 << 6
	hintInhibitOSK         uint32 = 1 << 7
	hintPrivate            uint32 = 1 << 10
)

// Key symbols the backend reacts to.
const (
	keyReturn   = 0xff0d
	keyKPEnter  = 0xff8d
	keyISOEnter = 0xfe34
)

// ibusReleaseMask marks key release events.
const ibusReleaseMask uint32 = 1 << 30

func init() {
	Register(NameIBus, func(cfg config.BackendsConfig) Backend {
		return NewIBus(cfg.IBus)
	})
}

// IBus drives text input through an IBus input context. The backend is
// a bus client: it creates an input context on the IBus daemon,
// forwards focus and content type, and translates the context's
// signals into Sink events.
type IBus struct {
	cfg config.IBusConfig
	log *logging.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	ctxObj  dbus.BusObject
	ctxPath dbus.ObjectPath
	sink    Sink
	client  *textinput.Configuration
	focused bool
	running bool
	cancel  context.CancelFunc

	wg sync.WaitGroup
}

// NewIBus returns a stopped IBus backend.
func NewIBus(cfg config.IBusConfig) *IBus {
	if cfg.EngineName == "" {
		cfg.EngineName = "textinputd"
	}
	if cfg.ReconnectDelayMs <= 0 {
		cfg.ReconnectDelayMs = 1000
	}
	return &IBus{
		cfg: cfg,
		log: logging.Default().WithComponent("ibus"),
	}
}

// Name implements Backend.
func (b *IBus) Name() string { return NameIBus }

// Available implements Backend: true when an IBus bus address is
// discoverable or a session bus exists for the portal path.
func (b *IBus) Available() bool {
	return ibusAddress() != "" || config.HasDBusSession()
}

// Start implements Backend: dials the bus, creates the input context,
// and begins translating its signals.
func (b *IBus) Start(ctx context.Context, sink Sink) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.sink = sink
	b.running = true
	b.cancel = cancel
	b.mu.Unlock()

	signals, err := b.connect()
	if err != nil {
		b.mu.Lock()
		b.running = false
		b.sink = nil
		b.cancel = nil
		b.mu.Unlock()
		cancel()
		return err
	}

	b.wg.Add(1)
	go b.pump(runCtx, signals)

	b.log.Info("ibus backend started", "engine", b.cfg.EngineName, "context", string(b.contextPath()))
	return nil
}

// Stop implements Backend.
func (b *IBus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	cancel := b.cancel
	conn := b.conn
	b.cancel = nil
	b.conn = nil
	b.ctxObj = nil
	b.sink = nil
	b.focused = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}
	b.wg.Wait()

	b.log.Info("ibus backend stopped")
	return nil
}

// SetClient implements Backend. A nil configuration resets the
// context; otherwise the content type follows the field.
func (b *IBus) SetClient(cfg *textinput.Configuration) error {
	b.mu.Lock()
	b.client = cfg
	obj := b.ctxObj
	b.mu.Unlock()

	if obj == nil {
		return ErrBackendNotRunning
	}
	if cfg == nil {
		return obj.Call(inputContextIface+".Reset", 0).Err
	}

	purpose, hints := contentTypeFor(cfg)
	return obj.Call(inputContextIface+".SetContentType", 0, purpose, hints).Err
}

// ShowKeyboard implements Backend. IBus input follows focus, so
// presenting the keyboard focuses the context.
func (b *IBus) ShowKeyboard() error {
	b.mu.Lock()
	b.focused = true
	obj := b.ctxObj
	b.mu.Unlock()

	if obj == nil {
		return ErrBackendNotRunning
	}
	return obj.Call(inputContextIface+".FocusIn", 0).Err
}

// HideKeyboard implements Backend.
func (b *IBus) HideKeyboard() error {
	b.mu.Lock()
	b.focused = false
	obj := b.ctxObj
	b.mu.Unlock()

	if obj == nil {
		return ErrBackendNotRunning
	}
	return obj.Call(inputContextIface+".FocusOut", 0).Err
}

// SetCursorRect implements Backend.
func (b *IBus) SetCursorRect(x, y, w, h int) error {
	b.mu.Lock()
	obj := b.ctxObj
	b.mu.Unlock()

	if obj == nil {
		return ErrBackendNotRunning
	}
	return obj.Call(inputContextIface+".SetCursorLocation", 0,
		int32(x), int32(y), int32(w), int32(h)).Err
}

// connect dials the bus, creates the input context, and installs the
// signal subscription. After a reconnect the previous focus and
// content type are pushed again.
func (b *IBus) connect() (chan *dbus.Signal, error) {
	conn, service, err := dialIBus()
	if err != nil {
		return nil, err
	}

	var ctxPath dbus.ObjectPath
	bus := conn.Object(service, ibusPath)
	if err := bus.Call(ibusInterface+".CreateInputContext", 0, b.cfg.EngineName).Store(&ctxPath); err != nil {
		conn.Close()
		return nil, fmt.Errorf("platform: create input context: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ctxPath),
		dbus.WithMatchInterface(inputContextIface),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("platform: subscribe to context signals: %w", err)
	}

	// Without the preedit capability the panel renders composing text
	// in its own window instead of the client's field.
	caps := capFocus | capSurroundingText
	if b.cfg.PreeditUnderline {
		caps |= capPreeditText
	}
	ctxObj := conn.Object(service, ctxPath)
	if call := ctxObj.Call(inputContextIface+".SetCapabilities", 0, caps); call.Err != nil {
		conn.Close()
		return nil, fmt.Errorf("platform: set capabilities: %w", call.Err)
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		conn.Close()
		return nil, ErrBackendNotRunning
	}
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.ctxObj = ctxObj
	b.ctxPath = ctxPath
	client := b.client
	focused := b.focused
	b.mu.Unlock()

	if client != nil {
		purpose, hints := contentTypeFor(client)
		ctxObj.Call(inputContextIface+".SetContentType", 0, purpose, hints)
	}
	if focused {
		ctxObj.Call(inputContextIface+".FocusIn", 0)
	}
	return signals, nil
}

// pump translates context signals until the backend stops, redialing
// the bus when the connection drops.
func (b *IBus) pump(ctx context.Context, signals chan *dbus.Signal) {
	defer b.wg.Done()

	delay := time.Duration(b.cfg.ReconnectDelayMs) * time.Millisecond

	for {
		if signals == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			var err error
			signals, err = b.connect()
			if err != nil {
				b.log.Error("ibus reconnect failed", "error", err)
				signals = nil
				continue
			}
			b.log.Info("ibus reconnected")
		}

		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				if !b.isRunning() {
					return
				}
				b.log.Warn("ibus connection lost", "reconnect_ms", b.cfg.ReconnectDelayMs)
				metrics.GetMetrics().RecordBackendRestart()
				signals = nil
				continue
			}
			b.handleSignal(sig)
		}
	}
}

func (b *IBus) handleSignal(sig *dbus.Signal) {
	b.mu.Lock()
	sink := b.sink
	path := b.ctxPath
	b.mu.Unlock()

	if sink == nil || sig == nil || sig.Path != path {
		return
	}

	switch sig.Name {
	case inputContextIface + ".CommitText":
		if text, ok := ibusTextFromSignal(sig.Body); ok && text != "" {
			sink.CommitText(text)
		}

	case inputContextIface + ".UpdatePreeditText":
		text, _ := ibusTextFromSignal(sig.Body)
		cursor, visible := 0, false
		if len(sig.Body) >= 3 {
			if v, ok := sig.Body[1].(uint32); ok {
				cursor = int(v)
			}
			if v, ok := sig.Body[2].(bool); ok {
				visible = v
			}
		}
		sink.UpdatePreedit(text, cursor, visible)

	case inputContextIface + ".HidePreeditText":
		sink.UpdatePreedit("", 0, false)

	case inputContextIface + ".ForwardKeyEvent":
		if len(sig.Body) < 3 {
			return
		}
		keyval, _ := sig.Body[0].(uint32)
		state, _ := sig.Body[2].(uint32)
		if state&ibusReleaseMask != 0 {
			return
		}
		switch keyval {
		case keyReturn, keyKPEnter, keyISOEnter:
			sink.ActionKey()
		}
	}
}

func (b *IBus) contextPath() dbus.ObjectPath {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctxPath
}

func (b *IBus) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// contentTypeFor maps a client configuration to IBus purpose and hints.
func contentTypeFor(cfg *textinput.Configuration) (purpose, hints uint32) {
	switch cfg.InputType.Kind {
	case textinput.KindNumber:
		if cfg.InputType.Decimal || cfg.InputType.Signed {
			purpose = purposeNumber
		} else {
			purpose = purposeDigits
		}
	case textinput.KindPhone:
		purpose = purposePhone
	case textinput.KindURL:
		purpose = purposeURL
	case textinput.KindEmailAddress:
		purpose = purposeEmail
	case textinput.KindName:
		purpose = purposeName
	case textinput.KindVisiblePassword:
		purpose = purposePassword
	default:
		purpose = purposeFreeForm
	}

	if cfg.ObscureText {
		purpose = purposePassword
		hints |= hintPrivate
	}
	if cfg.InputType.Kind == textinput.KindNone {
		hints |= hintInhibitOSK
	}

	if cfg.Autocorrect {
		hints |= hintSpellcheck | hintWordCompletion
	} else {
		hints |= hintNoSpellcheck
	}

	switch cfg.Capitalization {
	case textinput.CapitalizationCharacters:
		hints |= hintUppercaseChars
	case textinput.CapitalizationWords:
		hints |= hintUppercaseWords
	case textinput.CapitalizationSentences:
		hints |= hintUppercaseSentences
	}
	return purpose, hints
}

// ibusTextFromSignal extracts the text of an IBusText variant. The
// serialized form is a struct whose first member is the type name and
// whose third member is the text.
func ibusTextFromSignal(body []interface{}) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	v, ok := body[0].(dbus.Variant)
	if !ok {
		return "", false
	}
	fields, ok := v.Value().([]interface{})
	if !ok || len(fields) < 3 {
		return "", false
	}
	if name, _ := fields[0].(string); name != "IBusText" {
		return "", false
	}
	text, ok := fields[2].(string)
	return text, ok
}

// dialIBus connects to the IBus private bus when its address can be
// discovered, falling back to the portal name on the session bus.
func dialIBus() (*dbus.Conn, string, error) {
	if addr := ibusAddress(); addr != "" {
		if conn, err := dbus.Connect(addr); err == nil {
			return conn, ibusService, nil
		}
		// The address file can be stale; the portal below still works.
	}

	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, "", fmt.Errorf("platform: connect session bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("platform: session bus auth: %w", err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("platform: session bus hello: %w", err)
	}
	return conn, ibusPortalService, nil
}

// ibusAddress discovers the IBus daemon's private bus address: the
// IBUS_ADDRESS variable when set, otherwise the newest bus file under
// the user's ibus config directory.
func ibusAddress() string {
	if addr := os.Getenv("IBUS_ADDRESS"); addr != "" {
		return addr
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}

	matches, err := filepath.Glob(filepath.Join(configHome, "ibus", "bus", "*"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	suffix := displaySuffix()
	newest := newestMatching(matches, suffix)
	if newest == "" && suffix != "" {
		newest = newestMatching(matches, "")
	}
	if newest == "" {
		return ""
	}
	return addressFromBusFile(newest)
}

func newestMatching(paths []string, suffix string) string {
	var newest string
	var newestMod time.Time
	for _, p := range paths {
		if suffix != "" && !strings.HasSuffix(p, suffix) {
			continue
		}
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.ModTime().After(newestMod) {
			newest, newestMod = p, fi.ModTime()
		}
	}
	return newest
}

// displaySuffix derives the bus file suffix for the current display,
// "-unix-0" for DISPLAY=:0.
func displaySuffix() string {
	display := os.Getenv("DISPLAY")
	if display == "" {
		display = os.Getenv("WAYLAND_DISPLAY")
	}
	if display == "" {
		return ""
	}
	display = strings.TrimPrefix(display, ":")
	if i := strings.IndexByte(display, '.'); i >= 0 {
		display = display[:i]
	}
	return "-unix-" + display
}

// addressFromBusFile parses an ibus bus file for its address line.
func addressFromBusFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if v, ok := strings.CutPrefix(line, "IBUS_ADDRESS="); ok {
			return v
		}
	}
	return ""
}
