//go:build linux

package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/godbus/dbus/v5"

	"textinputd/internal/textinput"
)

func TestContentTypeMapping(t *testing.T) {
	tests := []struct {
		name        string
		cfg         textinput.Configuration
		wantPurpose uint32
		wantHints   uint32
	}{
		{
			name:        "plain text",
			cfg:         textinput.Configuration{InputType: textinput.TypeText(), Autocorrect: true},
			wantPurpose: purposeFreeForm,
			wantHints:   hintSpellcheck | hintWordCompletion,
		},
		{
			name:        "email",
			cfg:         textinput.Configuration{InputType: textinput.TypeEmailAddress()},
			wantPurpose: purposeEmail,
			wantHints:   hintNoSpellcheck,
		},
		{
			name:        "digits",
			cfg:         textinput.Configuration{InputType: textinput.TypeNumber(false, false)},
			wantPurpose: purposeDigits,
			wantHints:   hintNoSpellcheck,
		},
		{
			name:        "signed number",
			cfg:         textinput.Configuration{InputType: textinput.TypeNumber(true, true)},
			wantPurpose: purposeNumber,
			wantHints:   hintNoSpellcheck,
		},
		{
			name:        "obscured overrides purpose",
			cfg:         textinput.Configuration{InputType: textinput.TypeText(), ObscureText: true},
			wantPurpose: purposePassword,
			wantHints:   hintPrivate | hintNoSpellcheck,
		},
		{
			name:        "no keyboard",
			cfg:         textinput.Configuration{InputType: textinput.TypeNone()},
			wantPurpose: purposeFreeForm,
			wantHints:   hintInhibitOSK | hintNoSpellcheck,
		},
		{
			name: "word capitalization",
			cfg: textinput.Configuration{
				InputType:      textinput.TypeText(),
				Capitalization: textinput.CapitalizationWords,
			},
			wantPurpose: purposeFreeForm,
			wantHints:   hintNoSpellcheck | hintUppercaseWords,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			purpose, hints := contentTypeFor(&tt.cfg)
			if purpose != tt.wantPurpose {
				t.Errorf("purpose = %d, want %d", purpose, tt.wantPurpose)
			}
			if hints != tt.wantHints {
				t.Errorf("hints = %#x, want %#x", hints, tt.wantHints)
			}
		})
	}
}

func TestIBusTextFromSignal(t *testing.T) {
	text := dbus.MakeVariant([]interface{}{
		"IBusText",
		map[string]dbus.Variant{},
		"こんにちは",
		dbus.MakeVariant([]interface{}{}),
	})

	got, ok := ibusTextFromSignal([]interface{}{text})
	if !ok || got != "こんにちは" {
		t.Fatalf("ibusTextFromSignal = (%q, %v)", got, ok)
	}

	wrongName := dbus.MakeVariant([]interface{}{
		"IBusAttrList", map[string]dbus.Variant{}, "x",
	})
	if _, ok := ibusTextFromSignal([]interface{}{wrongName}); ok {
		t.Fatal("accepted a non-IBusText struct")
	}

	if _, ok := ibusTextFromSignal(nil); ok {
		t.Fatal("accepted an empty body")
	}
	if _, ok := ibusTextFromSignal([]interface{}{"bare string"}); ok {
		t.Fatal("accepted a non-variant body")
	}
}

func TestAddressFromBusFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "machine-unix-0")
	content := "# This file is created by ibus-daemon, please do not modify it\n" +
		"IBUS_ADDRESS=unix:abstract=/home/user/.cache/ibus/dbus-x7fz,guid=abc123\n" +
		"IBUS_DAEMON_PID=4242\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got := addressFromBusFile(path)
	want := "unix:abstract=/home/user/.cache/ibus/dbus-x7fz,guid=abc123"
	if got != want {
		t.Fatalf("addressFromBusFile = %q, want %q", got, want)
	}

	empty := filepath.Join(dir, "no-address")
	if err := os.WriteFile(empty, []byte("IBUS_DAEMON_PID=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := addressFromBusFile(empty); got != "" {
		t.Fatalf("addressFromBusFile on file without address = %q", got)
	}
}

func TestDisplaySuffix(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "")

	t.Setenv("DISPLAY", ":0")
	if got := displaySuffix(); got != "-unix-0" {
		t.Fatalf("displaySuffix(:0) = %q", got)
	}

	t.Setenv("DISPLAY", ":1.0")
	if got := displaySuffix(); got != "-unix-1" {
		t.Fatalf("displaySuffix(:1.0) = %q", got)
	}

	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")
	if got := displaySuffix(); got != "-unix-wayland-0" {
		t.Fatalf("displaySuffix(wayland-0) = %q", got)
	}

	t.Setenv("WAYLAND_DISPLAY", "")
	if got := displaySuffix(); got != "" {
		t.Fatalf("displaySuffix with no display = %q", got)
	}
}

func TestIBusAddressFromEnv(t *testing.T) {
	t.Setenv("IBUS_ADDRESS", "unix:path=/tmp/test-ibus-socket")
	if got := ibusAddress(); got != "unix:path=/tmp/test-ibus-socket" {
		t.Fatalf("ibusAddress = %q", got)
	}
}

func TestIBusAddressFromBusDir(t *testing.T) {
	t.Setenv("IBUS_ADDRESS", "")
	t.Setenv("DISPLAY", ":0")
	t.Setenv("WAYLAND_DISPLAY", "")

	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)

	busDir := filepath.Join(configHome, "ibus", "bus")
	if err := os.MkdirAll(busDir, 0755); err != nil {
		t.Fatal(err)
	}
	busFile := filepath.Join(busDir, "0123456789abcdef-unix-0")
	if err := os.WriteFile(busFile, []byte("IBUS_ADDRESS=unix:abstract=/run/ibus/bus\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if got := ibusAddress(); got != "unix:abstract=/run/ibus/bus" {
		t.Fatalf("ibusAddress = %q", got)
	}
}
