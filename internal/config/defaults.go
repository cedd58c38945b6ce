package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/textinputd/
//   - Linux:   ~/.local/share/textinputd/
//   - Windows: %APPDATA%\textinputd\
//
// Falls back to ~/.textinputd if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir()
	case "linux":
		return linuxDataDir()
	case "windows":
		return windowsDataDir()
	default:
		return fallbackDataDir()
	}
}

// PlatformCacheDir returns the platform-specific cache directory.
//
// Platform paths:
//   - macOS:   ~/Library/Caches/textinputd/
//   - Linux:   ~/.cache/textinputd/
//   - Windows: %LOCALAPPDATA%\textinputd\cache\
func PlatformCacheDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSCacheDir()
	case "linux":
		return linuxCacheDir()
	case "windows":
		return windowsCacheDir()
	default:
		return filepath.Join(fallbackDataDir(), "cache")
	}
}

// PlatformConfigDir returns the platform-specific config directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/textinputd/
//   - Linux:   ~/.config/textinputd/
//   - Windows: %APPDATA%\textinputd\
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSDataDir() // macOS uses same dir for config and data
	case "linux":
		return linuxConfigDir()
	case "windows":
		return windowsDataDir() // Windows uses same dir for config and data
	default:
		return fallbackDataDir()
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/textinputd/
//   - Linux:   ~/.local/share/textinputd/logs/
//   - Windows: %LOCALAPPDATA%\textinputd\logs\
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return macOSLogDir()
	case "linux":
		return filepath.Join(linuxDataDir(), "logs")
	case "windows":
		return windowsLogDir()
	default:
		return filepath.Join(fallbackDataDir(), "logs")
	}
}

// PlatformRuntimeDir returns the platform-specific runtime directory for sockets/pipes.
//
// Platform paths:
//   - macOS:   /tmp/textinputd-$UID/
//   - Linux:   $XDG_RUNTIME_DIR/textinputd/ or /tmp/textinputd-$UID/
//   - Windows: (uses named pipes, not applicable)
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join("/tmp", "textinputd-"+getUserID())
	case "linux":
		return linuxRuntimeDir()
	case "windows":
		return "" // Windows uses named pipes
	default:
		return filepath.Join("/tmp", "textinputd-"+getUserID())
	}
}

// macOS-specific paths

func macOSDataDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Application Support", "textinputd")
}

func macOSCacheDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Caches", "textinputd")
}

func macOSLogDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, "Library", "Logs", "textinputd")
}

// Linux-specific paths following XDG Base Directory Specification

func linuxDataDir() string {
	// XDG_DATA_HOME or ~/.local/share
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "textinputd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "textinputd")
}

func linuxConfigDir() string {
	// XDG_CONFIG_HOME or ~/.config
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "textinputd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "textinputd")
}

func linuxCacheDir() string {
	// XDG_CACHE_HOME or ~/.cache
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "textinputd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache", "textinputd")
}

func linuxRuntimeDir() string {
	// XDG_RUNTIME_DIR (usually /run/user/$UID)
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "textinputd")
	}
	// Fallback to /tmp
	return filepath.Join("/tmp", "textinputd-"+getUserID())
}

// Windows-specific paths

func windowsDataDir() string {
	// %APPDATA% (roaming)
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "textinputd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Roaming", "textinputd")
}

func windowsCacheDir() string {
	// %LOCALAPPDATA% (local)
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "textinputd", "cache")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "textinputd", "cache")
}

func windowsLogDir() string {
	// %LOCALAPPDATA% (local)
	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		return filepath.Join(localAppData, "textinputd", "logs")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "AppData", "Local", "textinputd", "logs")
}

// Fallback path (legacy compatibility)

func fallbackDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".textinputd")
}

// Helper to get user ID as string
func getUserID() string {
	if uid := os.Getuid(); uid >= 0 {
		return strconv.Itoa(uid)
	}
	return "0"
}

// DefaultPaths returns all default paths for a platform.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	CacheDir   string
	LogDir     string
	RuntimeDir string

	// Specific file paths
	ConfigFile   string
	StoreFile    string
	StoreKeyFile string
	LogFile      string
	AuditFile    string
	SocketPath   string
	PIDFile      string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	cacheDir := PlatformCacheDir()
	logDir := PlatformLogDir()
	runtimeDir := PlatformRuntimeDir()

	return &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		CacheDir:   cacheDir,
		LogDir:     logDir,
		RuntimeDir: runtimeDir,

		ConfigFile:   filepath.Join(configDir, "config.toml"),
		StoreFile:    filepath.Join(dataDir, "autofill.db"),
		StoreKeyFile: filepath.Join(dataDir, "autofill.key"),
		LogFile:      filepath.Join(logDir, "textinputd.log"),
		AuditFile:    filepath.Join(logDir, "audit.log"),
		SocketPath:   getDefaultSocketPath(runtimeDir),
		PIDFile:      filepath.Join(runtimeDir, "textinputd.pid"),
	}
}

func getDefaultSocketPath(runtimeDir string) string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\textinputd`
	}
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "textinputd.sock")
	}
	return "/tmp/textinputd.sock"
}

// Platform constants for feature detection
const (
	PlatformMacOS   = "darwin"
	PlatformLinux   = "linux"
	PlatformWindows = "windows"
)

// HasIBusSupport returns true if the platform may have an IBus daemon.
func HasIBusSupport() bool {
	return runtime.GOOS == "linux"
}

// HasDBusSession returns true if a D-Bus session bus appears reachable.
func HasDBusSession() bool {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") != "" {
		return true
	}
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		if _, err := os.Stat(filepath.Join(xdgRuntime, "bus")); err == nil {
			return true
		}
	}
	return false
}

// DefaultStoreSettings returns platform-appropriate SQLite settings
// for the autofill store.
func DefaultStoreSettings() (busyTimeoutMs int, journalMode string) {
	switch runtime.GOOS {
	case "darwin", "linux":
		return 5000, "wal"
	case "windows":
		return 10000, "truncate"
	default:
		return 10000, "truncate"
	}
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile searches for a config file in standard locations.
// Returns the path to the first found config file, or empty string if none found.
func FindConfigFile() string {
	paths := GetDefaultPaths()

	// Search order:
	// 1. Current directory
	// 2. Config directory
	// 3. Data directory (legacy)
	searchDirs := []string{
		".",
		paths.ConfigDir,
		paths.DataDir,
	}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	return ""
}
