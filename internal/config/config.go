// Package config handles configuration loading, validation, and management for textinputd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Version is the current configuration schema version.
const Version = 3

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine configuration for the input connection registry.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// IPC configuration for the client socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Backends configuration for platform input method backends.
	Backends BackendsConfig `toml:"backends" json:"backends" yaml:"backends"`

	// Autofill configuration for the sealed value store.
	Autofill AutofillConfig `toml:"autofill" json:"autofill" yaml:"autofill"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration for the instrumentation endpoint.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// Trace configuration for the dispatch span recorder.
	Trace TraceConfig `toml:"trace" json:"trace" yaml:"trace"`

	// Daemon configuration for process management.
	Daemon DaemonConfig `toml:"daemon" json:"daemon" yaml:"daemon"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// EngineConfig holds input engine configuration.
type EngineConfig struct {
	// ReplayOnRestart determines whether the active connection's
	// configuration and editing state are re-sent to a backend that
	// reports a restart.
	ReplayOnRestart bool `toml:"replay_on_restart" json:"replay_on_restart" yaml:"replay_on_restart"`

	// AllowPrivateCommands determines whether backend-specific private
	// commands are forwarded to clients.
	AllowPrivateCommands bool `toml:"allow_private_commands" json:"allow_private_commands" yaml:"allow_private_commands"`

	// ClientQueueSize is the number of outbound frames buffered per
	// client before the daemon considers the client stalled.
	ClientQueueSize int `toml:"client_queue_size" json:"client_queue_size" yaml:"client_queue_size"`
}

// IPCConfig holds inter-process communication configuration.
type IPCConfig struct {
	// Enabled determines whether the IPC socket is created.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the path to the Unix domain socket.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket file mode in octal notation (e.g. "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum number of concurrent clients.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-request timeout in seconds.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// MaxFrameBytes is the maximum accepted frame size in bytes.
	MaxFrameBytes int `toml:"max_frame_bytes" json:"max_frame_bytes" yaml:"max_frame_bytes"`
}

// BackendsConfig holds platform backend selection configuration.
type BackendsConfig struct {
	// Preferred is the backend to try first: "auto", "ibus", or "null".
	Preferred string `toml:"preferred" json:"preferred" yaml:"preferred"`

	// AllowFallback determines whether the daemon falls back to the
	// null backend when the preferred backend is unavailable.
	AllowFallback bool `toml:"allow_fallback" json:"allow_fallback" yaml:"allow_fallback"`

	// Disabled lists backends that must never be selected.
	Disabled []string `toml:"disabled" json:"disabled" yaml:"disabled"`

	// IBus holds IBus-specific configuration.
	IBus IBusConfig `toml:"ibus" json:"ibus" yaml:"ibus"`
}

// IBusConfig holds IBus backend configuration.
type IBusConfig struct {
	// EngineName is the engine name registered on the IBus bus.
	EngineName string `toml:"engine_name" json:"engine_name" yaml:"engine_name"`

	// PreeditUnderline determines whether composing text is underlined.
	PreeditUnderline bool `toml:"preedit_underline" json:"preedit_underline" yaml:"preedit_underline"`

	// ReconnectDelayMs is the delay before reconnecting to a lost bus.
	ReconnectDelayMs int `toml:"reconnect_delay_ms" json:"reconnect_delay_ms" yaml:"reconnect_delay_ms"`
}

// AutofillConfig holds sealed autofill store configuration.
type AutofillConfig struct {
	// Enabled determines whether autofill values are stored at all.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// StorePath is the path to the autofill database file.
	StorePath string `toml:"store_path" json:"store_path" yaml:"store_path"`

	// KeyPath is the path to the sealing key file.
	KeyPath string `toml:"key_path" json:"key_path" yaml:"key_path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// SaveOnFinish determines whether values are persisted when a
	// client finishes an autofill context with save requested.
	SaveOnFinish bool `toml:"save_on_finish" json:"save_on_finish" yaml:"save_on_finish"`

	// RetentionDays is how long stored values are kept before pruning.
	// Set to 0 to keep values indefinitely.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log output format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is how long rotated files are kept.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether rotated files are gzipped.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// AuditEnabled determines whether the audit trail is written.
	AuditEnabled bool `toml:"audit_enabled" json:"audit_enabled" yaml:"audit_enabled"`

	// AuditPath is the audit log file path.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	// Enabled determines whether the metrics HTTP endpoint is served.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the host:port the metrics endpoint binds to.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`
}

// TraceConfig holds dispatch span recording configuration.
type TraceConfig struct {
	// Enabled determines whether spans are recorded at all.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the span output file. Empty writes spans to stdout.
	Path string `toml:"path" json:"path" yaml:"path"`

	// SampleRatio is the fraction of traces recorded, 0.0 to 1.0.
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio" yaml:"sample_ratio"`
}

// DaemonConfig holds process management configuration.
type DaemonConfig struct {
	// PidFile is the path to the daemon PID file.
	PidFile string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`

	// ShutdownGraceSec is how long to wait for clients to drain on shutdown.
	ShutdownGraceSec int `toml:"shutdown_grace_sec" json:"shutdown_grace_sec" yaml:"shutdown_grace_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := TextinputdDir()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			ReplayOnRestart:      true,
			AllowPrivateCommands: true,
			ClientQueueSize:      64,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 32,
			TimeoutSec:     30,
			MaxFrameBytes:  1 << 20, // 1MB
		},
		Backends: BackendsConfig{
			Preferred:     "auto",
			AllowFallback: true,
			Disabled:      []string{},
			IBus: IBusConfig{
				EngineName:       "textinputd",
				PreeditUnderline: true,
				ReconnectDelayMs: 2000,
			},
		},
		Autofill: AutofillConfig{
			Enabled:        true,
			StorePath:      filepath.Join(dir, "autofill.db"),
			KeyPath:        filepath.Join(dir, "autofill.key"),
			BusyTimeoutMs:  5000,
			MaxConnections: 4,
			SaveOnFinish:   true,
			RetentionDays:  365,
		},
		Logging: LoggingConfig{
			Level:        "info",
			Format:       "text",
			Output:       "file",
			FilePath:     filepath.Join(dir, "logs", "textinputd.log"),
			MaxSizeMB:    50,
			MaxBackups:   3,
			MaxAgeDays:   14,
			Compress:     true,
			AuditEnabled: true,
			AuditPath:    filepath.Join(dir, "logs", "audit.log"),
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9377",
		},
		Trace: TraceConfig{
			Enabled:     false,
			Path:        filepath.Join(dir, "logs", "trace.jsonl"),
			SampleRatio: 1.0,
		},
		Daemon: DaemonConfig{
			PidFile:          filepath.Join(PlatformRuntimeDir(), "textinputd.pid"),
			ShutdownGraceSec: 5,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(TextinputdDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the daemon.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Autofill.StorePath),
		filepath.Dir(c.Autofill.KeyPath),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Logging.AuditPath),
		filepath.Dir(c.Trace.Path),
		filepath.Dir(c.IPC.SocketPath),
		filepath.Dir(c.Daemon.PidFile),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// TextinputdDir returns the base textinputd data directory.
// Uses platform-specific paths or the TEXTINPUTD_DATA_DIR environment override.
func TextinputdDir() string {
	if envDir := os.Getenv("TEXTINPUTD_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with TEXTINPUTD_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// IPC overrides
	if v := os.Getenv("TEXTINPUTD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}

	// Backend overrides
	if v := os.Getenv("TEXTINPUTD_BACKEND"); v != "" {
		c.Backends.Preferred = v
	}
	if v := os.Getenv("TEXTINPUTD_IBUS_ENGINE"); v != "" {
		c.Backends.IBus.EngineName = v
	}

	// Autofill overrides
	if v := os.Getenv("TEXTINPUTD_STORE_PATH"); v != "" {
		c.Autofill.StorePath = v
	}
	if v := os.Getenv("TEXTINPUTD_STORE_KEY_PATH"); v != "" {
		c.Autofill.KeyPath = v
	}

	// Logging overrides
	if v := os.Getenv("TEXTINPUTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TEXTINPUTD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("TEXTINPUTD_AUDIT_PATH"); v != "" {
		c.Logging.AuditPath = v
	}

	// Metrics overrides
	if v := os.Getenv("TEXTINPUTD_METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}

	// Trace overrides
	if v := os.Getenv("TEXTINPUTD_TRACE_PATH"); v != "" {
		c.Trace.Path = v
	}

	// Daemon overrides
	if v := os.Getenv("TEXTINPUTD_PID_FILE"); v != "" {
		c.Daemon.PidFile = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Engine:   c.Engine,
		IPC:      c.IPC,
		Backends: c.Backends,
		Autofill: c.Autofill,
		Logging:  c.Logging,
		Metrics:  c.Metrics,
		Trace:    c.Trace,
		Daemon:   c.Daemon,
	}

	// Deep copy slices
	clone.Backends.Disabled = append([]string{}, c.Backends.Disabled...)

	return clone
}

// Helper functions

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "textinputd", "textinputd.sock")
	case "linux":
		// Prefer XDG_RUNTIME_DIR
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "textinputd.sock")
		}
		return "/tmp/textinputd.sock"
	case "windows":
		return `\\.\pipe\textinputd`
	default:
		return "/tmp/textinputd.sock"
	}
}

// SocketPath returns the IPC socket path.
func (c *Config) SocketPath() string {
	return c.IPC.SocketPath
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	return c.Logging.FilePath
}

// StorePath returns the autofill database path.
func (c *Config) StorePath() string {
	return c.Autofill.StorePath
}

// PreferredBackend returns the configured backend preference.
func (c *Config) PreferredBackend() string {
	return c.Backends.Preferred
}
