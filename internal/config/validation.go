package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	// Validate version
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	// Validate engine configuration
	if engineErrs := validateEngine(&c.Engine); len(engineErrs) > 0 {
		errs = append(errs, engineErrs...)
	}

	// Validate IPC configuration
	if ipcErrs := validateIPC(&c.IPC); len(ipcErrs) > 0 {
		errs = append(errs, ipcErrs...)
	}

	// Validate backends configuration
	if backendErrs := validateBackends(&c.Backends); len(backendErrs) > 0 {
		errs = append(errs, backendErrs...)
	}

	// Validate autofill configuration
	if autofillErrs := validateAutofill(&c.Autofill); len(autofillErrs) > 0 {
		errs = append(errs, autofillErrs...)
	}

	// Validate logging configuration
	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}

	// Validate metrics configuration
	if metricsErrs := validateMetrics(&c.Metrics); len(metricsErrs) > 0 {
		errs = append(errs, metricsErrs...)
	}

	// Validate trace configuration
	if traceErrs := validateTrace(&c.Trace); len(traceErrs) > 0 {
		errs = append(errs, traceErrs...)
	}

	// Validate daemon configuration
	if daemonErrs := validateDaemon(&c.Daemon); len(daemonErrs) > 0 {
		errs = append(errs, daemonErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.ClientQueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.client_queue_size",
			Message: "client queue size must be at least 1",
		})
	}
	if e.ClientQueueSize > 4096 {
		errs = append(errs, ValidationError{
			Field:   "engine.client_queue_size",
			Message: "client queue size cannot exceed 4096",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}

	// Validate permissions format (Unix only)
	if i.Permissions != "" {
		if matched, _ := regexp.MatchString(`^0[0-7]{3}$`, i.Permissions); !matched {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
			})
		}
	}

	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	if i.MaxFrameBytes < 4096 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_frame_bytes",
			Message: "max frame size must be at least 4096 bytes",
		})
	}
	if i.MaxFrameBytes > 16*1024*1024 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_frame_bytes",
			Message: "max frame size cannot exceed 16MB",
		})
	}

	return errs
}

// knownBackends are the backend names the daemon can select.
var knownBackends = []string{"auto", "ibus", "null"}

func validateBackends(b *BackendsConfig) ValidationErrors {
	var errs ValidationErrors

	if !isKnownBackend(b.Preferred) {
		errs = append(errs, ValidationError{
			Field:   "backends.preferred",
			Message: fmt.Sprintf("unknown backend: %s (valid: %s)", b.Preferred, strings.Join(knownBackends, ", ")),
		})
	}

	for i, name := range b.Disabled {
		if name == "auto" || !isKnownBackend(name) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("backends.disabled[%d]", i),
				Message: fmt.Sprintf("not a selectable backend: %s", name),
			})
			continue
		}
		if name == b.Preferred {
			errs = append(errs, ValidationError{
				Field:   "backends.preferred",
				Message: fmt.Sprintf("preferred backend %q is listed in backends.disabled", name),
			})
		}
	}

	if b.IBus.EngineName == "" {
		errs = append(errs, ValidationError{
			Field:   "backends.ibus.engine_name",
			Message: "engine name is required",
		})
	}

	if b.IBus.ReconnectDelayMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "backends.ibus.reconnect_delay_ms",
			Message: "reconnect delay must be at least 100ms",
		})
	}
	if b.IBus.ReconnectDelayMs > 60000 {
		errs = append(errs, ValidationError{
			Field:   "backends.ibus.reconnect_delay_ms",
			Message: "reconnect delay cannot exceed 60000ms (1 minute)",
		})
	}

	return errs
}

func isKnownBackend(name string) bool {
	for _, known := range knownBackends {
		if name == known {
			return true
		}
	}
	return false
}

func validateAutofill(a *AutofillConfig) ValidationErrors {
	var errs ValidationErrors

	if !a.Enabled {
		return errs // Skip validation if autofill is disabled
	}

	if a.StorePath == "" {
		errs = append(errs, ValidationError{
			Field:   "autofill.store_path",
			Message: "store path is required when autofill is enabled",
		})
	}

	// Check parent directory exists or can be created
	dir := filepath.Dir(expandPath(a.StorePath))
	if dir != "" && dir != "." {
		if info, err := os.Stat(dir); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, ValidationError{
					Field:   "autofill.store_path",
					Message: fmt.Sprintf("cannot access directory: %v", err),
				})
			}
			// Directory doesn't exist yet - that's OK, it will be created
		} else if !info.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "autofill.store_path",
				Message: fmt.Sprintf("parent path is not a directory: %s", dir),
			})
		}
	}

	if a.KeyPath == "" {
		errs = append(errs, ValidationError{
			Field:   "autofill.key_path",
			Message: "sealing key path is required when autofill is enabled",
		})
	}

	if a.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "autofill.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	if a.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "autofill.max_connections",
			Message: "max connections must be at least 1",
		})
	}
	if a.MaxConnections > 100 {
		errs = append(errs, ValidationError{
			Field:   "autofill.max_connections",
			Message: "max connections cannot exceed 100",
		})
	}

	if a.RetentionDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "autofill.retention_days",
			Message: "retention cannot be negative",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file":
		// Valid outputs
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.Output == "file" && l.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: "file path is required when output is file",
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	if l.AuditEnabled && l.AuditPath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.audit_path",
			Message: "audit path is required when the audit trail is enabled",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}

	if m.ListenAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: "listen address is required when metrics are enabled",
		})
	} else if !isValidListenAddr(m.ListenAddr) {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address: %s (expected host:port)", m.ListenAddr),
		})
	}

	return errs
}

func validateTrace(t *TraceConfig) ValidationErrors {
	var errs ValidationErrors

	if !t.Enabled {
		return errs
	}

	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errs = append(errs, ValidationError{
			Field:   "trace.sample_ratio",
			Message: fmt.Sprintf("sample ratio %v out of range (expected 0.0 to 1.0)", t.SampleRatio),
		})
	}

	return errs
}

func validateDaemon(d *DaemonConfig) ValidationErrors {
	var errs ValidationErrors

	if d.ShutdownGraceSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "daemon.shutdown_grace_sec",
			Message: "shutdown grace cannot be negative",
		})
	}
	if d.ShutdownGraceSec > 300 {
		errs = append(errs, ValidationError{
			Field:   "daemon.shutdown_grace_sec",
			Message: "shutdown grace cannot exceed 300 seconds",
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isValidListenAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "" {
		return false
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return p > 0 && p <= 65535
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	// Some fields are warnings, not errors
	warningFields := []string{
		"backends.disabled", // Disabling an unknown backend is harmless
	}
	for _, f := range warningFields {
		if strings.HasPrefix(e.Field, f) {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")
