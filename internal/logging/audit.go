package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType classifies an audit event.
type AuditEventType string

// Audit event types. The audit trail records who talked to the daemon
// and what they touched, never what was typed.
const (
	AuditEventStartup          AuditEventType = "startup"
	AuditEventShutdown         AuditEventType = "shutdown"
	AuditEventClientConnect    AuditEventType = "client_connect"
	AuditEventClientDisconnect AuditEventType = "client_disconnect"
	AuditEventSessionAttach    AuditEventType = "session_attach"
	AuditEventSessionDetach    AuditEventType = "session_detach"
	AuditEventConfigChange     AuditEventType = "config_change"
	AuditEventBackendChange    AuditEventType = "backend_change"
	AuditEventStoreUnlock      AuditEventType = "store_unlock"
	AuditEventStoreSave        AuditEventType = "store_save"
	AuditEventStoreFill        AuditEventType = "store_fill"
	AuditEventPermission       AuditEventType = "permission"
	AuditEventError            AuditEventType = "error"
)

// AuditEvent is one record in the audit trail.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	ClientID  string         `json:"client_id,omitempty"`
	UID       int            `json:"uid,omitempty"`
	PID       int            `json:"pid,omitempty"`
	ConnID    int            `json:"conn_id,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Result    string         `json:"result"` // "success", "failure", "denied"
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int64

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be compressed.
	Compress bool

	// Component is the component name for audit events.
	Component string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    20,
		MaxAge:     90,
		MaxBackups: 5,
		Compress:   true,
		Component:  "textinputd",
	}
}

func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "textinputd", "audit.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "textinputd", "logs", "audit.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "textinputd", "audit.log")
	}
}

// AuditLogger writes the daemon's audit trail as JSON lines.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	logger  *slog.Logger
	mu      sync.Mutex
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the default global audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				logger: slog.Default(),
			}
		}
	})
	return defaultAuditLogger
}

// SetDefaultAuditLogger sets the default global audit logger.
func SetDefaultAuditLogger(l *AuditLogger) {
	defaultAuditLogger = l
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotatorCfg := &Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Format:     FormatJSON,
		Level:      LevelInfo,
	}

	rotator, err := NewFileRotator(rotatorCfg)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  slog.New(slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: LevelInfo})),
	}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogStartup records the daemon coming up.
func (a *AuditLogger) LogStartup(ctx context.Context, version string, details map[string]any) error {
	if details == nil {
		details = make(map[string]any)
	}
	details["version"] = version
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStartup,
		Action:    "daemon_started",
		Result:    "success",
		Details:   details,
	})
}

// LogShutdown records the daemon going down.
func (a *AuditLogger) LogShutdown(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "daemon_stopped",
		Result:    "success",
		Details:   map[string]any{"reason": reason},
	})
}

// LogClientConnect records a client process connecting to the socket,
// identified by its socket peer credentials.
func (a *AuditLogger) LogClientConnect(ctx context.Context, clientID string, uid, pid int) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventClientConnect,
		ClientID:  clientID,
		UID:       uid,
		PID:       pid,
		Action:    "client_connected",
		Result:    "success",
	})
}

// LogClientDisconnect records a client going away.
func (a *AuditLogger) LogClientDisconnect(ctx context.Context, clientID, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventClientDisconnect,
		ClientID:  clientID,
		Action:    "client_disconnected",
		Result:    "success",
		Details:   map[string]any{"reason": reason},
	})
}

// LogSessionAttach records an editing session opening. The input type
// tag is recorded; the content never is.
func (a *AuditLogger) LogSessionAttach(ctx context.Context, connID int, inputType string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventSessionAttach,
		ConnID:    connID,
		Action:    "session_attached",
		Resource:  inputType,
		Result:    "success",
	})
}

// LogSessionDetach records an editing session closing.
func (a *AuditLogger) LogSessionDetach(ctx context.Context, connID int) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventSessionDetach,
		ConnID:    connID,
		Action:    "session_detached",
		Result:    "success",
	})
}

// LogConfigChange records a configuration change.
func (a *AuditLogger) LogConfigChange(ctx context.Context, setting, oldValue, newValue string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfigChange,
		Action:    "config_changed",
		Resource:  setting,
		Result:    "success",
		Details: map[string]any{
			"old_value": oldValue,
			"new_value": newValue,
		},
	})
}

// LogBackendChange records the active platform backend switching.
func (a *AuditLogger) LogBackendChange(ctx context.Context, previous, current string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventBackendChange,
		Action:    "backend_changed",
		Resource:  current,
		Result:    "success",
		Details:   map[string]any{"previous": previous},
	})
}

// LogStoreUnlock records an attempt to unseal the autofill store.
func (a *AuditLogger) LogStoreUnlock(ctx context.Context, success bool) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStoreUnlock,
		Action:    "store_unlocked",
		Result:    result,
	})
}

// LogStoreSave records autofill values being saved for a field
// identifier.
func (a *AuditLogger) LogStoreSave(ctx context.Context, identifier string, success bool) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStoreSave,
		Action:    "autofill_saved",
		Resource:  identifier,
		Result:    result,
	})
}

// LogStoreFill records stored values being handed to a session.
func (a *AuditLogger) LogStoreFill(ctx context.Context, identifier string, connID int) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStoreFill,
		ConnID:    connID,
		Action:    "autofill_filled",
		Resource:  identifier,
		Result:    "success",
	})
}

// LogPermission records an allowed or denied client operation.
func (a *AuditLogger) LogPermission(ctx context.Context, clientID, operation string, allowed bool) error {
	result := "success"
	if !allowed {
		result = "denied"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventPermission,
		ClientID:  clientID,
		Action:    operation,
		Result:    result,
	})
}

// LogError records a failed operation.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]any) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
		Details:   details,
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Audit logs an audit event using the default audit logger.
func Audit(ctx context.Context, event AuditEvent) error {
	return DefaultAuditLogger().Log(ctx, event)
}

// AuditError logs an error using the default audit logger.
func AuditError(ctx context.Context, operation string, err error, details map[string]any) error {
	return DefaultAuditLogger().LogError(ctx, operation, err, details)
}
