package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Backup      string
	Changes     []string
	Warnings    []string
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It automatically creates a backup before migration.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil // No migration needed
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
	}

	// Create backup before migration
	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	// Apply migrations in sequence
	for cfg.Version < Version {
		changes, warnings, err := applyMigration(cfg)
		if err != nil {
			return result, fmt.Errorf("migration from v%d to v%d failed: %w", cfg.Version, cfg.Version+1, err)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// applyMigration applies a single version upgrade.
func applyMigration(cfg *Config) (changes []string, warnings []string, err error) {
	switch cfg.Version {
	case 1:
		changes, warnings = migrateV1ToV2(cfg)
	case 2:
		changes, warnings = migrateV2ToV3(cfg)
	default:
		return nil, nil, fmt.Errorf("unknown version %d", cfg.Version)
	}

	cfg.Version++
	return changes, warnings, nil
}

// migrateV1ToV2 migrates from version 1 to version 2.
// V1 was the original flat config with a single backend setting.
// V2 introduced the backends and autofill sections.
func migrateV1ToV2(cfg *Config) (changes []string, warnings []string) {
	dir := TextinputdDir()

	if cfg.Backends.Preferred == "" {
		cfg.Backends.Preferred = "auto"
		changes = append(changes, "set default backends.preferred")
	}

	if cfg.Backends.IBus.EngineName == "" {
		cfg.Backends.IBus.EngineName = "textinputd"
		cfg.Backends.IBus.ReconnectDelayMs = 2000
		changes = append(changes, "added IBus backend configuration")
	}

	if cfg.Autofill.StorePath == "" {
		cfg.Autofill.StorePath = filepath.Join(dir, "autofill.db")
		changes = append(changes, "set default autofill.store_path")
	}

	if cfg.Autofill.KeyPath == "" {
		cfg.Autofill.KeyPath = filepath.Join(dir, "autofill.key")
		changes = append(changes, "set default autofill.key_path")
		if cfg.Autofill.Enabled {
			warnings = append(warnings, "autofill values stored before v2 were unsealed and are not migrated")
		}
	}

	return changes, warnings
}

// migrateV2ToV3 migrates from version 2 to version 3.
// V3 added metrics, daemon management, and frame limits.
func migrateV2ToV3(cfg *Config) (changes []string, warnings []string) {
	if cfg.IPC.MaxFrameBytes == 0 {
		cfg.IPC.MaxFrameBytes = 1 << 20
		changes = append(changes, "set IPC max frame size to 1MB")
	}

	if cfg.Engine.ClientQueueSize == 0 {
		cfg.Engine.ClientQueueSize = 64
		changes = append(changes, "set engine client queue size to 64")
	}

	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = "127.0.0.1:9377"
		changes = append(changes, "added metrics configuration")
	}

	if cfg.Daemon.PidFile == "" {
		cfg.Daemon.PidFile = filepath.Join(PlatformRuntimeDir(), "textinputd.pid")
		cfg.Daemon.ShutdownGraceSec = 5
		changes = append(changes, "added daemon configuration")
	}

	return changes, warnings
}

// backupConfig creates a backup of the config file.
func backupConfig(configPath string) (string, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return "", nil // No file to backup
	}

	// Read original
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config: %w", err)
	}

	// Create backup with timestamp
	timestamp := time.Now().Format("20060102-150405")
	backupPath := configPath + ".backup-" + timestamp

	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	return backupPath, nil
}

// MigrateLegacyConfig converts a legacy (pre-v2) configuration map to the new format.
// This handles configurations that were stored as JSON maps rather than proper structs.
func MigrateLegacyConfig(data map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	// Extract version
	if v, ok := data["version"].(float64); ok {
		cfg.Version = int(v)
	} else {
		cfg.Version = 1 // Assume version 1 if not specified
	}

	// Extract legacy flat fields
	if socketPath, ok := data["socket_path"].(string); ok {
		cfg.IPC.SocketPath = socketPath
	}

	if backend, ok := data["backend"].(string); ok {
		cfg.Backends.Preferred = backend
	}

	if logPath, ok := data["log_path"].(string); ok {
		cfg.Logging.FilePath = logPath
	}

	if logLevel, ok := data["log_level"].(string); ok {
		cfg.Logging.Level = logLevel
	}

	if storePath, ok := data["store_path"].(string); ok {
		cfg.Autofill.StorePath = storePath
	}

	if autofill, ok := data["autofill_enabled"].(bool); ok {
		cfg.Autofill.Enabled = autofill
	}

	if engine, ok := data["ibus_engine"].(string); ok {
		cfg.Backends.IBus.EngineName = engine
	}

	// Extract nested sections from newer configs
	if ipc, ok := data["ipc"].(map[string]interface{}); ok {
		if p, ok := ipc["socket_path"].(string); ok {
			cfg.IPC.SocketPath = p
		}
		if e, ok := ipc["enabled"].(bool); ok {
			cfg.IPC.Enabled = e
		}
		if m, ok := ipc["max_connections"].(float64); ok {
			cfg.IPC.MaxConnections = int(m)
		}
	}

	if backends, ok := data["backends"].(map[string]interface{}); ok {
		if p, ok := backends["preferred"].(string); ok {
			cfg.Backends.Preferred = p
		}
		if f, ok := backends["allow_fallback"].(bool); ok {
			cfg.Backends.AllowFallback = f
		}
	}

	if autofill, ok := data["autofill"].(map[string]interface{}); ok {
		if e, ok := autofill["enabled"].(bool); ok {
			cfg.Autofill.Enabled = e
		}
		if p, ok := autofill["store_path"].(string); ok {
			cfg.Autofill.StorePath = p
		}
		if k, ok := autofill["key_path"].(string); ok {
			cfg.Autofill.KeyPath = k
		}
	}

	if logging, ok := data["logging"].(map[string]interface{}); ok {
		if l, ok := logging["level"].(string); ok {
			cfg.Logging.Level = l
		}
		if f, ok := logging["format"].(string); ok {
			cfg.Logging.Format = f
		}
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	// Determine format from extension
	ext := filepath.Ext(path)

	var data []byte
	var err error

	switch ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		data, err = encodeToTOML(cfg)
	case ".yaml", ".yml":
		data, err = encodeToYAML(cfg)
	default:
		// Default to TOML
		data, err = encodeToTOML(cfg)
	}

	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Write with secure permissions
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// encodeToTOML encodes the config to TOML format with a header comment.
func encodeToTOML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# textinputd configuration\n# Schema version %d\n\n", Version)

	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// encodeToYAML encodes the config to YAML format.
func encodeToYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// GetMigrationHistory returns the migration history if stored in the config directory.
func GetMigrationHistory() ([]MigrationResult, error) {
	historyPath := filepath.Join(TextinputdDir(), "migration_history.json")

	data, err := os.ReadFile(historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}

	return history, nil
}

// SaveMigrationHistory saves a migration result to the history file.
func SaveMigrationHistory(result *MigrationResult) error {
	historyPath := filepath.Join(TextinputdDir(), "migration_history.json")

	// Load existing history
	history, err := GetMigrationHistory()
	if err != nil {
		history = nil // Start fresh if error
	}

	// Append new result
	history = append(history, *result)

	// Save
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}

	dir := filepath.Dir(historyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(historyPath, data, 0600); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}

	return nil
}
