// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigrun-agent/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete rigrun-agent configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Local       LocalConfig       `toml:"local" json:"local"`
	Bridge      BridgeConfig      `toml:"bridge" json:"bridge"`
	Attachments AttachmentsConfig `toml:"attachments" json:"attachments"`
	Agents      AgentsConfig      `toml:"agents" json:"agents"`
	Telemetry   TelemetryConfig   `toml:"telemetry" json:"telemetry"`
	Logging     LoggingConfig     `toml:"logging" json:"logging"`
}

// LocalConfig configures the local model server client.
type LocalConfig struct {
	OllamaURL          string `toml:"ollama_url" json:"ollama_url"`
	DefaultModel       string `toml:"default_model" json:"default_model"`
	VisionModel        string `toml:"vision_model" json:"vision_model"`
	HistoryTurns       int    `toml:"history_turns" json:"history_turns"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs" json:"request_timeout_secs"`
	VersionTimeoutSecs int    `toml:"version_timeout_secs" json:"version_timeout_secs"`
	ImageConcurrency   int    `toml:"image_concurrency" json:"image_concurrency"`
}

// BridgeConfig configures the out-of-process bridge. An empty URL means no
// bridge; http(s) URLs use JSON-RPC over HTTP, ws(s) URLs use a WebSocket.
type BridgeConfig struct {
	Name            string   `toml:"name" json:"name"`
	URL             string   `toml:"url" json:"url"`
	Methods         []string `toml:"methods" json:"methods"`
	CallTimeoutSecs int      `toml:"call_timeout_secs" json:"call_timeout_secs"`
}

// AttachmentsConfig configures the durable attachment store.
type AttachmentsConfig struct {
	Backend  string `toml:"backend" json:"backend"` // sqlite, file, memory
	Path     string `toml:"path" json:"path"`
	TTLHours int    `toml:"ttl_hours" json:"ttl_hours"`
}

// AgentsConfig configures the agent definition library.
type AgentsConfig struct {
	Dir   string `toml:"dir" json:"dir"`
	Watch bool   `toml:"watch" json:"watch"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `toml:"enabled" json:"enabled"`
	Endpoint    string  `toml:"endpoint" json:"endpoint"`
	Insecure    bool    `toml:"insecure" json:"insecure"`
	ServiceName string  `toml:"service_name" json:"service_name"`
	SampleRatio float64 `toml:"sample_ratio" json:"sample_ratio"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
	Dir   string `toml:"dir" json:"dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// CurrentVersion is written to new config files.
const CurrentVersion = "1"

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Local: LocalConfig{
			OllamaURL:          "http://127.0.0.1:11434",
			DefaultModel:       "llama3.2",
			VisionModel:        "llava",
			HistoryTurns:       8,
			RequestTimeoutSecs: 30,
			VersionTimeoutSecs: 3,
			ImageConcurrency:   1,
		},
		Bridge: BridgeConfig{
			Name:            "miso",
			CallTimeoutSecs: 10,
		},
		Attachments: AttachmentsConfig{
			Backend:  "sqlite",
			TTLHours: 168,
		},
		Agents: AgentsConfig{
			Watch: true,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			ServiceName: "rigrun-agent",
			SampleRatio: 1.0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// fillDefaults fills zero values from Default. Booleans are left alone.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Version == "" {
		cfg.Version = d.Version
	}

	if cfg.Local.OllamaURL == "" {
		cfg.Local.OllamaURL = d.Local.OllamaURL
	}
	if cfg.Local.DefaultModel == "" {
		cfg.Local.DefaultModel = d.Local.DefaultModel
	}
	if cfg.Local.VisionModel == "" {
		cfg.Local.VisionModel = d.Local.VisionModel
	}
	if cfg.Local.HistoryTurns == 0 {
		cfg.Local.HistoryTurns = d.Local.HistoryTurns
	}
	if cfg.Local.RequestTimeoutSecs == 0 {
		cfg.Local.RequestTimeoutSecs = d.Local.RequestTimeoutSecs
	}
	if cfg.Local.VersionTimeoutSecs == 0 {
		cfg.Local.VersionTimeoutSecs = d.Local.VersionTimeoutSecs
	}
	if cfg.Local.ImageConcurrency == 0 {
		cfg.Local.ImageConcurrency = d.Local.ImageConcurrency
	}

	if cfg.Bridge.Name == "" {
		cfg.Bridge.Name = d.Bridge.Name
	}
	if cfg.Bridge.CallTimeoutSecs == 0 {
		cfg.Bridge.CallTimeoutSecs = d.Bridge.CallTimeoutSecs
	}

	if cfg.Attachments.Backend == "" {
		cfg.Attachments.Backend = d.Attachments.Backend
	}
	if cfg.Attachments.TTLHours == 0 {
		cfg.Attachments.TTLHours = d.Attachments.TTLHours
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = d.Telemetry.Endpoint
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = d.Telemetry.SampleRatio
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// RequestTimeout returns local.request_timeout_secs as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Local.RequestTimeoutSecs) * time.Second
}

// VersionTimeout returns local.version_timeout_secs as a duration.
func (c *Config) VersionTimeout() time.Duration {
	return time.Duration(c.Local.VersionTimeoutSecs) * time.Second
}

// BridgeTimeout returns bridge.call_timeout_secs as a duration.
func (c *Config) BridgeTimeout() time.Duration {
	return time.Duration(c.Bridge.CallTimeoutSecs) * time.Second
}

// AttachmentTTL returns attachments.ttl_hours as a duration.
func (c *Config) AttachmentTTL() time.Duration {
	return time.Duration(c.Attachments.TTLHours) * time.Hour
}

// StorePath resolves attachments.path, defaulting under the config dir.
func (c *Config) StorePath() string {
	if c.Attachments.Path != "" {
		return expandHome(c.Attachments.Path)
	}
	dir, err := ConfigDir()
	if err != nil {
		dir = "."
	}
	if c.Attachments.Backend == "file" {
		return filepath.Join(dir, "store")
	}
	return filepath.Join(dir, "store.db")
}

// AgentsDir resolves agents.dir, defaulting under the config dir.
func (c *Config) AgentsDir() string {
	if c.Agents.Dir != "" {
		return expandHome(c.Agents.Dir)
	}
	dir, err := ConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "agents")
}

// LogDir resolves logging.dir. Empty means stderr only.
func (c *Config) LogDir() string {
	return expandHome(c.Logging.Dir)
}

// BridgeTransport returns "http", "ws", or "" when no bridge is configured.
func (c *Config) BridgeTransport() string {
	if c.Bridge.URL == "" {
		return ""
	}
	u, err := url.Parse(c.Bridge.URL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		return "ws"
	case "http", "https":
		return "http"
	}
	return ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDirEnv overrides the configuration directory.
const ConfigDirEnv = "RIGRUN_AGENT_HOME"

// ConfigDir returns the rigrun-agent configuration directory path.
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-agent"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// DotEnvFile is read from the working directory before environment
// overrides are applied. Variables already set in the environment win.
const DotEnvFile = ".env"

// LoadDotEnv loads path into the process environment if it exists.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults. A file that fails
// to decode is reported alongside the defaults rather than aborting.
func Load() (*Config, error) {
	var loadErr error
	if err := LoadDotEnv(DotEnvFile); err != nil {
		loadErr = err
	}

	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err != nil {
			loadErr = err
			break
		}
		return cfg, loadErr
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadTOML decodes a TOML file into cfg and fills defaults.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file into cfg and fills defaults.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file, applies environment
// overrides and validates the result.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigrun-agent configuration file\n")
	b.WriteString("# Generated by rigrun-agent - edit with care\n\n")
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate returns ValidateErrors listing every invalid field, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Local
	if u, err := url.Parse(c.Local.OllamaURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("local.ollama_url", "must be an absolute http(s) URL, got %q", c.Local.OllamaURL)
	}
	if c.Local.HistoryTurns < 0 {
		add("local.history_turns", "cannot be negative, got %d", c.Local.HistoryTurns)
	}
	if c.Local.RequestTimeoutSecs < 1 || c.Local.RequestTimeoutSecs > 3600 {
		add("local.request_timeout_secs", "must be 1-3600, got %d", c.Local.RequestTimeoutSecs)
	}
	if c.Local.VersionTimeoutSecs < 1 || c.Local.VersionTimeoutSecs > 60 {
		add("local.version_timeout_secs", "must be 1-60, got %d", c.Local.VersionTimeoutSecs)
	}
	if c.Local.ImageConcurrency < 1 || c.Local.ImageConcurrency > 16 {
		add("local.image_concurrency", "must be 1-16, got %d", c.Local.ImageConcurrency)
	}

	// Bridge
	if c.Bridge.URL != "" && c.BridgeTransport() == "" {
		add("bridge.url", "scheme must be http, https, ws or wss, got %q", c.Bridge.URL)
	}
	if strings.TrimSpace(c.Bridge.Name) == "" {
		add("bridge.name", "cannot be empty")
	}
	if c.Bridge.CallTimeoutSecs < 1 || c.Bridge.CallTimeoutSecs > 600 {
		add("bridge.call_timeout_secs", "must be 1-600, got %d", c.Bridge.CallTimeoutSecs)
	}

	// Attachments
	switch strings.ToLower(c.Attachments.Backend) {
	case "sqlite", "file", "memory":
	default:
		add("attachments.backend", "must be sqlite, file or memory, got %q", c.Attachments.Backend)
	}
	if c.Attachments.TTLHours < 1 {
		add("attachments.ttl_hours", "must be at least 1, got %d", c.Attachments.TTLHours)
	}

	// Telemetry
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		add("telemetry.endpoint", "required when telemetry is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		add("telemetry.sample_ratio", "must be between 0 and 1, got %g", c.Telemetry.SampleRatio)
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level", "must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGRUN_AGENT_OLLAMA_URL: overrides local.ollama_url
//   - RIGRUN_AGENT_MODEL: overrides local.default_model
//   - RIGRUN_AGENT_BRIDGE_URL: overrides bridge.url
//   - RIGRUN_AGENT_STORE: overrides attachments.backend
//   - RIGRUN_AGENT_LOG_LEVEL: overrides logging.level
//   - RIGRUN_AGENT_OTEL_ENDPOINT: overrides telemetry.endpoint and enables tracing
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGRUN_AGENT_OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := os.Getenv("RIGRUN_AGENT_MODEL"); v != "" {
		c.Local.DefaultModel = v
	}
	if v := os.Getenv("RIGRUN_AGENT_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("RIGRUN_AGENT_STORE"); v != "" {
		c.Attachments.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RIGRUN_AGENT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("RIGRUN_AGENT_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "local.ollama_url").
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value any) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go
// field equivalent. Acronyms are matched case-insensitively by the caller.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})
	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(part[:1]))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

func setFieldValue(field reflect.Value, value any) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(n)
			return nil
		case reflect.Float64:
			f, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(f)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"local.ollama_url",
		"local.default_model",
		"local.vision_model",
		"local.history_turns",
		"local.request_timeout_secs",
		"local.version_timeout_secs",
		"local.image_concurrency",
		"bridge.name",
		"bridge.url",
		"bridge.methods",
		"bridge.call_timeout_secs",
		"attachments.backend",
		"attachments.path",
		"attachments.ttl_hours",
		"agents.dir",
		"agents.watch",
		"telemetry.enabled",
		"telemetry.endpoint",
		"telemetry.insecure",
		"telemetry.service_name",
		"telemetry.sample_ratio",
		"logging.level",
		"logging.dir",
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Bridge.Methods != nil {
		clone.Bridge.Methods = append([]string(nil), c.Bridge.Methods...)
	}
	return &clone
}

// String returns the config as indented JSON with credentials in the bridge
// URL redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if u, err := url.Parse(safe.Bridge.URL); err == nil && u.User != nil {
		u.User = url.User("REDACTED")
		safe.Bridge.URL = u.String()
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration, loading it on first access.
// Load failures fall back to defaults with a warning on stderr.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		if cfg == nil {
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state between tests.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
