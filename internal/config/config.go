// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for ollachat.
//
// Configuration file location: ~/.ollachat/config.toml. A missing file means
// built-in defaults. Environment variables (OLLACHAT_*) override the file.
package config

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/ollachat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete ollachat configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Chat    ChatConfig    `toml:"chat"`
	UI      UIConfig      `toml:"ui"`
	History HistoryConfig `toml:"history"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig locates the Ollama server.
type ServerConfig struct {
	Protocol string `toml:"protocol"` // "http" or "https"
	Host     string `toml:"host"`
	Port     int    `toml:"port"`

	RequestTimeout Duration `toml:"request_timeout"` // Non-streaming requests
	HealthTimeout  Duration `toml:"health_timeout"`  // Reachability probe
	HealthInterval Duration `toml:"health_interval"` // Background probe period
}

// ChatConfig holds generation settings.
type ChatConfig struct {
	DefaultModel string  `toml:"default_model"`
	Temperature  float64 `toml:"temperature"` // Passed to the server unvalidated
	MaxTokens    int     `toml:"max_tokens"`  // -1 for unlimited
	ThinkEnabled bool    `toml:"think_enabled"`

	PromptPrefix string `toml:"prompt_prefix"`
	PromptSuffix string `toml:"prompt_suffix"`

	// MaxSkippedLines caps consecutive malformed stream lines (0 = default)
	MaxSkippedLines int `toml:"max_skipped_lines"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	AutoScroll bool `toml:"auto_scroll"`
}

// HistoryConfig controls conversation persistence.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Empty means ~/.ollachat/history.db
}

// LogConfig controls the application log.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
	File  string `toml:"file"`  // Empty means ~/.ollachat/ollachat.log in the TUI, stderr otherwise
}

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns a configuration with all defaults set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Protocol:       "http",
			Host:           "127.0.0.1",
			Port:           11434,
			RequestTimeout: Duration{30 * time.Second},
			HealthTimeout:  Duration{2 * time.Second},
			HealthInterval: Duration{10 * time.Second},
		},
		Chat: ChatConfig{
			Temperature:     0.7,
			MaxTokens:       -1,
			ThinkEnabled:    true,
			MaxSkippedLines: 64,
		},
		UI: UIConfig{
			AutoScroll: true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// BaseURL returns the server URL built from protocol, host and port.
// It has a value receiver so it can be called on a Source snapshot.
func (c Config) BaseURL() string {
	return c.Server.Protocol + "://" + net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// HistoryPath returns the history database path, resolving the default.
func (c Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the ollachat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".ollachat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadFromPath loads configuration from path with environment overrides,
// defaults and validation applied. A missing file yields the defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep the
// values already in cfg.
func LoadTOML(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// fillDefaults fills zero values that are never valid with their defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Server.Protocol == "" {
		cfg.Server.Protocol = defaults.Server.Protocol
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Server.RequestTimeout.Duration == 0 {
		cfg.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if cfg.Server.HealthTimeout.Duration == 0 {
		cfg.Server.HealthTimeout = defaults.Server.HealthTimeout
	}
	if cfg.Server.HealthInterval.Duration == 0 {
		cfg.Server.HealthInterval = defaults.Server.HealthInterval
	}
	if cfg.Chat.MaxSkippedLines == 0 {
		cfg.Chat.MaxSkippedLines = defaults.Chat.MaxSkippedLines
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# ollachat configuration file\n")
	buf.WriteString("# Generated by ollachat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents a half-written config
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
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

// Validate validates the configuration and returns all problems at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	switch c.Server.Protocol {
	case "http", "https":
	default:
		errs = append(errs, ValidationError{"server.protocol", fmt.Sprintf("must be http or https, got %q", c.Server.Protocol)})
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, ValidationError{"server.host", "must not be empty"})
	} else if strings.ContainsAny(c.Server.Host, "/?#@ ") {
		errs = append(errs, ValidationError{"server.host", fmt.Sprintf("must be a bare host name, got %q", c.Server.Host)})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{"server.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port)})
	}
	if c.Server.RequestTimeout.Duration < 0 {
		errs = append(errs, ValidationError{"server.request_timeout", "must not be negative"})
	}
	if c.Server.HealthTimeout.Duration < 0 {
		errs = append(errs, ValidationError{"server.health_timeout", "must not be negative"})
	}
	if c.Server.HealthInterval.Duration < time.Second && c.Server.HealthInterval.Duration != 0 {
		errs = append(errs, ValidationError{"server.health_interval", "must be at least 1s"})
	}

	if c.Chat.MaxTokens < -1 {
		errs = append(errs, ValidationError{"chat.max_tokens", fmt.Sprintf("must be -1 (unlimited) or positive, got %d", c.Chat.MaxTokens)})
	}
	if c.Chat.MaxSkippedLines < 0 {
		errs = append(errs, ValidationError{"chat.max_skipped_lines", "must not be negative"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("must be debug, info, warn or error, got %q", c.Log.Level)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - OLLACHAT_HOST: overrides server.host
//   - OLLACHAT_PORT: overrides server.port
//   - OLLACHAT_PROTOCOL: overrides server.protocol
//   - OLLACHAT_MODEL: overrides chat.default_model
//   - OLLACHAT_THINK: overrides chat.think_enabled (1/true/yes)
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("OLLACHAT_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("OLLACHAT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if protocol := os.Getenv("OLLACHAT_PROTOCOL"); protocol != "" {
		c.Server.Protocol = strings.ToLower(protocol)
	}
	if model := os.Getenv("OLLACHAT_MODEL"); model != "" {
		c.Chat.DefaultModel = model
	}
	if think := os.Getenv("OLLACHAT_THINK"); think != "" {
		c.Chat.ThinkEnabled = parseBool(think)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "chat.max_tokens").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if d, ok := field.Interface().(Duration); ok {
		return d.String(), nil
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
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
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return reflect.Value{}, fmt.Errorf("key must have the form section.name: %s", key)
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field := fieldByTag(v, part)
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return v, nil
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) reflect.Value {
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ","); tag == name {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(strVal))
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			field.SetBool(parseBool(strVal))
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return errors.New("cannot assign nil")
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) && val.Kind() != reflect.String {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, section.Tag.Get("toml")+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
