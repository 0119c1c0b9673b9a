// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for aiplay.
//
// Configuration lives in TOML at ~/.aiplay/config.toml, with sensible
// defaults and environment variable overrides. Settings are grouped by
// the mode they apply to, plus a global section.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"aiplay/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrUnknownKey   = errors.New("unknown setting")
	ErrInvalidValue = errors.New("invalid value")
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete aiplay configuration.
type Config struct {
	// Global settings apply regardless of mode
	Global GlobalConfig `toml:"global"`

	// Chat settings apply to chat mode
	Chat ChatConfig `toml:"chat"`

	// Image settings apply to image mode
	Image ImageConfig `toml:"image"`
}

// GlobalConfig contains mode-independent settings.
type GlobalConfig struct {
	// ActionPrefix is the single character that introduces a command
	ActionPrefix string `toml:"action_prefix"`
	// Color controls styled output: "auto", "always", "never"
	Color string `toml:"color"`
	// OutputDir is where generated images are written
	OutputDir string `toml:"output_dir"`
	// APIKey is the provider API key (normally set via environment)
	APIKey string `toml:"api_key"`
	// BaseURL overrides the provider endpoint (empty = default)
	BaseURL string `toml:"base_url"`
}

// ChatConfig contains chat mode settings.
type ChatConfig struct {
	// Model is the chat completion model
	Model string `toml:"model"`
	// Temperature controls sampling randomness (0 to 2)
	Temperature float64 `toml:"temperature"`
}

// ImageConfig contains image mode settings.
type ImageConfig struct {
	// Model is the image generation model
	Model string `toml:"model"`
	// Size is the generated image resolution
	Size string `toml:"size"`
	// Format is the response format: "png" or "b64_json"
	Format string `toml:"format"`
}

// validImageSizes are the resolutions the image endpoint accepts.
var validImageSizes = []string{
	"256x256", "512x512", "1024x1024", "1792x1024", "1024x1792",
}

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Global: GlobalConfig{
			ActionPrefix: ":",
			Color:        "auto",
			OutputDir:    "output",
		},
		Chat: ChatConfig{
			Model:       "gpt-4o-mini",
			Temperature: 1.0,
		},
		Image: ImageConfig{
			Model:  "dall-e-3",
			Size:   "1024x1024",
			Format: "b64_json",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the aiplay configuration directory (~/.aiplay).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".aiplay"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// HistoryDBPath returns the default path of the conversation database.
func HistoryDBPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// InputHistoryPath returns the path of the line editor history file.
func InputHistoryPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "input_history"), nil
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
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the config file, falling back to
// defaults when the file is absent. Environment overrides apply last.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// Save writes the configuration back to the config file atomically.
// API keys are written with owner-only permissions.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Recognized variables:
//   - OPENAI_API_KEY / AIPLAY_API_KEY: provider API key
//   - AIPLAY_BASE_URL: provider endpoint override
//   - AIPLAY_MODEL: chat model
//   - AIPLAY_PREFIX: command prefix character
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Global.APIKey = v
	}
	if v := os.Getenv("AIPLAY_API_KEY"); v != "" {
		c.Global.APIKey = v
	}
	if v := os.Getenv("AIPLAY_BASE_URL"); v != "" {
		c.Global.BaseURL = v
	}
	if v := os.Getenv("AIPLAY_MODEL"); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv("AIPLAY_PREFIX"); v != "" {
		c.Global.ActionPrefix = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if util.RuneLen(c.Global.ActionPrefix) != 1 || strings.TrimSpace(c.Global.ActionPrefix) == "" {
		return fmt.Errorf("%w: action_prefix must be a single non-space character", ErrInvalidValue)
	}
	switch c.Global.Color {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("%w: color must be auto, always or never", ErrInvalidValue)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidValue)
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("%w: chat model must not be empty", ErrInvalidValue)
	}
	if !validSize(c.Image.Size) {
		return fmt.Errorf("%w: unsupported image size %q", ErrInvalidValue, c.Image.Size)
	}
	return nil
}

func validSize(size string) bool {
	for _, s := range validImageSizes {
		if s == size {
			return true
		}
	}
	return false
}

// =============================================================================
// KEY ACCESS
// =============================================================================

// Setting is one displayable configuration entry.
type Setting struct {
	Key   string
	Value string
}

// GlobalSettings returns the global settings for display.
func (c *Config) GlobalSettings() []Setting {
	return []Setting{
		{"action_prefix", c.Global.ActionPrefix},
		{"color", c.Global.Color},
		{"output_dir", c.Global.OutputDir},
	}
}

// ChatSettings returns the chat mode settings for display.
func (c *Config) ChatSettings() []Setting {
	return []Setting{
		{"model", c.Chat.Model},
		{"temperature", strconv.FormatFloat(c.Chat.Temperature, 'g', -1, 64)},
	}
}

// ImageSettings returns the image mode settings for display.
func (c *Config) ImageSettings() []Setting {
	return []Setting{
		{"model", c.Image.Model},
		{"size", c.Image.Size},
		{"format", c.Image.Format},
	}
}

// SetGlobal updates a global setting by key. Keys and values are
// matched explicitly so every setting has one clear validation path.
func (c *Config) SetGlobal(key, value string) error {
	switch key {
	case "action_prefix":
		if util.RuneLen(value) != 1 || strings.TrimSpace(value) == "" {
			return fmt.Errorf("%w: action_prefix must be a single non-space character", ErrInvalidValue)
		}
		c.Global.ActionPrefix = value
	case "color":
		switch value {
		case "auto", "always", "never":
			c.Global.Color = value
		default:
			return fmt.Errorf("%w: color must be auto, always or never", ErrInvalidValue)
		}
	case "output_dir":
		if value == "" {
			return fmt.Errorf("%w: output_dir must not be empty", ErrInvalidValue)
		}
		c.Global.OutputDir = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// SetChat updates a chat mode setting by key.
func (c *Config) SetChat(key, value string) error {
	switch key {
	case "model":
		if value == "" {
			return fmt.Errorf("%w: model must not be empty", ErrInvalidValue)
		}
		c.Chat.Model = value
	case "temperature":
		t, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: temperature must be a number", ErrInvalidValue)
		}
		if t < 0 || t > 2 {
			return fmt.Errorf("%w: temperature must be between 0 and 2", ErrInvalidValue)
		}
		c.Chat.Temperature = t
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}

// SetImage updates an image mode setting by key.
func (c *Config) SetImage(key, value string) error {
	switch key {
	case "model":
		if value == "" {
			return fmt.Errorf("%w: model must not be empty", ErrInvalidValue)
		}
		c.Image.Model = value
	case "size":
		if !validSize(value) {
			return fmt.Errorf("%w: size must be one of %s", ErrInvalidValue, strings.Join(validImageSizes, ", "))
		}
		c.Image.Size = value
	case "format":
		switch value {
		case "png", "b64_json":
			c.Image.Format = value
		default:
			return fmt.Errorf("%w: format must be png or b64_json", ErrInvalidValue)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return nil
}
