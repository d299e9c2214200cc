// Package config provides configuration management for schaltwerk.
// It supports loading configuration from environment variables, config files,
// and defaults, following the teacher's viper-based layering but trimmed to
// the sections this local orchestrator actually needs: no HTTP server, no
// NATS, no Docker, no auth — those back subsystems out of scope for this core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for schaltwerk.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Worktree WorktreeConfig `mapstructure:"worktree"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Merge    MergeConfig    `mapstructure:"merge"`
	Terminal TerminalConfig `mapstructure:"terminal"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DatabaseConfig holds the embedded SQLite store configuration. There is a
// single driver: the product stores per-project state locally, never behind
// a hosted multi-tenant database (see DESIGN.md's dropped-dependency table).
type DatabaseConfig struct {
	// DataDir is the OS user-data directory root under which per-project
	// databases live: <DataDir>/schaltwerk/projects/<name>_<sha>/sessions.db
	DataDir string `mapstructure:"dataDir"`
}

// WorktreeConfig holds defaults for worktree/branch naming.
type WorktreeConfig struct {
	DefaultBranchPrefix string `mapstructure:"defaultBranchPrefix"`
}

// AgentConfig holds per-agent binary resolution overrides, keyed by agent ID
// (claude, cursor, opencode, gemini, codex).
type AgentConfig struct {
	BinaryOverrides map[string]string `mapstructure:"binaryOverrides"`
}

// MergeConfig holds merge-engine tunables.
type MergeConfig struct {
	TimeoutSeconds int `mapstructure:"timeoutSeconds"`
}

// TerminalConfig holds PTY terminal manager tunables.
type TerminalConfig struct {
	DefaultBufferBytes int64 `mapstructure:"defaultBufferBytes"`
	AgentTopBufferBytes int64 `mapstructure:"agentTopBufferBytes"`
}

// TimeoutDuration returns the merge timeout as a time.Duration.
func (m MergeConfig) TimeoutDuration() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// detectDefaultLogFormat mirrors the teacher's environment-aware default:
// JSON in headless/production environments, human-readable console output
// for terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("SCHALTWERK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("database.dataDir", defaultDataDir())

	v.SetDefault("worktree.defaultBranchPrefix", "schaltwerk")

	v.SetDefault("agent.binaryOverrides", map[string]string{})

	v.SetDefault("merge.timeoutSeconds", 180)

	v.SetDefault("terminal.defaultBufferBytes", int64(2*1024*1024))
	v.SetDefault("terminal.agentTopBufferBytes", int64(8*1024*1024))
}

// defaultDataDir returns the OS user-data directory root, falling back to
// ~/.local/share on platforms without XDG_DATA_HOME set.
func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// Load reads configuration from environment variables, config file, and
// defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SCHALTWERK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/schaltwerk/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}
	if cfg.Merge.TimeoutSeconds <= 0 {
		errs = append(errs, "merge.timeoutSeconds must be positive")
	}
	if cfg.Terminal.DefaultBufferBytes <= 0 {
		errs = append(errs, "terminal.defaultBufferBytes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
