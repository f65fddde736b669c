package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all controller configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Server     ServerConfig     `yaml:"server"`
	Profile    ProfileConfig    `yaml:"profile"`
	Redis      RedisConfig      `yaml:"redis"`
	Cascade    CascadeConfig    `yaml:"cascade"`
	Adaptation AdaptationConfig `yaml:"adaptation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig locates the SQLite target store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the gRPC listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ProfileConfig selects where learner profiles come from.
// An empty Addr reads profiles from the local database.
type ProfileConfig struct {
	Addr    string `yaml:"addr"`
	Timeout string `yaml:"timeout"`
}

// RedisConfig enables cross-process per-caller locking.
// An empty Addr falls back to an in-process lock.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	LockTTL   string `yaml:"lock_ttl"`
}

// CascadeConfig configures target resolution.
type CascadeConfig struct {
	DefaultValue      float64 `yaml:"default_value"`
	DefaultConfidence float64 `yaml:"default_confidence"` // reported for DEFAULT-scope targets
	LegacyCallerScope bool    `yaml:"legacy_caller_scope"`
}

// AdaptationConfig configures the rule engine.
type AdaptationConfig struct {
	DefaultConfidence float64 `yaml:"default_confidence"`
	DefaultDelta      float64 `yaml:"default_delta"`
	DefaultSetValue   float64 `yaml:"default_set_value"`
	MaxWriteAttempts  int     `yaml:"max_write_attempts"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "behavior_targets.db"},
		Server:   ServerConfig{ListenAddr: "localhost:50061"},
		Profile:  ProfileConfig{Timeout: "5s"},
		Redis: RedisConfig{
			KeyPrefix: "hf:lock",
			LockTTL:   "30s",
		},
		Cascade: CascadeConfig{
			DefaultValue:      0.5,
			DefaultConfidence: 0,
			LegacyCallerScope: false,
		},
		Adaptation: AdaptationConfig{
			DefaultConfidence: 0.8,
			DefaultDelta:      0.1,
			DefaultSetValue:   0.5,
			MaxWriteAttempts:  5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks ranges that would otherwise silently corrupt targets.
func (c *Config) Validate() error {
	if c.Cascade.DefaultValue < 0 || c.Cascade.DefaultValue > 1 {
		return fmt.Errorf("cascade.default_value %.3f outside [0,1]", c.Cascade.DefaultValue)
	}
	if c.Cascade.DefaultConfidence < 0 || c.Cascade.DefaultConfidence > 1 {
		return fmt.Errorf("cascade.default_confidence %.3f outside [0,1]", c.Cascade.DefaultConfidence)
	}
	if c.Adaptation.DefaultConfidence < 0 || c.Adaptation.DefaultConfidence > 1 {
		return fmt.Errorf("adaptation.default_confidence %.3f outside [0,1]", c.Adaptation.DefaultConfidence)
	}
	if c.Adaptation.DefaultSetValue < 0 || c.Adaptation.DefaultSetValue > 1 {
		return fmt.Errorf("adaptation.default_set_value %.3f outside [0,1]", c.Adaptation.DefaultSetValue)
	}
	if c.Adaptation.MaxWriteAttempts < 1 {
		return fmt.Errorf("adaptation.max_write_attempts must be >= 1")
	}
	if _, err := c.ProfileTimeout(); err != nil {
		return err
	}
	if _, err := c.LockTTL(); err != nil {
		return err
	}
	return nil
}

// ProfileTimeout parses Profile.Timeout.
func (c *Config) ProfileTimeout() (time.Duration, error) {
	return parseDuration("profile.timeout", c.Profile.Timeout)
}

// LockTTL parses Redis.LockTTL.
func (c *Config) LockTTL() (time.Duration, error) {
	return parseDuration("redis.lock_ttl", c.Redis.LockTTL)
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HF_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("HF_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("HF_PROFILE_ADDR"); v != "" {
		c.Profile.Addr = v
	}
	if v := os.Getenv("HF_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("HF_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HF_LEGACY_CALLER_SCOPE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cascade.LegacyCallerScope = b
		}
	}
}
