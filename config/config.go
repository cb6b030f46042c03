package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMethod            = "aes-256-cfb"
	DefaultReconcileInterval = 60
)

// Config is one snapshot of the pool configuration. The reconciler re-reads
// it wholesale every cycle.
type Config struct {
	LocalAddress      string        `yaml:"local_address"`
	Method            string        `yaml:"method"`
	ReconcileInterval int           `yaml:"reconcile_interval"` // seconds
	Users             []User        `yaml:"users"`
	Logging           LoggingConfig `yaml:"logging"`
	Metrics           MetricsConfig `yaml:"metrics"`
}

// User is one proxy account. Method overrides Config.Method when set.
type User struct {
	ID       string `yaml:"id"`
	Password string `yaml:"password"`
	Port     int    `yaml:"port"`
	Method   string `yaml:"method,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Source produces configuration snapshots.
type Source interface {
	Load(ctx context.Context) (*Config, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Config, error)

func (f SourceFunc) Load(ctx context.Context) (*Config, error) {
	return f(ctx)
}

// FileSource reads a YAML file on every Load.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Load(s.Path)
}

// Load reads, defaults and validates the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func (c *Config) ApplyDefaults() {
	if c.Method == "" {
		c.Method = DefaultMethod
	}
	if c.ReconcileInterval == 0 {
		c.ReconcileInterval = DefaultReconcileInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the process-wide settings. Users are validated one at a
// time by the reconciler so a single bad entry does not reject the snapshot.
func (c *Config) Validate() error {
	if c.LocalAddress == "" {
		return fmt.Errorf("local_address cannot be empty")
	}

	if c.Method == "" {
		return fmt.Errorf("method cannot be empty")
	}

	if c.ReconcileInterval < 1 {
		return fmt.Errorf("reconcile_interval must be at least 1 second, got %d", c.ReconcileInterval)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

// GetReconcileInterval returns the reconcile interval as a time.Duration
func (c *Config) GetReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileInterval) * time.Second
}

// MethodFor returns the user's method, falling back to the default one
func (c *Config) MethodFor(user User) string {
	if user.Method != "" {
		return user.Method
	}
	return c.Method
}

// Validate validates a single user entry
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}

	if u.Password == "" {
		return fmt.Errorf("user %s: password cannot be empty", u.ID)
	}

	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("user %s: port must be between 1 and 65535, got %d", u.ID, u.Port)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [trace, debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}
	return nil
}
