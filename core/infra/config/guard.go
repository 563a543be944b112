package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cordum/stocklock/core/guard"
	"gopkg.in/yaml.v3"
)

const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// GuardSettings tune one lock key. Absent fields inherit from the default
// entry. Fields where zero is meaningful are pointers so an explicit 0
// overrides a nonzero default.
type GuardSettings struct {
	TTLMs        int64    `yaml:"ttl_ms"`
	MaxAttempts  int      `yaml:"max_attempts"`
	RetryDelayMs *int64   `yaml:"retry_delay_ms"`
	Backoff      string   `yaml:"backoff"`
	MaxDelayMs   *int64   `yaml:"max_delay_ms"`
	Jitter       *float64 `yaml:"jitter"`
}

// GuardConfig is the guard.yaml document.
type GuardConfig struct {
	Default   GuardSettings            `yaml:"default"`
	Resources map[string]GuardSettings `yaml:"resources"`
}

// LoadGuard loads a YAML guard file; returns defaults alongside any error.
func LoadGuard(path string) (*GuardConfig, error) {
	if path == "" {
		return defaultGuard(), nil
	}
	// #nosec G304 -- guard config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return defaultGuard(), fmt.Errorf("read guard config: %w", err)
	}
	return ParseGuard(data)
}

// ParseGuard parses guard config data from YAML/JSON bytes.
func ParseGuard(data []byte) (*GuardConfig, error) {
	if len(data) == 0 {
		return defaultGuard(), nil
	}
	if err := validateConfigSchema("guard", guardSchemaFile, data); err != nil {
		return defaultGuard(), err
	}
	var cfg GuardConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultGuard(), fmt.Errorf("parse guard config: %w", err)
	}
	cfg.Default = cfg.Default.inherit(defaultGuard().Default)
	if cfg.Resources == nil {
		cfg.Resources = map[string]GuardSettings{}
	}
	return &cfg, nil
}

func defaultGuard() *GuardConfig {
	def := guard.DefaultOptions()
	return &GuardConfig{
		Default: GuardSettings{
			TTLMs:        def.TTL.Milliseconds(),
			MaxAttempts:  def.MaxAttempts,
			RetryDelayMs: ptr(def.RetryDelay.Milliseconds()),
			Backoff:      BackoffConstant,
			MaxDelayMs:   ptr(guard.DefaultMaxBackoff.Milliseconds()),
			Jitter:       ptr(0.0),
		},
		Resources: map[string]GuardSettings{},
	}
}

// Settings returns the effective settings for key.
func (c *GuardConfig) Settings(key string) GuardSettings {
	if c == nil {
		return defaultGuard().Default
	}
	if s, ok := c.Resources[key]; ok {
		return s.inherit(c.Default)
	}
	return c.Default
}

// Options converts the effective settings for key into executor options.
func (c *GuardConfig) Options(key string) guard.Options {
	return c.Settings(key).Options()
}

// MaxWait is the longest acquisition pause any key can incur under c.
func (c *GuardConfig) MaxWait() time.Duration {
	if c == nil {
		return defaultGuard().Default.Options().MaxWait()
	}
	longest := c.Default.Options().MaxWait()
	for key := range c.Resources {
		if w := c.Options(key).MaxWait(); w > longest {
			longest = w
		}
	}
	return longest
}

// Options converts settings into executor options.
func (s GuardSettings) Options() guard.Options {
	opts := guard.Options{
		TTL:         time.Duration(s.TTLMs) * time.Millisecond,
		MaxAttempts: s.MaxAttempts,
		RetryDelay:  time.Duration(deref(s.RetryDelayMs)) * time.Millisecond,
	}
	if s.Backoff == BackoffExponential {
		opts.Backoff = guard.Exponential{
			Base:   opts.RetryDelay,
			Max:    time.Duration(deref(s.MaxDelayMs)) * time.Millisecond,
			Jitter: deref(s.Jitter),
		}
	}
	return opts
}

func (s GuardSettings) inherit(parent GuardSettings) GuardSettings {
	if s.TTLMs == 0 {
		s.TTLMs = parent.TTLMs
	}
	if s.MaxAttempts == 0 {
		s.MaxAttempts = parent.MaxAttempts
	}
	if s.RetryDelayMs == nil {
		s.RetryDelayMs = parent.RetryDelayMs
	}
	if s.Backoff == "" {
		s.Backoff = parent.Backoff
	}
	if s.MaxDelayMs == nil {
		s.MaxDelayMs = parent.MaxDelayMs
	}
	if s.Jitter == nil {
		s.Jitter = parent.Jitter
	}
	return s
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
