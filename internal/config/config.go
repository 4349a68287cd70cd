// Package config implements the layered options bag: built-in defaults,
// the user config file, the working-directory config file, environment
// variables, and command-line flags, each layer overriding the previous.
package config

import (
	"time"

	"github.com/acoustic-content-samples/wchtools-go/internal/retrier"
)

// Config is the top-level configuration structure.
type Config struct {
	Tenant   TenantConfig             `toml:"tenant"`
	Retry    RetryConfig              `toml:"retry"`
	Sync     SyncConfig               `toml:"sync"`
	Logging  LoggingConfig            `toml:"logging"`
	Services map[string]ServiceConfig `toml:"service"`
}

// TenantConfig identifies the content hub tenant.
type TenantConfig struct {
	BaseURL string `toml:"base_url"`
	ID      string `toml:"id"`
	Tier    string `toml:"tier"`
}

// RetryConfig controls the per-item backoff. Timeouts are duration strings
// ("500ms", "2s").
type RetryConfig struct {
	MaxAttempts int     `toml:"max_attempts"`
	MinTimeout  string  `toml:"min_timeout"`
	MaxTimeout  string  `toml:"max_timeout"`
	Factor      float64 `toml:"factor"`
	Randomize   bool    `toml:"randomize"`
}

// SyncConfig controls engine behavior.
type SyncConfig struct {
	UseHashes            bool     `toml:"use_hashes"`
	RewriteOnPush        bool     `toml:"rewrite_on_push"`
	SaveFileOnConflict   bool     `toml:"save_file_on_conflict"`
	Deletions            bool     `toml:"deletions"`
	DisableResources     bool     `toml:"disable_resources"`
	NoVirtualFolder      bool     `toml:"no_virtual_folder"`
	IgnoreFiles          []string `toml:"ignore_files"`
	IgnoreDirs           []string `toml:"ignore_dirs"`
	IgnoreAdditive       bool     `toml:"ignore_additive"`
	HashesWriteThreshold int      `toml:"hashes_write_threshold"`
	HashesWriteMaxTime   string   `toml:"hashes_write_max_time"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	Level  string `toml:"level"`
	File   string `toml:"file"`
	Format string `toml:"format"`
}

// ServiceConfig is the per-artifact-type override section.
type ServiceConfig struct {
	ConcurrentLimit  int   `toml:"concurrent_limit"`
	Limit            int   `toml:"limit"`
	Offset           int   `toml:"offset"`
	RetryStatusCodes []int `toml:"retry_status_codes"`
}

// Service returns the override section for a service name (zero value when
// absent).
func (c *Config) Service(name string) ServiceConfig {
	return c.Services[name]
}

// RetryOptions resolves the backoff configuration for a service.
func (c *Config) RetryOptions(service string) retrier.Options {
	return retrier.Options{
		MaxAttempts: c.Retry.MaxAttempts,
		MinTimeout:  parseDuration(c.Retry.MinTimeout, retrier.DefaultMinTimeout),
		MaxTimeout:  parseDuration(c.Retry.MaxTimeout, retrier.DefaultMaxTimeout),
		Factor:      c.Retry.Factor,
		Randomize:   c.Retry.Randomize,
		StatusCodes: c.Service(service).RetryStatusCodes,
	}
}

// HashesWriteMaxTimeDuration parses the flush-time bound.
func (c *Config) HashesWriteMaxTimeDuration() time.Duration {
	return parseDuration(c.Sync.HashesWriteMaxTime, 0)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}

	return d
}
