package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// File names searched during resolution.
const (
	// FileName is the per-working-directory config file.
	FileName = "wchtools.toml"

	// userConfigDir under the user's config root holds the global file.
	userConfigDir = "wchtools"
)

// Environment variables recognized as the layer above config files.
const (
	EnvPassword     = "WCHTOOLS_PASSWORD"
	EnvWaitForClose = "WCHTOOLS_WAIT_FOR_CLOSE"
	EnvLogLevel     = "WCHTOOLS_LOG_LEVEL"
	EnvLogFile      = "WCHTOOLS_LOG_FILE"
	EnvLogFormat    = "WCHTOOLS_LOG_FORMAT"
	EnvBaseURL      = "WCHTOOLS_BASE_URL"
	EnvTenantID     = "WCHTOOLS_TENANT_ID"
)

// Load resolves the configuration for a working directory: defaults, then
// the user file, then the directory-local file, then the environment.
// explicitPath, when non-empty, replaces both file layers (and missing is
// then an error rather than a fallback).
func Load(workingDir, explicitPath string) (*Config, error) {
	cfg := Default()

	if explicitPath != "" {
		if err := decodeInto(cfg, explicitPath); err != nil {
			return nil, err
		}

		applyEnv(cfg)

		return cfg, nil
	}

	if userPath := userConfigPath(); userPath != "" {
		if err := decodeInto(cfg, userPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	localPath := filepath.Join(workingDir, FileName)
	if err := decodeInto(cfg, localPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnv(cfg)

	return cfg, nil
}

// decodeInto overlays one TOML file onto cfg; keys absent from the file
// keep their current values.
func decodeInto(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", path, fs.ErrNotExist)
		}

		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return nil
}

// userConfigPath returns the global config file location, or "".
func userConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}

	return filepath.Join(dir, userConfigDir, "config.toml")
}

// applyEnv overlays recognized environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv(EnvLogFile); v != "" {
		cfg.Logging.File = v
	}

	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Tenant.BaseURL = v
	}

	if v := os.Getenv(EnvTenantID); v != "" {
		cfg.Tenant.ID = v
	}
}

// WriteStarter writes a commented starter config into the working
// directory. Used by the init command; refuses to overwrite.
func WriteStarter(workingDir string) (string, error) {
	path := filepath.Join(workingDir, FileName)

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config: %s already exists", path)
	}

	content := `# wchtools configuration

[tenant]
base_url = ""
id = ""

[retry]
max_attempts = 5
min_timeout = "1s"
max_timeout = "60s"
factor = 2.0
randomize = true

[sync]
use_hashes = true

# Per-artifact-type overrides:
# [service.assets]
# concurrent_limit = 10
`

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("config: writing %s: %w", path, err)
	}

	return path, nil
}
