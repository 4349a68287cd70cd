package config

// Default returns the built-in configuration, the bottom layer of the
// merge.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts: 5,
			MinTimeout:  "1s",
			MaxTimeout:  "60s",
			Factor:      2,
			Randomize:   true,
		},
		Sync: SyncConfig{
			UseHashes: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Services: map[string]ServiceConfig{},
	}
}
