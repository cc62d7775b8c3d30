// Package model defines the data structures for foldergate's task records,
// workflow states, transitions, approvals, and configuration.
package model

type Config struct {
	Vault   VaultConfig   `yaml:"vault" mapstructure:"vault"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Watcher WatcherConfig `yaml:"watcher" mapstructure:"watcher"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
}

type VaultConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Created string `yaml:"created" mapstructure:"created"`
}

// RetryConfig bounds the transient-error retry wrapper. The ceiling and max
// attempt count are configuration, not hardcoded policy.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

type WatcherConfig struct {
	DebounceSec         float64 `yaml:"debounce_sec" mapstructure:"debounce_sec"`
	ScanIntervalSec     int     `yaml:"scan_interval_sec" mapstructure:"scan_interval_sec"`
	OperationTimeoutSec int     `yaml:"operation_timeout_sec" mapstructure:"operation_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`

	// LogMetadataUpdates controls whether same-state, metadata-only updates
	// also produce an audit entry.
	LogMetadataUpdates bool `yaml:"log_metadata_updates" mapstructure:"log_metadata_updates"`
}

type NotifyConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMs: 100,
			MaxBackoffMs:     5000,
		},
		Watcher: WatcherConfig{
			DebounceSec:         0.5,
			ScanIntervalSec:     10,
			OperationTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level:              "info",
			LogMetadataUpdates: false,
		},
		Notify: NotifyConfig{
			Enabled: true,
		},
	}
}
