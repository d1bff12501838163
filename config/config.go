// Package config handles YAML config file loading for the queue worker.
package config

import (
	"fmt"
	"time"
)

// Config represents an idoit.yaml configuration file. All values are
// optional and act as defaults for queueworker flags; CLI flags always
// override config values.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Worker WorkerConfig `yaml:"worker"`
}

// StoreConfig holds the Redis connection defaults.
type StoreConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// WorkerConfig holds worker-loop defaults.
type WorkerConfig struct {
	// Pools lists the command pools this worker polls, in priority order.
	Pools []string `yaml:"pools"`
	// PollInterval overrides the store's default backoff between empty
	// polls of a pool's commands queue.
	PollInterval Duration `yaml:"poll_interval"`
	// RemoveDelay is parsed as a duration, but neither queueworker command
	// reads it: tasks keep the removeDelay set via WithRemoveDelay (0 when
	// unset).
	RemoveDelay Duration `yaml:"remove_delay"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
