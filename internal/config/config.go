// Package config loads the configuration file of the anythread command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeycumines/logiface"
	"gopkg.in/yaml.v3"
)

// SoakSection configures the soak workload.
type SoakSection struct {
	// Callers is the number of goroutines making redirected calls.
	Callers int `yaml:"callers"`

	// Calls is the number of calls made by each caller.
	Calls int `yaml:"calls"`

	// Work is how long each call keeps the owner busy.
	// Use Go duration format: "0s", "50us", "1ms", etc.
	Work string `yaml:"work"`

	// FailEvery makes every nth call return an error. 0 disables.
	FailEvery int `yaml:"fail_every"`

	// PanicEvery makes every nth call panic. 0 disables.
	PanicEvery int `yaml:"panic_every"`
}

// BridgeSection configures the bridge and redirector.
type BridgeSection struct {
	// SlowCall is the threshold for slow call warnings. Empty disables.
	SlowCall string `yaml:"slow_call"`

	// AwaitTimeout bounds how long callers wait for the owner. Empty waits
	// indefinitely.
	AwaitTimeout string `yaml:"await_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	// Level is one of the syslog keywords (emerg ... debug), trace, or
	// disabled.
	Level string `yaml:"level"`
}

// MetricsSection configures the prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address for /metrics. Empty disables.
	Addr string `yaml:"addr"`

	Namespace string `yaml:"namespace"`
}

// Config represents an anythread configuration file.
type Config struct {
	// Version is the config file format version (optional, currently always 1).
	Version int `yaml:"version,omitempty"`

	Soak    SoakSection    `yaml:"soak"`
	Bridge  BridgeSection  `yaml:"bridge"`
	Log     LogSection     `yaml:"log"`
	Metrics MetricsSection `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Version: 1,
		Soak: SoakSection{
			Callers: 8,
			Calls:   1000,
			Work:    "0s",
		},
		Log: LogSection{
			Level: "info",
		},
	}
}

// Load reads and parses a configuration file. Fields absent from the file
// keep their [Default] values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration.
//
// Ensures:
//   - Version is 0 or 1
//   - soak.callers and soak.calls are positive
//   - soak.fail_every and soak.panic_every are not negative
//   - every duration parses, and is not negative
//   - log.level is a known level
func Validate(cfg Config) error {
	if cfg.Version != 0 && cfg.Version != 1 {
		return fmt.Errorf("unsupported config version %d", cfg.Version)
	}

	if cfg.Soak.Callers <= 0 {
		return errors.New("soak.callers must be positive")
	}
	if cfg.Soak.Calls <= 0 {
		return errors.New("soak.calls must be positive")
	}
	if cfg.Soak.FailEvery < 0 {
		return errors.New("soak.fail_every must not be negative")
	}
	if cfg.Soak.PanicEvery < 0 {
		return errors.New("soak.panic_every must not be negative")
	}

	for _, d := range [...]struct {
		name  string
		value string
	}{
		{"soak.work", cfg.Soak.Work},
		{"bridge.slow_call", cfg.Bridge.SlowCall},
		{"bridge.await_timeout", cfg.Bridge.AwaitTimeout},
	} {
		if _, err := parseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}

	return nil
}

// WorkDuration returns soak.work, or 0 if it is empty or invalid.
func (s SoakSection) WorkDuration() time.Duration {
	d, _ := parseDuration(s.Work)
	return d
}

// SlowCallThreshold returns bridge.slow_call, or 0 if it is empty or invalid.
func (s BridgeSection) SlowCallThreshold() time.Duration {
	d, _ := parseDuration(s.SlowCall)
	return d
}

// AwaitTimeoutDuration returns bridge.await_timeout, or 0 if it is empty or
// invalid.
func (s BridgeSection) AwaitTimeoutDuration() time.Duration {
	d, _ := parseDuration(s.AwaitTimeout)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

// ParseLevel parses a log level, as formatted by [logiface.Level.String].
// The aliases "error", "warn", and "information" are also accepted.
func ParseLevel(s string) (logiface.Level, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	case "information":
		return logiface.LevelInformational, nil
	default:
		for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
			if level.String() == v {
				return level, nil
			}
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown level %q", s)
}
