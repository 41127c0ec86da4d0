package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"notifyd/internal/storage"

	"github.com/robfig/cron/v3"
)

// Config is the notifyd config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Dispatch DispatchConfig `json:"dispatch"`

	// Channels overrides the built-in simulated transport profile per channel
	// ("email", "sms"). Omitted channels keep their defaults.
	Channels map[string]ChannelConfig `json:"channels,omitempty"`

	Store StoreConfig `json:"store"`
	Stats StatsConfig `json:"stats"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DispatchConfig is the retry policy.
//
// Defaults (when fields are omitted/zero):
//   - max_attempts: 3
//   - base_delay: "1s"
//   - max_delay: "0s" (uncapped)
type DispatchConfig struct {
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
}

// ChannelConfig tunes one simulated transport.
//
// FailureRate is a pointer so an explicit 0 (never fail) differs from omitted.
type ChannelConfig struct {
	FailureRate *float64 `json:"failure_rate,omitempty"`
	MinDelay    string   `json:"min_delay,omitempty"`
	MaxDelay    string   `json:"max_delay,omitempty"`
	// RatePerSec throttles attempts on this channel. 0 disables throttling.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StoreConfig selects the record store driver ("memory" or "sqlite").
//
// Example:
//
//	"store": { "driver": "sqlite", "path": ":memory:" }
type StoreConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

// StatsConfig controls the periodic delivery summary.
// Schedule is a cron spec; descriptors like "@every 1m" are accepted.
type StatsConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}

const DefaultStatsSchedule = "@every 1m"

// MaxAttemptsLimit bounds dispatch.max_attempts. With a 1s base delay the
// last wait is already measured in years.
const MaxAttemptsLimit = 30

var knownChannels = map[string]bool{"email": true, "sms": true}

// Default returns the config used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Store:   StoreConfig{Driver: "memory"},
		Stats:   StatsConfig{Enabled: true, Schedule: DefaultStatsSchedule},
	}
}

// Validate checks every field that Parse cannot: duration strings, ranges,
// channel names and the stats schedule. All problems are reported together.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if c.Dispatch.MaxAttempts < 0 || c.Dispatch.MaxAttempts > MaxAttemptsLimit {
		errs = append(errs, fmt.Errorf("dispatch.max_attempts: must be within [0,%d]", MaxAttemptsLimit))
	}
	if _, err := ParseDurationField("dispatch.base_delay", c.Dispatch.BaseDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("dispatch.max_delay", c.Dispatch.MaxDelay); err != nil {
		errs = append(errs, err)
	}

	names := make([]string, 0, len(c.Channels))
	for name := range c.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ch := c.Channels[name]
		path := "channels." + name
		if !knownChannels[strings.ToLower(name)] {
			errs = append(errs, fmt.Errorf("%s: unknown channel", path))
			continue
		}
		if ch.FailureRate != nil && (*ch.FailureRate < 0 || *ch.FailureRate > 1) {
			errs = append(errs, fmt.Errorf("%s.failure_rate: must be within [0,1]", path))
		}
		minD, err := ParseDurationField(path+".min_delay", ch.MinDelay)
		if err != nil {
			errs = append(errs, err)
		}
		maxD, err2 := ParseDurationField(path+".max_delay", ch.MaxDelay)
		if err2 != nil {
			errs = append(errs, err2)
		}
		if err == nil && err2 == nil && minD > 0 && maxD > 0 && maxD < minD {
			errs = append(errs, fmt.Errorf("%s: max_delay must be >= min_delay", path))
		}
		if ch.RatePerSec < 0 {
			errs = append(errs, fmt.Errorf("%s.rate_per_sec: must be >= 0", path))
		}
	}

	switch strings.ToLower(strings.TrimSpace(c.Store.Driver)) {
	case "", "memory", "mem", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if !storage.IsMemoryPath(c.Store.Path) {
		errs = append(errs, fmt.Errorf("store.path: %q is not an in-memory database", c.Store.Path))
	}

	if c.Stats.Enabled {
		if _, err := cron.ParseStandard(c.StatsSchedule()); err != nil {
			errs = append(errs, fmt.Errorf("stats.schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// StatsSchedule returns the configured schedule or the default.
func (c *Config) StatsSchedule() string {
	if s := strings.TrimSpace(c.Stats.Schedule); s != "" {
		return s
	}
	return DefaultStatsSchedule
}
