package dispatch

import (
	"math"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Config is the retry policy.
type Config struct {
	// MaxAttempts counts the first attempt. Default 3.
	MaxAttempts int
	// BaseDelay is the wait after the first failed attempt; each later wait
	// doubles. Default 1s.
	BaseDelay time.Duration
	// MaxDelay caps a single wait. 0 means uncapped.
	MaxDelay time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay < 0 {
		c.MaxDelay = 0
	}
	return c
}

// Backoff returns the wait after failed attempt n (1-indexed):
// BaseDelay * 2^(n-1), capped at MaxDelay when set.
func Backoff(cfg Config, attempt int) time.Duration {
	cfg = cfg.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			// saturate instead of wrapping negative
			return time.Duration(math.MaxInt64)
		}
		d *= 2
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}
