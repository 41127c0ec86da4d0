package app

import (
	"fmt"
	"strings"

	"notifyd/internal/clock"
	"notifyd/internal/config"
	"notifyd/internal/delivery"
	"notifyd/internal/dispatch"
	"notifyd/internal/storage"
	"notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	base, err := config.ParseDurationOrDefault("dispatch.base_delay", cfg.Dispatch.BaseDelay, dispatch.DefaultBaseDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("dispatch.max_delay", cfg.Dispatch.MaxDelay)
	if err != nil {
		return dispatch.Config{}, err
	}
	attempts := cfg.Dispatch.MaxAttempts
	if attempts <= 0 {
		attempts = dispatch.DefaultMaxAttempts
	}
	return dispatch.Config{MaxAttempts: attempts, BaseDelay: base, MaxDelay: maxDelay}, nil
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if driver == "" {
		driver = "memory"
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(cfg.Store.Path)}
}

// mapChannelProfile overlays the configured overrides on the built-in
// profile for ch. The second result is the per-channel rate limit.
func mapChannelProfile(cfg *config.Config, ch delivery.Channel) (transport.Profile, int, error) {
	p, ok := transport.DefaultProfile(ch)
	if !ok {
		return transport.Profile{}, 0, fmt.Errorf("%w: %q", delivery.ErrUnknownChannel, ch)
	}
	cc, ok := lookupChannel(cfg.Channels, ch)
	if !ok {
		return p, 0, nil
	}
	path := "channels." + string(ch)
	if cc.FailureRate != nil {
		p.FailureRate = *cc.FailureRate
	}
	var err error
	if p.MinDelay, err = config.ParseDurationOrDefault(path+".min_delay", cc.MinDelay, p.MinDelay); err != nil {
		return transport.Profile{}, 0, err
	}
	if p.MaxDelay, err = config.ParseDurationOrDefault(path+".max_delay", cc.MaxDelay, p.MaxDelay); err != nil {
		return transport.Profile{}, 0, err
	}
	return p, cc.RatePerSec, nil
}

func lookupChannel(m map[string]config.ChannelConfig, ch delivery.Channel) (config.ChannelConfig, bool) {
	for k, v := range m {
		if strings.EqualFold(k, string(ch)) {
			return v, true
		}
	}
	return config.ChannelConfig{}, false
}

// buildTransports creates one simulated transport per known channel. rng is
// shared; it must be safe for concurrent use.
func buildTransports(cfg *config.Config, rng transport.Rand, sleep clock.Sleeper) (transport.Set, error) {
	set := transport.Set{}
	for _, ch := range delivery.Channels() {
		p, perSec, err := mapChannelProfile(cfg, ch)
		if err != nil {
			return nil, err
		}
		set[ch] = transport.WithRateLimit(transport.NewSimulated(p, rng, sleep), perSec)
	}
	return set, nil
}
