package config

import (
	"reflect"

	logx "notifyd/pkg/logx"
)

// SummarizeChange lists the top-level sections that differ between two
// configs, with compact fields describing the new values for logging.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var (
		changed []string
		fields  []logx.Field
	)
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.Int("dispatch.max_attempts", newCfg.Dispatch.MaxAttempts),
			logx.String("dispatch.base_delay", newCfg.Dispatch.BaseDelay),
			logx.String("dispatch.max_delay", newCfg.Dispatch.MaxDelay),
		)
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		fields = append(fields, logx.Int("channels.count", len(newCfg.Channels)))
	}
	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		fields = append(fields, logx.String("store.driver", newCfg.Store.Driver))
	}
	if oldCfg.Stats != newCfg.Stats {
		changed = append(changed, "stats")
		fields = append(fields, logx.Bool("stats.enabled", newCfg.Stats.Enabled), logx.String("stats.schedule", newCfg.Stats.Schedule))
	}
	return changed, fields
}
