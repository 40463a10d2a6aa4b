package config

import (
	"strings"

	logx "warden/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus
// safe structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.poll_interval", strings.TrimSpace(newCfg.Scheduler.PollInterval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Throttle != newCfg.Throttle {
		changed = append(changed, "throttle")
		attrs = append(attrs,
			logx.Int("throttle.global_per_minute", newCfg.Throttle.GlobalPerMinute),
			logx.Int("throttle.global_per_hour", newCfg.Throttle.GlobalPerHour),
			logx.Int("throttle.account_per_minute", newCfg.Throttle.AccountPerMinute),
			logx.Int("throttle.account_per_hour", newCfg.Throttle.AccountPerHour),
		)
	}

	if oldCfg.Cooldown != newCfg.Cooldown {
		changed = append(changed, "cooldown")
		attrs = append(attrs,
			logx.String("cooldown.default", strings.TrimSpace(newCfg.Cooldown.Default)),
			logx.Float64("cooldown.max_backoff", newCfg.Cooldown.MaxBackoff),
		)
	}

	if oldCfg.DailyLimits != newCfg.DailyLimits {
		changed = append(changed, "daily_limits")
		attrs = append(attrs, logx.Int("daily_limits.default_per_action", newCfg.DailyLimits.DefaultPerAction))
	}

	if oldCfg.Pattern != newCfg.Pattern {
		changed = append(changed, "pattern")
		attrs = append(attrs,
			logx.String("pattern.window", strings.TrimSpace(newCfg.Pattern.Window)),
			logx.Float64("pattern.velocity_per_minute", newCfg.Pattern.VelocityPerMinute),
			logx.Int("pattern.repetition_threshold", newCfg.Pattern.RepetitionThreshold),
		)
	}

	if oldCfg.Warmup != newCfg.Warmup {
		changed = append(changed, "warmup")
		attrs = append(attrs,
			logx.Int("warmup.progress_hour", newCfg.Warmup.ProgressHour),
			logx.Int("warmup.progress_minute", newCfg.Warmup.ProgressMinute),
			logx.String("warmup.sweep_interval", strings.TrimSpace(newCfg.Warmup.SweepInterval)),
		)
	}

	oldStorage := derefStorage(oldCfg.Storage)
	newStorage := derefStorage(newCfg.Storage)
	if oldStorage != newStorage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newStorage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newStorage.Path) != ""),
		)
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
