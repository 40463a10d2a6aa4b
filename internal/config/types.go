package config

import "fmt"

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	Throttle    ThrottleConfig    `json:"throttle"`
	Cooldown    CooldownConfig    `json:"cooldown"`
	DailyLimits DailyLimitsConfig `json:"daily_limits"`
	Pattern     PatternConfig     `json:"pattern"`
	Warmup      WarmupConfig      `json:"warmup"`

	Storage *StorageConfig `json:"storage,omitempty"`
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

// SchedulerConfig controls the execution loop.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// PollInterval bounds both due-task latency and stop latency.
	PollInterval string `json:"poll_interval,omitempty"`
	// Timezone for daily recurrences. IANA TZ, e.g. "Asia/Jakarta".
	Timezone string `json:"timezone,omitempty"`
}

// ThrottleConfig caps action counts per sliding window.
// Zero values fall back to built-in defaults.
type ThrottleConfig struct {
	GlobalPerMinute  int `json:"global_per_minute,omitempty"`
	GlobalPerHour    int `json:"global_per_hour,omitempty"`
	AccountPerMinute int `json:"account_per_minute,omitempty"`
	AccountPerHour   int `json:"account_per_hour,omitempty"`
}

type CooldownConfig struct {
	// Default is a Go duration string applied when no per-account or
	// per-action cooldown is set.
	Default string `json:"default,omitempty"`
	// MaxBackoff caps the exponential failure multiplier.
	MaxBackoff float64 `json:"max_backoff,omitempty"`
}

type DailyLimitsConfig struct {
	DefaultPerAction int `json:"default_per_action,omitempty"`
}

type PatternConfig struct {
	// Window is a Go duration string (e.g. "5m").
	Window              string  `json:"window,omitempty"`
	MaxHistory          int     `json:"max_history,omitempty"`
	VelocityPerMinute   float64 `json:"velocity_per_minute,omitempty"`
	RepetitionThreshold int     `json:"repetition_threshold,omitempty"`
	TimingCV            float64 `json:"timing_cv,omitempty"`
	TimingMeanSeconds   float64 `json:"timing_mean_seconds,omitempty"`
}

// WarmupConfig controls the daily progression job and inactive-account
// sweeping.
type WarmupConfig struct {
	// ProgressHour/ProgressMinute set the local time the daily
	// progression task fires.
	ProgressHour   int `json:"progress_hour"`
	ProgressMinute int `json:"progress_minute"`
	// ProgressJitterMinutes shifts each occurrence by up to this many
	// minutes either way.
	ProgressJitterMinutes int `json:"progress_jitter_minutes,omitempty"`

	// SweepInterval and SweepAfter are Go duration strings. Accounts
	// inactive longer than SweepAfter are evicted from the in-memory
	// safety components every SweepInterval. Empty disables sweeping.
	SweepInterval string `json:"sweep_interval,omitempty"`
	SweepAfter    string `json:"sweep_after,omitempty"`
}

// StorageConfig controls the persistence layer for warmup records.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./warden_state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// Validate rejects configs that parse but cannot run.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("scheduler.poll_interval", c.Scheduler.PollInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("cooldown.default", c.Cooldown.Default); err != nil {
		return err
	}
	if _, err := ParseDurationField("pattern.window", c.Pattern.Window); err != nil {
		return err
	}
	if _, err := ParseDurationField("warmup.sweep_interval", c.Warmup.SweepInterval); err != nil {
		return err
	}
	if _, err := ParseDurationField("warmup.sweep_after", c.Warmup.SweepAfter); err != nil {
		return err
	}
	if c.Warmup.ProgressHour < 0 || c.Warmup.ProgressHour > 23 {
		return fmt.Errorf("warmup.progress_hour: must be in [0,23]")
	}
	if c.Warmup.ProgressMinute < 0 || c.Warmup.ProgressMinute > 59 {
		return fmt.Errorf("warmup.progress_minute: must be in [0,59]")
	}
	if c.Cooldown.MaxBackoff < 0 {
		return fmt.Errorf("cooldown.max_backoff: must be >= 0")
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
