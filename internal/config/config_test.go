package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"logging": {"level": "debug", "console": true},
		"scheduler": {"enabled": true, "poll_interval": "500ms"},
		"throttle": {"account_per_minute": 5},
		"cooldown": {"default": "2m", "max_backoff": 8},
		"warmup": {"progress_hour": 3, "progress_minute": 30}
	}`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Scheduler.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Throttle.AccountPerMinute != 5 || cfg.Cooldown.Default != "2m" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
daily_limits:
  default_per_action: 40
warmup:
  progress_hour: 4
  progress_minute: 0
`)

	cfg, err := NewConfigManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.DailyLimits.DefaultPerAction != 40 || cfg.Warmup.ProgressHour != 4 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}, "nope": 1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted an unknown field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging": {"level": "info"}}{"again": true}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted trailing data")
	}
}

func TestParseRunsValidation(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"scheduler": {"poll_interval": "not-a-duration"}}`)
	_, err := NewConfigManager(path).Parse()
	if err == nil || !strings.Contains(err.Error(), "poll_interval") {
		t.Fatalf("Parse error = %v, want poll_interval validation failure", err)
	}
}

func TestValidateBounds(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"zero value", func(c *Config) {}, true},
		{"progress hour high", func(c *Config) { c.Warmup.ProgressHour = 24 }, false},
		{"progress minute negative", func(c *Config) { c.Warmup.ProgressMinute = -1 }, false},
		{"negative backoff", func(c *Config) { c.Cooldown.MaxBackoff = -1 }, false},
		{"bad sweep interval", func(c *Config) { c.Warmup.SweepInterval = "soon" }, false},
		{"bad storage timeout", func(c *Config) { c.Storage = &StorageConfig{BusyTimeout: "x"} }, false},
		{"full valid", func(c *Config) {
			c.Scheduler.PollInterval = "1s"
			c.Cooldown.Default = "90s"
			c.Pattern.Window = "5m"
			c.Warmup.SweepInterval = "1h"
			c.Warmup.SweepAfter = "72h"
			c.Storage = &StorageConfig{Driver: "file", Path: ".", BusyTimeout: "5s"}
		}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			tt.mut(&cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v), want (0, nil)", d, err)
	}
	if _, err := ParseDurationField("x", "5s"); err != nil {
		t.Fatalf("5s: %v", err)
	}
	if _, err := ParseDurationField("x", "5 parsecs"); err == nil {
		t.Fatal("accepted a bogus duration")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{
		Logging:  LoggingConfig{Level: "debug"},
		Throttle: ThrottleConfig{AccountPerMinute: 3},
		Storage:  &StorageConfig{Driver: "file", Path: "./st"},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": true, "throttle": true, "storage": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected changed section %q", c)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs for changed sections")
	}

	if changed, _ := SummarizeConfigChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("unused")

	ch := m.Subscribe(1)
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	m.publish(cfg)

	select {
	case got := <-ch:
		if got.Logging.Level != "warn" {
			t.Fatalf("got %+v", got)
		}
	default:
		t.Fatal("no config delivered")
	}

	// Full buffer: the oldest update is replaced by the newest.
	m.publish(&Config{Logging: LoggingConfig{Level: "a"}})
	m.publish(&Config{Logging: LoggingConfig{Level: "b"}})
	if got := <-ch; got.Logging.Level != "b" {
		t.Fatalf("Level = %q, want newest update b", got.Logging.Level)
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after Unsubscribe")
	}
}
