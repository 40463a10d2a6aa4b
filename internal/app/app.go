// Package app wires configuration, storage and every admission component
// into one runnable unit.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"warden/internal/config"
	"warden/internal/cooldown"
	"warden/internal/dailylimit"
	"warden/internal/eventbus"
	"warden/internal/health"
	"warden/internal/pattern"
	"warden/internal/policy"
	"warden/internal/risk"
	"warden/internal/runtime/supervisor"
	"warden/internal/sched"
	"warden/internal/state"
	"warden/internal/storage"
	"warden/internal/throttle"
	logx "warden/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	logs *logx.Service
	log  logx.Logger

	bus   eventbus.Bus
	store storage.Store

	policy   *policy.Engine
	health   *health.Monitor
	throttle *throttle.Throttler
	cooldown *cooldown.Manager
	limits   *dailylimit.Tracker
	patterns *pattern.Detector
	states   *state.Manager
	risk     *risk.Assessor
	sched    *sched.Scheduler

	pollInterval time.Duration
	sweepEvery   time.Duration
	sweepAfter   time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	pollInterval, err := config.ParseDurationOrDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval, time.Second)
	if err != nil {
		return nil, err
	}
	cdDefault, err := config.ParseDurationField("cooldown.default", cfg.Cooldown.Default)
	if err != nil {
		return nil, err
	}
	patWindow, err := config.ParseDurationField("pattern.window", cfg.Pattern.Window)
	if err != nil {
		return nil, err
	}
	sweepEvery, err := config.ParseDurationField("warmup.sweep_interval", cfg.Warmup.SweepInterval)
	if err != nil {
		return nil, err
	}
	sweepAfter, err := config.ParseDurationOrDefault("warmup.sweep_after", cfg.Warmup.SweepAfter, 72*time.Hour)
	if err != nil {
		return nil, err
	}

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
	}

	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		bus:     bus,
		store:   store,

		policy: policy.NewEngine(),
		health: health.NewMonitor(log.With(logx.String("comp", "health"))),
		throttle: throttle.New(throttle.Config{
			GlobalPerMinute:  cfg.Throttle.GlobalPerMinute,
			GlobalPerHour:    cfg.Throttle.GlobalPerHour,
			AccountPerMinute: cfg.Throttle.AccountPerMinute,
			AccountPerHour:   cfg.Throttle.AccountPerHour,
		}, log.With(logx.String("comp", "throttle"))),
		cooldown: cooldown.NewManager(cooldown.Config{
			Default:    cdDefault,
			MaxBackoff: cfg.Cooldown.MaxBackoff,
		}, log.With(logx.String("comp", "cooldown"))),
		limits: dailylimit.NewTracker(dailylimit.Config{
			DefaultPerAction: cfg.DailyLimits.DefaultPerAction,
		}, log.With(logx.String("comp", "dailylimit"))),
		patterns: pattern.NewDetector(pattern.Config{
			Window:              patWindow,
			MaxHistory:          cfg.Pattern.MaxHistory,
			VelocityPerMinute:   cfg.Pattern.VelocityPerMinute,
			RepetitionThreshold: cfg.Pattern.RepetitionThreshold,
			TimingCV:            cfg.Pattern.TimingCV,
			TimingMeanSeconds:   cfg.Pattern.TimingMeanSeconds,
		}, log.With(logx.String("comp", "pattern"))),
		states: state.NewManager(store, log.With(logx.String("comp", "state"))),

		pollInterval: pollInterval,
		sweepEvery:   sweepEvery,
		sweepAfter:   sweepAfter,
	}

	a.risk = risk.NewAssessor(log.With(logx.String("comp", "risk")), a.policy, a.health, a.throttle, a.limits, a.patterns)
	a.sched = sched.New(log.With(logx.String("comp", "sched")), sched.WithTimezone(loc), sched.WithBus(bus))
	return a, nil
}

// Components exposed for callers composing their own workers.
func (a *App) Risk() *risk.Assessor        { return a.risk }
func (a *App) States() *state.Manager      { return a.states }
func (a *App) Scheduler() *sched.Scheduler { return a.sched }
func (a *App) Health() *health.Monitor     { return a.health }
func (a *App) Bus() eventbus.Bus           { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if err := a.states.Load(ctx); err != nil {
		a.log.Warn("warmup state load failed", logx.Err(err))
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	// Restart-on-failure so a panicking watcher backend degrades to a
	// backoff loop instead of taking the process down.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go("config.apply", func(c context.Context) error {
		old := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				a.cfgm.Unsubscribe(sub)
				return nil
			case cfg, ok := <-sub:
				if !ok {
					return nil
				}
				changed, attrs := config.SummarizeConfigChange(old, cfg)
				if len(changed) > 0 {
					a.log.Info("config reloaded", append(attrs, logx.Any("sections", changed))...)
				}
				a.logs.Apply(logx.Config{
					Level:   cfg.Logging.Level,
					Console: cfg.Logging.Console,
					File: logx.FileConfig{
						Enabled: cfg.Logging.File.Enabled,
						Path:    cfg.Logging.File.Path,
					},
				})
				old = cfg
			}
		}
	})

	cfg := a.cfgm.Get()
	if cfg.Scheduler.Enabled {
		a.sup.Go("sched.loop", func(c context.Context) error {
			a.sched.RunLoop(c, a.pollInterval)
			return nil
		})
	}

	// Daily warmup progression for every tracked account.
	if err := a.sched.ScheduleDaily("warmup.progress", a.progressAll, sched.PriorityHigh, nil,
		cfg.Warmup.ProgressHour, cfg.Warmup.ProgressMinute, cfg.Warmup.ProgressJitterMinutes); err != nil {
		return err
	}

	if a.sweepEvery > 0 {
		a.sched.ScheduleInterval("warmup.sweep", a.sweep, sched.PriorityBackground, nil, a.sweepEvery, 0.1)
	}

	a.log.Info("started",
		logx.Duration("poll_interval", a.pollInterval),
		logx.Bool("storage", a.store != nil))
	return nil
}

// progressAll advances warmup by one day for every account that is due.
func (a *App) progressAll(ctx context.Context, _ map[string]any) error {
	advanced := 0
	for _, id := range a.states.Accounts() {
		if a.states.ProgressWarmupDay(ctx, id) {
			advanced++
		}
	}
	a.log.Info("warmup progression ran", logx.Int("advanced", advanced))
	return nil
}

// sweep evicts inactive accounts from the in-memory safety components.
func (a *App) sweep(_ context.Context, _ map[string]any) error {
	n := a.cooldown.SweepInactive(a.sweepAfter)
	n += a.limits.SweepInactive(a.sweepAfter)
	n += a.patterns.SweepInactive(a.sweepAfter)
	if n > 0 {
		a.log.Debug("inactive account state swept", logx.Int("entries", n))
	}
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sched.Stop()
	a.sup.Cancel()
	_ = a.sup.Stop(ctx)

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	return nil
}
