// Package throttle implements sliding-window rate limiting over action
// timestamps, globally and per account.
package throttle

import (
	"context"
	"sync"
	"time"

	"warden/internal/policy"
	logx "warden/pkg/logx"
)

// Config caps action counts per sliding window.
// Zero fields fall back to defaults.
type Config struct {
	GlobalPerMinute  int
	GlobalPerHour    int
	AccountPerMinute int
	AccountPerHour   int
}

func (c Config) withDefaults() Config {
	if c.GlobalPerMinute <= 0 {
		c.GlobalPerMinute = 50
	}
	if c.GlobalPerHour <= 0 {
		c.GlobalPerHour = 500
	}
	if c.AccountPerMinute <= 0 {
		c.AccountPerMinute = 10
	}
	if c.AccountPerHour <= 0 {
		c.AccountPerHour = 50
	}
	return c
}

// pollEvery is the cadence WaitIfNeeded re-checks the limits.
const pollEvery = time.Second

// Throttler tracks action timestamps per scope (global, per-account,
// per-action-type) and answers admission checks against the configured
// window caps.
//
// One mutex guards all state so each prune-then-check sequence is atomic;
// concurrent callers on different accounts still serialize here.
type Throttler struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	now func() time.Time

	global   []time.Time
	accounts map[string][]time.Time
	actions  map[policy.ActionType][]time.Time
}

func New(cfg Config, log logx.Logger) *Throttler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Throttler{
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
		accounts: map[string][]time.Time{},
		actions:  map[policy.ActionType][]time.Time{},
	}
}

// SetClock overrides the throttler's clock. Intended for tests.
func (t *Throttler) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// CanExecute checks the caps in fixed order: global-per-minute,
// global-per-hour, account-per-minute, account-per-hour. The first violated
// check short-circuits with its reason code. Entries older than one hour
// are pruned first.
func (t *Throttler) CanExecute(accountID string, action policy.ActionType) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)

	minuteAgo := now.Add(-time.Minute)

	if countSince(t.global, minuteAgo) >= t.cfg.GlobalPerMinute {
		return false, "global_per_minute_limit"
	}
	if len(t.global) >= t.cfg.GlobalPerHour {
		return false, "global_per_hour_limit"
	}

	if accountID != "" {
		acct := t.accounts[accountID]
		if countSince(acct, minuteAgo) >= t.cfg.AccountPerMinute {
			return false, "account_per_minute_limit"
		}
		if len(acct) >= t.cfg.AccountPerHour {
			return false, "account_per_hour_limit"
		}
	}

	return true, ""
}

// RecordAction appends the current timestamp to every applicable scope.
func (t *Throttler) RecordAction(accountID string, action policy.ActionType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.global = append(t.global, now)
	if accountID != "" {
		t.accounts[accountID] = append(t.accounts[accountID], now)
	}
	if action != "" {
		t.actions[action] = append(t.actions[action], now)
	}
}

// WaitIfNeeded polls CanExecute once per second until the action is
// admitted or maxWait elapses. Returns false on timeout or ctx cancel.
func (t *Throttler) WaitIfNeeded(ctx context.Context, accountID string, action policy.ActionType, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for {
		ok, reason := t.CanExecute(accountID, action)
		if ok {
			return true
		}
		if time.Now().After(deadline) {
			t.log.Debug("throttle wait timed out", logx.String("account", accountID), logx.String("reason", reason))
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollEvery):
		}
	}
}

// pruneLocked drops timestamps older than one hour from all scopes and
// removes empty per-key entries so inactive accounts don't accumulate.
func (t *Throttler) pruneLocked(now time.Time) {
	hourAgo := now.Add(-time.Hour)

	t.global = pruneBefore(t.global, hourAgo)
	for id, ts := range t.accounts {
		ts = pruneBefore(ts, hourAgo)
		if len(ts) == 0 {
			delete(t.accounts, id)
			continue
		}
		t.accounts[id] = ts
	}
	for a, ts := range t.actions {
		ts = pruneBefore(ts, hourAgo)
		if len(ts) == 0 {
			delete(t.actions, a)
			continue
		}
		t.actions[a] = ts
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	n := 0
	for _, x := range ts {
		if x.Before(cutoff) {
			continue
		}
		ts[n] = x
		n++
	}
	return ts[:n]
}

func countSince(ts []time.Time, cutoff time.Time) int {
	n := 0
	for _, x := range ts {
		if !x.Before(cutoff) {
			n++
		}
	}
	return n
}

// ScopeStats is action counts for one scope over the trailing windows.
type ScopeStats struct {
	LastMinute int
	LastHour   int
}

// Stats reports current per-window usage for the global scope and every
// active account.
type Stats struct {
	Global          ScopeStats
	GlobalPerMinute int
	GlobalPerHour   int
	Accounts        map[string]ScopeStats
}

func (t *Throttler) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)
	minuteAgo := now.Add(-time.Minute)

	out := Stats{
		Global: ScopeStats{
			LastMinute: countSince(t.global, minuteAgo),
			LastHour:   len(t.global),
		},
		GlobalPerMinute: t.cfg.GlobalPerMinute,
		GlobalPerHour:   t.cfg.GlobalPerHour,
		Accounts:        make(map[string]ScopeStats, len(t.accounts)),
	}
	for id, ts := range t.accounts {
		out.Accounts[id] = ScopeStats{
			LastMinute: countSince(ts, minuteAgo),
			LastHour:   len(ts),
		}
	}
	return out
}
