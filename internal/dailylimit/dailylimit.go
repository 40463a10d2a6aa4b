// Package dailylimit caps per-account action counts per calendar day.
package dailylimit

import (
	"sync"
	"time"

	"warden/internal/policy"
	logx "warden/pkg/logx"
)

// Config carries the fallback per-action daily cap.
type Config struct {
	DefaultPerAction int
}

func (c Config) withDefaults() Config {
	if c.DefaultPerAction <= 0 {
		c.DefaultPerAction = 100
	}
	return c
}

type overrideKey struct {
	account string
	action  policy.ActionType
}

// accountDay is one account's counters for its current calendar date.
type accountDay struct {
	date    string
	total   int
	byType  map[policy.ActionType]int
	touched time.Time
}

// Tracker counts actions per account per calendar day and admits an
// action only while the applicable limit has headroom. Counters reset
// lazily: the first touch on a new date clears the previous day.
type Tracker struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	now func() time.Time

	overrides    map[overrideKey]int
	actionLimits map[policy.ActionType]int
	acctLimits   map[string]int

	days map[string]*accountDay
}

func NewTracker(cfg Config, log logx.Logger) *Tracker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Tracker{
		cfg:          cfg.withDefaults(),
		log:          log,
		now:          time.Now,
		overrides:    map[overrideKey]int{},
		actionLimits: map[policy.ActionType]int{},
		acctLimits:   map[string]int{},
		days:         map[string]*accountDay{},
	}
}

// SetClock overrides the tracker's clock. Intended for tests.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// SetLimitOverride pins a limit for one account and action type. It wins
// over every other source.
func (t *Tracker) SetLimitOverride(accountID string, action policy.ActionType, limit int) {
	t.mu.Lock()
	t.overrides[overrideKey{accountID, action}] = limit
	t.mu.Unlock()
}

// SetActionLimit pins a limit for one action type across all accounts.
func (t *Tracker) SetActionLimit(action policy.ActionType, limit int) {
	t.mu.Lock()
	t.actionLimits[action] = limit
	t.mu.Unlock()
}

// SetAccountLimit pins a limit for every action type of one account.
func (t *Tracker) SetAccountLimit(accountID string, limit int) {
	t.mu.Lock()
	t.acctLimits[accountID] = limit
	t.mu.Unlock()
}

// limitLocked resolves the applicable limit: per-account-per-action
// override, then per-action, then per-account, then the default.
func (t *Tracker) limitLocked(accountID string, action policy.ActionType) int {
	if l, ok := t.overrides[overrideKey{accountID, action}]; ok {
		return l
	}
	if l, ok := t.actionLimits[action]; ok {
		return l
	}
	if l, ok := t.acctLimits[accountID]; ok {
		return l
	}
	return t.cfg.DefaultPerAction
}

// dayLocked returns the account's counters for today, resetting them if
// the stored date is stale.
func (t *Tracker) dayLocked(accountID string, now time.Time) *accountDay {
	date := now.Format("2006-01-02")
	d := t.days[accountID]
	if d == nil || d.date != date {
		d = &accountDay{date: date, byType: map[policy.ActionType]int{}}
		t.days[accountID] = d
	}
	d.touched = now
	return d
}

// CanExecute reports whether the account has headroom for the action
// today. A denial carries the reason "daily_limit_reached_<action>".
func (t *Tracker) CanExecute(accountID string, action policy.ActionType) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.dayLocked(accountID, t.now())
	if d.byType[action] >= t.limitLocked(accountID, action) {
		return false, "daily_limit_reached_" + string(action)
	}
	return true, ""
}

// RecordAction increments the per-type and total counters for today.
func (t *Tracker) RecordAction(accountID string, action policy.ActionType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.dayLocked(accountID, t.now())
	d.byType[action]++
	d.total++
}

// Remaining returns the headroom left for the action today, never
// negative.
func (t *Tracker) Remaining(accountID string, action policy.ActionType) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.dayLocked(accountID, t.now())
	left := t.limitLocked(accountID, action) - d.byType[action]
	if left < 0 {
		left = 0
	}
	return left
}

// DayStats is one account's usage for the current calendar date.
type DayStats struct {
	Date    string
	Total   int
	ByType  map[policy.ActionType]int
	Limits  map[policy.ActionType]int
}

// DailyStats reports today's usage and the applicable limit per recorded
// action type.
func (t *Tracker) DailyStats(accountID string) DayStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.dayLocked(accountID, t.now())
	out := DayStats{
		Date:   d.date,
		Total:  d.total,
		ByType: make(map[policy.ActionType]int, len(d.byType)),
		Limits: make(map[policy.ActionType]int, len(d.byType)),
	}
	for a, n := range d.byType {
		out.ByType[a] = n
		out.Limits[a] = t.limitLocked(accountID, a)
	}
	return out
}

// SweepInactive drops counters for accounts not touched since the cutoff.
// Returns the number of accounts evicted.
func (t *Tracker) SweepInactive(olderThan time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-olderThan)
	evicted := 0
	for id, d := range t.days {
		if !d.touched.Before(cutoff) {
			continue
		}
		delete(t.days, id)
		evicted++
	}
	if evicted > 0 {
		t.log.Debug("swept inactive daily counters", logx.Int("accounts", evicted))
	}
	return evicted
}
