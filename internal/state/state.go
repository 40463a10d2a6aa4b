// Package state owns the persisted multi-day warmup lifecycle per
// account. The lifecycle is driven purely by current_day; Paused,
// Suspended and Error are externally set side states.
package state

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"warden/internal/policy"
	"warden/internal/storage"
	logx "warden/pkg/logx"
)

// AccountState is the derived lifecycle state of one account.
type AccountState string

const (
	StateInactive  AccountState = "inactive"
	StateActive    AccountState = "active"
	StatePaused    AccountState = "paused"
	StateSuspended AccountState = "suspended"
	StateError     AccountState = "error"
)

// WarmupDayState returns the derived state for one in-warmup day (1..7).
func WarmupDayState(day int) AccountState {
	return AccountState("warmup_day_" + string(rune('0'+day)))
}

// maxWarmupDay is the last warmup day; beyond it the account is active.
const maxWarmupDay = 7

// Warmup is the durable per-account record. It round-trips through JSON
// unchanged across restarts.
type Warmup struct {
	AccountID     string                    `json:"account_id"`
	CurrentDay    int                       `json:"current_day"`
	StartedAt     time.Time                 `json:"started_at"`
	ActionsToday  map[policy.ActionType]int `json:"actions_today"`
	LastAction    time.Time                 `json:"last_action_time"`
	TotalActions  int                       `json:"total_actions"`
	LastResetDate string                    `json:"last_reset_date"`
	SideState     AccountState              `json:"side_state,omitempty"`
}

// Manager holds all warmup records in memory and writes each mutation
// through to the store before returning. Persistence failures are logged
// and the in-memory state stays authoritative.
type Manager struct {
	mu    sync.Mutex
	log   logx.Logger
	store storage.Store
	now   func() time.Time

	records map[string]*Warmup

	// warnLimit throttles persistence-failure warnings so a dead store
	// doesn't flood the log.
	warnLimit *rate.Limiter
}

func NewManager(store storage.Store, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:       log,
		store:     store,
		now:       time.Now,
		records:   map[string]*Warmup{},
		warnLimit: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

// SetClock overrides the manager's clock. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Load reads every persisted record into memory. Corrupt records are
// skipped with a warning so one bad account doesn't block the rest.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	all, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, raw := range all {
		var w Warmup
		if err := json.Unmarshal(raw, &w); err != nil {
			m.log.Warn("skipping corrupt warmup record", logx.String("account", id), logx.Err(err))
			continue
		}
		if w.AccountID == "" {
			w.AccountID = id
		}
		if w.ActionsToday == nil {
			w.ActionsToday = map[policy.ActionType]int{}
		}
		m.records[w.AccountID] = &w
	}
	m.log.Info("warmup records loaded", logx.Int("accounts", len(m.records)))
	return nil
}

func (m *Manager) recordLocked(accountID string) *Warmup {
	w := m.records[accountID]
	if w == nil {
		w = &Warmup{AccountID: accountID, ActionsToday: map[policy.ActionType]int{}}
		m.records[accountID] = w
	}
	return w
}

// resetIfStaleLocked clears today's counters when the calendar date has
// rolled over since the last reset.
func (m *Manager) resetIfStaleLocked(w *Warmup, now time.Time) {
	date := now.Format("2006-01-02")
	if w.LastResetDate == date {
		return
	}
	w.ActionsToday = map[policy.ActionType]int{}
	w.LastResetDate = date
}

// persistLocked writes the record through to the store. Failures are
// logged at a bounded rate; the caller's mutation stands regardless.
func (m *Manager) persistLocked(ctx context.Context, w *Warmup) {
	if m.store == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err == nil {
		err = m.store.Put(ctx, w.AccountID, raw)
	}
	if err != nil && m.warnLimit.Allow() {
		m.log.Warn("warmup record persist failed", logx.String("account", w.AccountID), logx.Err(err))
	}
}

// StartWarmup moves the account to day 1. It is a no-op once warmup has
// begun.
func (m *Manager) StartWarmup(ctx context.Context, accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.recordLocked(accountID)
	if w.CurrentDay > 0 {
		return
	}
	now := m.now()
	w.CurrentDay = 1
	w.StartedAt = now
	m.resetIfStaleLocked(w, now)
	m.persistLocked(ctx, w)
	m.log.Info("warmup started", logx.String("account", accountID))
}

// ProgressWarmupDay advances the account by exactly one day. It advances
// only when at least current_day calendar days have elapsed since the
// warmup started and the account is still inside the warmup window.
// Returns whether it advanced.
func (m *Manager) ProgressWarmupDay(ctx context.Context, accountID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.recordLocked(accountID)
	if w.CurrentDay == 0 || w.CurrentDay >= maxWarmupDay {
		return false
	}
	if calendarDaysSince(w.StartedAt, m.now()) < w.CurrentDay {
		return false
	}
	w.CurrentDay++
	m.persistLocked(ctx, w)
	m.log.Info("warmup day advanced",
		logx.String("account", accountID),
		logx.Int("day", w.CurrentDay))
	return true
}

// calendarDaysSince counts calendar-date boundaries between start and
// now, not elapsed 24h periods.
func calendarDaysSince(start, now time.Time) int {
	sy, sm, sd := start.Date()
	ny, nm, nd := now.Date()
	s := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	n := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return int(n.Sub(s) / (24 * time.Hour))
}

// GetAccountState derives the lifecycle state. An externally set side
// state wins until cleared.
func (m *Manager) GetAccountState(accountID string) AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.records[accountID]
	if w == nil {
		return StateInactive
	}
	if w.SideState != "" {
		return w.SideState
	}
	return derivedState(w.CurrentDay)
}

func derivedState(day int) AccountState {
	switch {
	case day == 0:
		return StateInactive
	case day <= maxWarmupDay:
		return WarmupDayState(day)
	default:
		return StateActive
	}
}

// SetAccountState pins a side state (Paused, Suspended, Error). Any other
// value clears the side state so the day-derived state applies again.
func (m *Manager) SetAccountState(ctx context.Context, accountID string, st AccountState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.recordLocked(accountID)
	switch st {
	case StatePaused, StateSuspended, StateError:
		w.SideState = st
	default:
		w.SideState = ""
	}
	m.persistLocked(ctx, w)
	m.log.Info("account state set", logx.String("account", accountID), logx.String("state", string(st)))
}

// GetWarmupDay returns the account's current warmup day, 0 if never
// started.
func (m *Manager) GetWarmupDay(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.records[accountID]; w != nil {
		return w.CurrentDay
	}
	return 0
}

// IncrementAction records one completed action against today's counters.
func (m *Manager) IncrementAction(ctx context.Context, accountID string, action policy.ActionType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.recordLocked(accountID)
	now := m.now()
	m.resetIfStaleLocked(w, now)
	w.ActionsToday[action]++
	w.TotalActions++
	w.LastAction = now
	m.persistLocked(ctx, w)
}

// ActionsToday returns today's per-action counters, reset-aware.
func (m *Manager) ActionsToday(accountID string) map[policy.ActionType]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.records[accountID]
	if w == nil {
		return map[policy.ActionType]int{}
	}
	m.resetIfStaleLocked(w, m.now())
	out := make(map[policy.ActionType]int, len(w.ActionsToday))
	for a, n := range w.ActionsToday {
		out[a] = n
	}
	return out
}

// Accounts returns the IDs of all tracked accounts.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	return out
}

// Snapshot returns a copy of one account's record, if tracked.
func (m *Manager) Snapshot(accountID string) (Warmup, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.records[accountID]
	if w == nil {
		return Warmup{}, false
	}
	cp := *w
	cp.ActionsToday = make(map[policy.ActionType]int, len(w.ActionsToday))
	for a, n := range w.ActionsToday {
		cp.ActionsToday[a] = n
	}
	return cp, true
}
