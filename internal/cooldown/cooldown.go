// Package cooldown enforces minimum spacing between actions with
// failure-driven exponential backoff.
package cooldown

import (
	"context"
	"sync"
	"time"

	"warden/internal/policy"
	logx "warden/pkg/logx"
)

// Config carries the default cooldown and the per-failure backoff cap.
type Config struct {
	Default    time.Duration
	MaxBackoff float64
}

func (c Config) withDefaults() Config {
	if c.Default <= 0 {
		c.Default = time.Minute
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10
	}
	return c
}

// maxSleep bounds each WaitForCooldown sleep so cancellation is observed.
const maxSleep = 5 * time.Second

type scopeKey struct {
	account string
	action  policy.ActionType
}

// Manager tracks last-action times at four scopes (global, per-account,
// per-action-type, per-account-per-action) and per-account consecutive
// failure counts. An action is admitted only when every scope's cooldown
// has elapsed.
type Manager struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	now func() time.Time

	accountBase map[string]time.Duration
	actionBase  map[policy.ActionType]time.Duration

	lastGlobal  time.Time
	lastAccount map[string]time.Time
	lastAction  map[policy.ActionType]time.Time
	lastPair    map[scopeKey]time.Time

	failures map[string]int
}

func NewManager(cfg Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		cfg:         cfg.withDefaults(),
		log:         log,
		now:         time.Now,
		accountBase: map[string]time.Duration{},
		actionBase:  map[policy.ActionType]time.Duration{},
		lastAccount: map[string]time.Time{},
		lastAction:  map[policy.ActionType]time.Time{},
		lastPair:    map[scopeKey]time.Time{},
		failures:    map[string]int{},
	}
}

// SetClock overrides the manager's clock. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// SetAccountCooldown pins a base cooldown for one account. It takes
// precedence over action and default cooldowns.
func (m *Manager) SetAccountCooldown(accountID string, d time.Duration) {
	m.mu.Lock()
	m.accountBase[accountID] = d
	m.mu.Unlock()
}

// SetActionCooldown pins a base cooldown for one action type.
func (m *Manager) SetActionCooldown(action policy.ActionType, d time.Duration) {
	m.mu.Lock()
	m.actionBase[action] = d
	m.mu.Unlock()
}

// baseLocked resolves the base cooldown: account override, then action
// override, then the configured default.
func (m *Manager) baseLocked(accountID string, action policy.ActionType) time.Duration {
	if d, ok := m.accountBase[accountID]; ok {
		return d
	}
	if d, ok := m.actionBase[action]; ok {
		return d
	}
	return m.cfg.Default
}

// effectiveLocked scales the base cooldown by min(2^failures, MaxBackoff).
func (m *Manager) effectiveLocked(accountID string, action policy.ActionType) time.Duration {
	base := m.baseLocked(accountID, action)
	mult := 1.0
	for i := 0; i < m.failures[accountID]; i++ {
		mult *= 2
		if mult >= m.cfg.MaxBackoff {
			mult = m.cfg.MaxBackoff
			break
		}
	}
	return time.Duration(float64(base) * mult)
}

// CanExecute reports whether every scope's cooldown has elapsed. When any
// scope is still cooling, it returns the largest outstanding wait across
// all violated scopes.
func (m *Manager) CanExecute(accountID string, action policy.ActionType) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cd := m.effectiveLocked(accountID, action)

	var wait time.Duration
	check := func(last time.Time) {
		if last.IsZero() {
			return
		}
		if left := cd - now.Sub(last); left > wait {
			wait = left
		}
	}
	check(m.lastGlobal)
	check(m.lastAccount[accountID])
	check(m.lastAction[action])
	check(m.lastPair[scopeKey{accountID, action}])

	if wait > 0 {
		return false, wait
	}
	return true, 0
}

// RecordAction stamps the current time into all four scopes and updates
// the account's consecutive failure count: reset on success, incremented
// on failure. All updates happen under one lock acquisition.
func (m *Manager) RecordAction(accountID string, action policy.ActionType, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.lastGlobal = now
	m.lastAccount[accountID] = now
	m.lastAction[action] = now
	m.lastPair[scopeKey{accountID, action}] = now

	if success {
		delete(m.failures, accountID)
		return
	}
	m.failures[accountID]++
	m.log.Debug("consecutive failure recorded",
		logx.String("account", accountID),
		logx.String("action", string(action)),
		logx.Int("failures", m.failures[accountID]))
}

// FailureCount returns the account's current consecutive failure count.
func (m *Manager) FailureCount(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[accountID]
}

// WaitForCooldown blocks until the action is admitted or maxWait
// elapses. It sleeps in bounded increments and re-checks, since other
// actions recorded meanwhile can extend the wait. Returns false on
// timeout or ctx cancel.
func (m *Manager) WaitForCooldown(ctx context.Context, accountID string, action policy.ActionType, maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for {
		ok, wait := m.CanExecute(accountID, action)
		if ok {
			return true
		}
		left := time.Until(deadline)
		if left <= 0 {
			m.log.Debug("cooldown wait timed out",
				logx.String("account", accountID),
				logx.Duration("remaining", wait))
			return false
		}
		if wait > maxSleep {
			wait = maxSleep
		}
		if wait > left {
			wait = left
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// SweepInactive drops per-account and per-pair state for accounts whose
// last action is older than the cutoff. Returns the number of accounts
// evicted.
func (m *Manager) SweepInactive(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-olderThan)
	evicted := 0
	for id, last := range m.lastAccount {
		if !last.Before(cutoff) {
			continue
		}
		delete(m.lastAccount, id)
		delete(m.failures, id)
		delete(m.accountBase, id)
		for k := range m.lastPair {
			if k.account == id {
				delete(m.lastPair, k)
			}
		}
		evicted++
	}
	if evicted > 0 {
		m.log.Debug("swept inactive cooldown state", logx.Int("accounts", evicted))
	}
	return evicted
}
