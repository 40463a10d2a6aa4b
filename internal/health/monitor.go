// Package health aggregates weighted metrics into a per-account health
// score. Scores feed the policy engine's recommendations and the risk
// assessor's hard floor.
package health

import (
	"sync"
	"time"

	"warden/internal/policy"
	logx "warden/pkg/logx"
)

// Status buckets a health score for human consumption.
type Status string

const (
	StatusExcellent Status = "excellent" // >= 0.9
	StatusGood      Status = "good"      // >= 0.7
	StatusFair      Status = "fair"      // >= 0.5
	StatusPoor      Status = "poor"      // >= 0.3
	StatusCritical  Status = "critical"
)

// retention is how long a recorded metric contributes to the score.
const retention = 24 * time.Hour

type metric struct {
	name   string
	value  float64 // clamped to [0,1]
	weight float64
	at     time.Time
}

// Monitor tracks health metrics per account.
//
// An account with no retained metrics is optimistically healthy
// (score 1.0, StatusGood). All methods are safe for concurrent use;
// state is guarded by one mutex.
type Monitor struct {
	mu  sync.Mutex
	log logx.Logger
	now func() time.Time

	metrics  map[string][]metric
	scores   map[string]float64
	statuses map[string]Status
}

func NewMonitor(log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Monitor{
		log:      log,
		now:      time.Now,
		metrics:  map[string][]metric{},
		scores:   map[string]float64{},
		statuses: map[string]Status{},
	}
}

// SetClock overrides the monitor's clock. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// RecordMetric appends a metric sample (value clamped to [0,1]), prunes
// samples older than 24 hours, and recomputes the weighted score.
func (m *Monitor) RecordMetric(accountID, name string, value, weight float64) {
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ms := append(m.metrics[accountID], metric{name: name, value: value, weight: weight, at: now})

	// Prune outside the retention window.
	cutoff := now.Add(-retention)
	n := 0
	for _, x := range ms {
		if x.at.Before(cutoff) {
			continue
		}
		ms[n] = x
		n++
	}
	m.metrics[accountID] = ms[:n]

	m.recalcLocked(accountID)
}

// RecordSuccess records a successful action (value 1.0, weight 0.5).
func (m *Monitor) RecordSuccess(accountID string, action policy.ActionType) {
	m.RecordMetric(accountID, string(action)+"_success_rate", 1.0, 0.5)
}

// RecordFailure records a failed action (value 0.0, weight 0.5) and,
// when errType is non-empty, a full-weight error metric.
func (m *Monitor) RecordFailure(accountID string, action policy.ActionType, errType string) {
	m.RecordMetric(accountID, string(action)+"_success_rate", 0.0, 0.5)
	if errType != "" {
		m.RecordMetric(accountID, "error_"+errType, 0.0, 1.0)
	}
}

// RecordRateLimit records a rate-limit hit. The penalty weight is larger
// than a plain failure: hitting upstream limits is a strong distress signal.
func (m *Monitor) RecordRateLimit(accountID string) {
	m.RecordMetric(accountID, "rate_limit_hits", 0.3, 1.5)
}

func (m *Monitor) recalcLocked(accountID string) {
	ms := m.metrics[accountID]
	if len(ms) == 0 {
		m.scores[accountID] = 1.0
		m.statuses[accountID] = StatusGood
		return
	}

	var sum, weight float64
	for _, x := range ms {
		sum += x.value * x.weight
		weight += x.weight
	}
	score := 1.0
	if weight > 0 {
		score = sum / weight
	}

	m.scores[accountID] = score
	m.statuses[accountID] = statusFor(score)

	m.log.Debug("health score calculated",
		logx.String("account", accountID),
		logx.Float64("score", score),
		logx.String("status", string(statusFor(score))),
		logx.Int("metrics", len(ms)),
	)
}

func statusFor(score float64) Status {
	switch {
	case score >= 0.9:
		return StatusExcellent
	case score >= 0.7:
		return StatusGood
	case score >= 0.5:
		return StatusFair
	case score >= 0.3:
		return StatusPoor
	default:
		return StatusCritical
	}
}

// Score returns the current health score for an account (1.0 if unknown).
func (m *Monitor) Score(accountID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scores[accountID]
	if !ok {
		return 1.0
	}
	return s
}

// StatusOf returns the current health status (StatusGood if unknown).
func (m *Monitor) StatusOf(accountID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[accountID]
	if !ok {
		return StatusGood
	}
	return st
}

// IsHealthy reports whether the account's score meets minScore.
func (m *Monitor) IsHealthy(accountID string, minScore float64) bool {
	return m.Score(accountID) >= minScore
}

// Summary is an aggregated view of an account's retained metrics.
type Summary struct {
	AccountID   string
	Score       float64
	Status      Status
	Metrics     map[string]float64 // weighted average per metric name
	MetricCount int
}

// MetricsSummary aggregates retained metrics by name.
func (m *Monitor) MetricsSummary(accountID string) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := m.metrics[accountID]
	out := Summary{
		AccountID: accountID,
		Score:     1.0,
		Status:    StatusGood,
		Metrics:   map[string]float64{},
	}
	if s, ok := m.scores[accountID]; ok {
		out.Score = s
	}
	if st, ok := m.statuses[accountID]; ok {
		out.Status = st
	}
	if len(ms) == 0 {
		return out
	}

	type agg struct{ sum, weight float64 }
	byName := map[string]*agg{}
	for _, x := range ms {
		a := byName[x.name]
		if a == nil {
			a = &agg{}
			byName[x.name] = a
		}
		a.sum += x.value * x.weight
		a.weight += x.weight
	}
	for name, a := range byName {
		if a.weight > 0 {
			out.Metrics[name] = a.sum / a.weight
		}
	}
	out.MetricCount = len(ms)
	return out
}
