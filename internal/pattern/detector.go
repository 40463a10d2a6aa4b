// Package pattern runs heuristics over recent per-account action history
// to flag automation-like behavior: velocity bursts, action repetition,
// and suspiciously regular timing.
package pattern

import (
	"math"
	"sync"
	"time"

	"warden/internal/policy"
	logx "warden/pkg/logx"
)

// Config tunes the detection heuristics. Zero fields fall back to
// defaults.
type Config struct {
	Window              time.Duration
	MaxHistory          int
	VelocityPerMinute   float64
	RepetitionThreshold int
	TimingCV            float64
	TimingMeanSeconds   float64
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 1000
	}
	if c.VelocityPerMinute <= 0 {
		c.VelocityPerMinute = 50
	}
	if c.RepetitionThreshold <= 0 {
		c.RepetitionThreshold = 10
	}
	if c.TimingCV <= 0 {
		c.TimingCV = 0.1
	}
	if c.TimingMeanSeconds <= 0 {
		c.TimingMeanSeconds = 10
	}
	return c
}

// minSpanMinutes floors the velocity denominator so near-simultaneous
// actions don't produce an unbounded rate.
const minSpanMinutes = 0.1

type entry struct {
	at     time.Time
	action policy.ActionType
}

// Report is the outcome of one detection pass.
type Report struct {
	Suspicious bool
	Patterns   []string
}

// Detector keeps a bounded recent-action history per account and checks
// it against the configured heuristics.
type Detector struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	now func() time.Time

	history map[string][]entry
}

func NewDetector(cfg Config, log logx.Logger) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Detector{
		cfg:     cfg.withDefaults(),
		log:     log,
		now:     time.Now,
		history: map[string][]entry{},
	}
}

// SetClock overrides the detector's clock. Intended for tests.
func (d *Detector) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

// RecordAction appends the action to the account's history, pruning
// entries outside the window and trimming to the history cap.
func (d *Detector) RecordAction(accountID string, action policy.ActionType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	h := d.pruneLocked(accountID, now)
	h = append(h, entry{at: now, action: action})
	if len(h) > d.cfg.MaxHistory {
		h = h[len(h)-d.cfg.MaxHistory:]
	}
	d.history[accountID] = h
}

// CheckPatterns runs all heuristics over the account's in-window history.
func (d *Detector) CheckPatterns(accountID string) Report {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	h := d.pruneLocked(accountID, now)
	d.history[accountID] = h

	var found []string
	if d.velocityLocked(h) {
		found = append(found, "high_velocity")
	}
	if d.repetitionLocked(h) {
		found = append(found, "action_repetition")
	}
	if d.timingLocked(h) {
		found = append(found, "regular_timing")
	}

	if len(found) > 0 {
		d.log.Debug("suspicious patterns detected",
			logx.String("account", accountID),
			logx.Any("patterns", found))
	}
	return Report{Suspicious: len(found) > 0, Patterns: found}
}

// IsSuspicious is CheckPatterns reduced to its verdict.
func (d *Detector) IsSuspicious(accountID string) bool {
	return d.CheckPatterns(accountID).Suspicious
}

func (d *Detector) pruneLocked(accountID string, now time.Time) []entry {
	cutoff := now.Add(-d.cfg.Window)
	h := d.history[accountID]
	n := 0
	for _, e := range h {
		if e.at.Before(cutoff) {
			continue
		}
		h[n] = e
		n++
	}
	return h[:n]
}

// velocityLocked flags histories whose per-minute rate over the observed
// span exceeds the threshold. Needs at least two entries.
func (d *Detector) velocityLocked(h []entry) bool {
	if len(h) < 2 {
		return false
	}
	span := h[len(h)-1].at.Sub(h[0].at).Minutes()
	if span < minSpanMinutes {
		span = minSpanMinutes
	}
	return float64(len(h))/span > d.cfg.VelocityPerMinute
}

// repetitionLocked flags the trailing run when the last threshold-many
// actions are all the same type.
func (d *Detector) repetitionLocked(h []entry) bool {
	n := d.cfg.RepetitionThreshold
	if len(h) < n {
		return false
	}
	tail := h[len(h)-n:]
	first := tail[0].action
	for _, e := range tail[1:] {
		if e.action != first {
			return false
		}
	}
	return true
}

// timingLocked flags inter-action gaps that are both short and uniform:
// mean below the threshold and coefficient of variation below the cutoff,
// over at least three intervals.
func (d *Detector) timingLocked(h []entry) bool {
	if len(h) < 4 {
		return false
	}
	intervals := make([]float64, 0, len(h)-1)
	for i := 1; i < len(h); i++ {
		intervals = append(intervals, h[i].at.Sub(h[i-1].at).Seconds())
	}

	mean := 0.0
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))
	if mean <= 0 || mean >= d.cfg.TimingMeanSeconds {
		return false
	}

	variance := 0.0
	for _, v := range intervals {
		dv := v - mean
		variance += dv * dv
	}
	variance /= float64(len(intervals))

	return math.Sqrt(variance)/mean < d.cfg.TimingCV
}

// SweepInactive drops history for accounts with no in-window entries
// whose newest entry is older than the cutoff. Returns the number of
// accounts evicted.
func (d *Detector) SweepInactive(olderThan time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-olderThan)
	evicted := 0
	for id, h := range d.history {
		if len(h) > 0 && !h[len(h)-1].at.Before(cutoff) {
			continue
		}
		delete(d.history, id)
		evicted++
	}
	if evicted > 0 {
		d.log.Debug("swept inactive pattern history", logx.Int("accounts", evicted))
	}
	return evicted
}
