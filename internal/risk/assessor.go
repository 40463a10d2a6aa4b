// Package risk combines the policy, health, throttle, daily-limit and
// pattern checks into one admission decision with a numeric risk score.
package risk

import (
	"sync"

	"warden/internal/dailylimit"
	"warden/internal/health"
	"warden/internal/pattern"
	"warden/internal/policy"
	"warden/internal/throttle"
	logx "warden/pkg/logx"
)

// minHealthScore is the hard floor below which no action is admitted,
// independent of the policy engine's softer health scaling.
const minHealthScore = 0.3

// Assessment is one composite admission decision.
type Assessment struct {
	Allowed         bool
	Reasons         []string
	RiskScore       float64
	RiskLevel       policy.RiskLevel
	HealthScore     float64
	Policy          policy.Assessment
	Patterns        []string
	Recommendations []string
}

// Assessor evaluates an (account, action, warmup day) triple against
// every safety component. It holds no state of its own beyond counters.
type Assessor struct {
	log      logx.Logger
	policy   *policy.Engine
	health   *health.Monitor
	throttle *throttle.Throttler
	limits   *dailylimit.Tracker
	patterns *pattern.Detector

	mu       sync.Mutex
	assessed int
	denied   int
}

func NewAssessor(
	log logx.Logger,
	pe *policy.Engine,
	hm *health.Monitor,
	th *throttle.Throttler,
	dl *dailylimit.Tracker,
	pd *pattern.Detector,
) *Assessor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Assessor{
		log:      log,
		policy:   pe,
		health:   hm,
		throttle: th,
		limits:   dl,
		patterns: pd,
	}
}

// AssessActionRisk runs every sub-check and combines them. Denials are
// normal return values; nothing here raises.
func (a *Assessor) AssessActionRisk(accountID string, action policy.ActionType, warmupDays int) Assessment {
	healthScore := a.health.Score(accountID)
	pol := a.policy.AssessActionRisk(action, warmupDays, healthScore)
	throttleOK, throttleReason := a.throttle.CanExecute(accountID, action)
	limitOK, limitReason := a.limits.CanExecute(accountID, action)
	pat := a.patterns.CheckPatterns(accountID)

	out := Assessment{
		HealthScore: healthScore,
		Policy:      pol,
		Patterns:    pat.Patterns,
	}

	if !pol.Allowed {
		out.Reasons = append(out.Reasons, pol.Reason)
	}
	if !throttleOK {
		out.Reasons = append(out.Reasons, throttleReason)
	}
	if !limitOK {
		out.Reasons = append(out.Reasons, limitReason)
	}
	if pat.Suspicious {
		out.Reasons = append(out.Reasons, "abnormal_pattern")
	}
	if healthScore < minHealthScore {
		out.Reasons = append(out.Reasons, "health_below_minimum")
	}
	out.Allowed = len(out.Reasons) == 0

	score := baseScore(a.policy, action)
	score += (1 - healthScore) * 0.3
	if pat.Suspicious {
		score += 0.2
	}
	if !throttleOK || !limitOK {
		score += 0.1
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	out.RiskScore = score
	out.RiskLevel = scoreToLevel(score)
	out.Recommendations = recommend(pol, throttleOK, limitOK, pat.Suspicious, healthScore)

	a.mu.Lock()
	a.assessed++
	if !out.Allowed {
		a.denied++
	}
	a.mu.Unlock()

	if !out.Allowed {
		a.log.Debug("action denied",
			logx.String("account", accountID),
			logx.String("action", string(action)),
			logx.Any("reasons", out.Reasons),
			logx.Float64("risk", out.RiskScore))
	}
	return out
}

// baseScore maps the action's static risk level to a starting score.
// Unknown actions score as very high risk.
func baseScore(pe *policy.Engine, action policy.ActionType) float64 {
	p, ok := pe.Profile(action)
	if !ok {
		return 0.9
	}
	switch p.Risk {
	case policy.RiskVeryLow:
		return 0.1
	case policy.RiskLow:
		return 0.3
	case policy.RiskMedium:
		return 0.5
	case policy.RiskHigh:
		return 0.7
	default:
		return 0.9
	}
}

func scoreToLevel(score float64) policy.RiskLevel {
	switch {
	case score >= 0.8:
		return policy.RiskVeryHigh
	case score >= 0.6:
		return policy.RiskHigh
	case score >= 0.4:
		return policy.RiskMedium
	case score >= 0.2:
		return policy.RiskLow
	default:
		return policy.RiskVeryLow
	}
}

// recommend derives a fixed, ordered advice list from the failed checks.
func recommend(pol policy.Assessment, throttleOK, limitOK, suspicious bool, healthScore float64) []string {
	var out []string
	if !pol.Allowed {
		switch pol.Reason {
		case "unknown_action_type":
			out = append(out, "register the action type before scheduling it")
		case "insufficient_warmup":
			out = append(out, "continue warmup before attempting this action")
		}
	}
	if !throttleOK {
		out = append(out, "reduce action rate or wait for the throttle window to clear")
	}
	if !limitOK {
		out = append(out, "daily limit reached, retry after the date rolls over")
	}
	if suspicious {
		out = append(out, "vary action timing and mix action types")
	}
	if healthScore < minHealthScore {
		out = append(out, "pause activity until account health recovers")
	} else if healthScore < 0.7 {
		out = append(out, "slow down while account health is degraded")
	}
	if len(out) == 0 {
		out = append(out, "proceed with recommended cooldown")
	}
	return out
}

// Counters reports how many assessments ran and how many were denied.
func (a *Assessor) Counters() (assessed, denied int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assessed, a.denied
}
