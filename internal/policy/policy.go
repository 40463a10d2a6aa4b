// Package policy holds the static per-action risk table and the
// warmup/health-adjusted recommendations derived from it.
package policy

import (
	"time"
)

// ActionType identifies an automated action an account can perform.
type ActionType string

const (
	// API-backed actions (lower risk).
	ActionPostMedia  ActionType = "post_media"
	ActionLikeAPI    ActionType = "like_api"
	ActionCommentAPI ActionType = "comment_api"
	ActionDMSendAPI  ActionType = "dm_send_api"

	// Browser-backed actions (higher risk).
	ActionLikeBrowser    ActionType = "like_browser"
	ActionCommentBrowser ActionType = "comment_browser"
	ActionFollow         ActionType = "follow"
	ActionUnfollow       ActionType = "unfollow"
	ActionStoryView      ActionType = "story_view"
	ActionDMSendBrowser  ActionType = "dm_send_browser"
	ActionFeedScroll     ActionType = "feed_scroll"
	ActionProfileView    ActionType = "profile_view"
)

type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "very_low"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// ExecMethod is the preferred execution surface for an action.
type ExecMethod string

const (
	MethodAPI     ExecMethod = "api"
	MethodBrowser ExecMethod = "browser"
)

// Profile is the immutable risk profile for one action type.
type Profile struct {
	Action      ActionType
	Risk        RiskLevel
	MinCooldown time.Duration
	DailyLimit  int
	WarmupDays  int
	Method      ExecMethod
}

// defaultProfiles is the built-in risk table.
// Cooldowns and limits are deliberately conservative for browser actions.
var defaultProfiles = []Profile{
	{Action: ActionPostMedia, Risk: RiskLow, MinCooldown: 60 * time.Second, DailyLimit: 10, WarmupDays: 0, Method: MethodAPI},
	{Action: ActionLikeAPI, Risk: RiskLow, MinCooldown: 5 * time.Second, DailyLimit: 100, WarmupDays: 3, Method: MethodAPI},
	{Action: ActionLikeBrowser, Risk: RiskHigh, MinCooldown: 10 * time.Second, DailyLimit: 80, WarmupDays: 5, Method: MethodBrowser},
	{Action: ActionCommentAPI, Risk: RiskMedium, MinCooldown: 30 * time.Second, DailyLimit: 20, WarmupDays: 5, Method: MethodAPI},
	{Action: ActionCommentBrowser, Risk: RiskVeryHigh, MinCooldown: 60 * time.Second, DailyLimit: 15, WarmupDays: 6, Method: MethodBrowser},
	{Action: ActionFollow, Risk: RiskVeryHigh, MinCooldown: 60 * time.Second, DailyLimit: 50, WarmupDays: 7, Method: MethodBrowser},
	{Action: ActionUnfollow, Risk: RiskHigh, MinCooldown: 300 * time.Second, DailyLimit: 50, WarmupDays: 7, Method: MethodBrowser},
	{Action: ActionStoryView, Risk: RiskMedium, MinCooldown: 5 * time.Second, DailyLimit: 100, WarmupDays: 1, Method: MethodBrowser},
	{Action: ActionDMSendAPI, Risk: RiskMedium, MinCooldown: 120 * time.Second, DailyLimit: 30, WarmupDays: 5, Method: MethodAPI},
	{Action: ActionDMSendBrowser, Risk: RiskHigh, MinCooldown: 180 * time.Second, DailyLimit: 20, WarmupDays: 6, Method: MethodBrowser},
	{Action: ActionFeedScroll, Risk: RiskVeryLow, MinCooldown: 2 * time.Second, DailyLimit: 200, WarmupDays: 1, Method: MethodBrowser},
	{Action: ActionProfileView, Risk: RiskVeryLow, MinCooldown: 3 * time.Second, DailyLimit: 150, WarmupDays: 1, Method: MethodBrowser},
}

// Assessment is the result of a policy check.
// Denials are normal values, never errors: an unknown action type fails
// closed with Reason "unknown_action_type".
type Assessment struct {
	Allowed bool
	Reason  string

	Risk        RiskLevel
	MinCooldown time.Duration
	DailyLimit  int
	Method      ExecMethod

	// EffectiveRisk is a caution multiplier derived from account health;
	// it never drops below 0.5.
	EffectiveRisk float64

	RequiredWarmupDays int
	WarmupDays         int
}

// Engine resolves action types to risk profiles.
// The table is fixed at construction; Engine is safe for concurrent use.
type Engine struct {
	profiles map[ActionType]Profile
}

// NewEngine builds an engine from the default table, with optional
// per-action overrides.
func NewEngine(overrides ...Profile) *Engine {
	m := make(map[ActionType]Profile, len(defaultProfiles))
	for _, p := range defaultProfiles {
		m[p.Action] = p
	}
	for _, p := range overrides {
		if p.Action == "" {
			continue
		}
		m[p.Action] = p
	}
	return &Engine{profiles: m}
}

// Profile returns the risk profile for an action type.
func (e *Engine) Profile(action ActionType) (Profile, bool) {
	p, ok := e.profiles[action]
	return p, ok
}

// Actions returns every registered action type.
func (e *Engine) Actions() []ActionType {
	out := make([]ActionType, 0, len(e.profiles))
	for a := range e.profiles {
		out = append(out, a)
	}
	return out
}

// AssessActionRisk checks an action against its profile.
//
// Unregistered action types fail closed. Accounts that have not completed
// the profile's required warmup days are denied with "insufficient_warmup".
// healthScore is clamped into the effective-risk multiplier so that good
// health can never reduce caution below half strength.
func (e *Engine) AssessActionRisk(action ActionType, warmupDays int, healthScore float64) Assessment {
	p, ok := e.profiles[action]
	if !ok {
		return Assessment{
			Allowed: false,
			Reason:  "unknown_action_type",
			Risk:    RiskVeryHigh,
		}
	}

	if warmupDays < p.WarmupDays {
		return Assessment{
			Allowed:            false,
			Reason:             "insufficient_warmup",
			Risk:               p.Risk,
			RequiredWarmupDays: p.WarmupDays,
			WarmupDays:         warmupDays,
		}
	}

	return Assessment{
		Allowed:            true,
		Risk:               p.Risk,
		MinCooldown:        p.MinCooldown,
		DailyLimit:         p.DailyLimit,
		Method:             p.Method,
		EffectiveRisk:      maxFloat(0.5, healthScore),
		RequiredWarmupDays: p.WarmupDays,
		WarmupDays:         warmupDays,
	}
}

// PreferAPI reports whether the action should run through the API surface.
// Unknown actions default to browser.
func (e *Engine) PreferAPI(action ActionType) bool {
	p, ok := e.profiles[action]
	if !ok {
		return false
	}
	return p.Method == MethodAPI
}

// RecommendedCooldown scales the profile cooldown by account health:
// a fully healthy account gets the base cooldown, an unhealthy one up to 2x.
// Unknown actions get a conservative 5 minutes.
func (e *Engine) RecommendedCooldown(action ActionType, healthScore float64) time.Duration {
	p, ok := e.profiles[action]
	if !ok {
		return 5 * time.Minute
	}
	mult := maxFloat(1.0, 2.0-healthScore)
	return time.Duration(float64(p.MinCooldown) * mult)
}

// RecommendedDailyLimit ramps the profile limit linearly over the first 7
// warmup days, scaled down by poor health, floored at 1. Before the warmup
// requirement is met the limit is 0.
func (e *Engine) RecommendedDailyLimit(action ActionType, warmupDays int, healthScore float64) int {
	p, ok := e.profiles[action]
	if !ok {
		return 10
	}
	if warmupDays < p.WarmupDays {
		return 0
	}

	warmupFactor := minFloat(1.0, float64(warmupDays)/7.0)
	adjusted := int(float64(p.DailyLimit) * warmupFactor)

	healthFactor := maxFloat(0.5, healthScore)
	limit := int(float64(adjusted) * healthFactor)

	if limit < 1 {
		limit = 1
	}
	return limit
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
