package policy

import (
	"testing"
	"time"
)

func TestAssessActionRiskWarmupGate(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	for _, action := range e.Actions() {
		action := action
		t.Run(string(action), func(t *testing.T) {
			p, ok := e.Profile(action)
			if !ok {
				t.Fatalf("Profile(%s) missing", action)
			}

			if p.WarmupDays > 0 {
				got := e.AssessActionRisk(action, p.WarmupDays-1, 1.0)
				if got.Allowed {
					t.Fatalf("Allowed = true with %d warmup days, want denial", p.WarmupDays-1)
				}
				if got.Reason != "insufficient_warmup" {
					t.Fatalf("Reason = %q, want insufficient_warmup", got.Reason)
				}
			}

			got := e.AssessActionRisk(action, p.WarmupDays, 1.0)
			if !got.Allowed {
				t.Fatalf("Allowed = false with sufficient warmup, reason %q", got.Reason)
			}
			if got.EffectiveRisk != 1.0 {
				t.Fatalf("EffectiveRisk = %v, want 1.0", got.EffectiveRisk)
			}
		})
	}
}

func TestAssessActionRiskUnknown(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	got := e.AssessActionRisk("teleport", 30, 1.0)
	if got.Allowed {
		t.Fatal("unknown action must fail closed")
	}
	if got.Reason != "unknown_action_type" {
		t.Fatalf("Reason = %q, want unknown_action_type", got.Reason)
	}
}

func TestEffectiveRiskFloor(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	got := e.AssessActionRisk(ActionFeedScroll, 7, 0.1)
	if !got.Allowed {
		t.Fatalf("unexpected denial: %q", got.Reason)
	}
	if got.EffectiveRisk != 0.5 {
		t.Fatalf("EffectiveRisk = %v, want floor 0.5", got.EffectiveRisk)
	}
}

func TestRecommendedCooldown(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	tests := []struct {
		name   string
		action ActionType
		health float64
		want   time.Duration
	}{
		{name: "healthy keeps base", action: ActionFollow, health: 1.0, want: 60 * time.Second},
		{name: "unhealthy doubles", action: ActionFollow, health: 0.0, want: 120 * time.Second},
		{name: "half health", action: ActionLikeAPI, health: 0.5, want: 7500 * time.Millisecond},
		{name: "unknown conservative", action: "teleport", health: 1.0, want: 5 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := e.RecommendedCooldown(tt.action, tt.health); got != tt.want {
				t.Fatalf("RecommendedCooldown = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecommendedDailyLimit(t *testing.T) {
	t.Parallel()
	e := NewEngine()

	tests := []struct {
		name   string
		action ActionType
		days   int
		health float64
		want   int
	}{
		{name: "pre warmup is zero", action: ActionFollow, days: 3, health: 1.0, want: 0},
		{name: "full ramp", action: ActionFollow, days: 7, health: 1.0, want: 50},
		{name: "partial ramp", action: ActionLikeAPI, days: 3, health: 1.0, want: 42},
		{name: "health halves", action: ActionFollow, days: 7, health: 0.2, want: 25},
		{name: "floored at one", action: ActionPostMedia, days: 0, health: 0.0, want: 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := e.RecommendedDailyLimit(tt.action, tt.days, tt.health); got != tt.want {
				t.Fatalf("RecommendedDailyLimit = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEngineOverride(t *testing.T) {
	t.Parallel()
	e := NewEngine(Profile{
		Action:      ActionFollow,
		Risk:        RiskMedium,
		MinCooldown: 10 * time.Second,
		DailyLimit:  5,
		WarmupDays:  1,
		Method:      MethodAPI,
	})

	p, ok := e.Profile(ActionFollow)
	if !ok {
		t.Fatal("override profile missing")
	}
	if p.Risk != RiskMedium || p.DailyLimit != 5 || p.WarmupDays != 1 {
		t.Fatalf("override not applied: %+v", p)
	}
}
