package health

import (
	"math"
	"testing"
	"time"

	logx "warden/pkg/logx"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScoreSingleMetric(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	m.RecordMetric("acct", "login", 0.6, 2.0)
	if got := m.Score("acct"); !almostEqual(got, 0.6) {
		t.Fatalf("Score = %v, want 0.6", got)
	}
}

func TestScoreWeightedAverage(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	m.RecordMetric("acct", "a", 1.0, 1.0)
	m.RecordMetric("acct", "b", 0.0, 1.0)
	if got := m.Score("acct"); !almostEqual(got, 0.5) {
		t.Fatalf("Score = %v, want 0.5", got)
	}
}

func TestScoreDefaultsOptimistic(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	if got := m.Score("unknown"); got != 1.0 {
		t.Fatalf("Score = %v, want 1.0", got)
	}
	if got := m.StatusOf("unknown"); got != StatusGood {
		t.Fatalf("StatusOf = %v, want good", got)
	}
}

func TestStatusThresholds(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	tests := []struct {
		name  string
		value float64
		want  Status
	}{
		{name: "excellent", value: 0.95, want: StatusExcellent},
		{name: "good", value: 0.75, want: StatusGood},
		{name: "fair", value: 0.55, want: StatusFair},
		{name: "poor", value: 0.35, want: StatusPoor},
		{name: "critical", value: 0.1, want: StatusCritical},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m.RecordMetric(tt.name, "m", tt.value, 1.0)
			if got := m.StatusOf(tt.name); got != tt.want {
				t.Fatalf("StatusOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValueClamped(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	m.RecordMetric("acct", "m", 5.0, 1.0)
	if got := m.Score("acct"); got != 1.0 {
		t.Fatalf("Score = %v, want 1.0 after clamp", got)
	}
	m.RecordMetric("neg", "m", -3.0, 1.0)
	if got := m.Score("neg"); got != 0.0 {
		t.Fatalf("Score = %v, want 0.0 after clamp", got)
	}
}

func TestRetentionPruning(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	now := time.Now()
	m.SetClock(func() time.Time { return now })
	m.RecordMetric("acct", "old", 0.0, 1.0)

	now = now.Add(25 * time.Hour)
	m.RecordMetric("acct", "fresh", 1.0, 1.0)
	if got := m.Score("acct"); got != 1.0 {
		t.Fatalf("Score = %v, want 1.0 after old metric expired", got)
	}
}

func TestConvenienceEmitters(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	m.RecordSuccess("acct", "like_api")
	m.RecordRateLimit("acct")

	// (1.0*0.5 + 0.3*1.5) / (0.5 + 1.5) = 0.475
	if got := m.Score("acct"); !almostEqual(got, 0.475) {
		t.Fatalf("Score = %v, want 0.475", got)
	}
	if m.IsHealthy("acct", 0.5) {
		t.Fatal("IsHealthy(0.5) = true, want false")
	}
	if !m.IsHealthy("acct", 0.3) {
		t.Fatal("IsHealthy(0.3) = false, want true")
	}
}

func TestMetricsSummary(t *testing.T) {
	t.Parallel()
	m := NewMonitor(logx.Nop())

	m.RecordMetric("acct", "login", 1.0, 1.0)
	m.RecordMetric("acct", "login", 0.0, 1.0)
	m.RecordMetric("acct", "post", 0.8, 2.0)

	s := m.MetricsSummary("acct")
	if s.MetricCount != 3 {
		t.Fatalf("MetricCount = %d, want 3", s.MetricCount)
	}
	if got := s.Metrics["login"]; !almostEqual(got, 0.5) {
		t.Fatalf("login avg = %v, want 0.5", got)
	}
	if got := s.Metrics["post"]; !almostEqual(got, 0.8) {
		t.Fatalf("post avg = %v, want 0.8", got)
	}
}
