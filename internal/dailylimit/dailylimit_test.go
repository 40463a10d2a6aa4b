package dailylimit

import (
	"testing"
	"time"

	"warden/internal/policy"
	logx "warden/pkg/logx"
)

func newTestTracker(cfg Config) (*Tracker, *time.Time) {
	tr := NewTracker(cfg, logx.Nop())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tr.SetClock(func() time.Time { return now })
	return tr, &now
}

func TestLimitReached(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(Config{DefaultPerAction: 3})

	for i := 0; i < 3; i++ {
		ok, reason := tr.CanExecute("a", "like_api")
		if !ok {
			t.Fatalf("action %d denied: %s", i, reason)
		}
		tr.RecordAction("a", "like_api")
	}

	ok, reason := tr.CanExecute("a", "like_api")
	if ok {
		t.Fatal("expected denial at limit")
	}
	if reason != "daily_limit_reached_like_api" {
		t.Fatalf("reason = %q, want daily_limit_reached_like_api", reason)
	}

	// Other action types are unaffected.
	if ok, _ := tr.CanExecute("a", "follow"); !ok {
		t.Fatal("follow should still be admitted")
	}
}

func TestDateRolloverResets(t *testing.T) {
	t.Parallel()
	tr, now := newTestTracker(Config{DefaultPerAction: 1})

	tr.RecordAction("a", "like_api")
	if ok, _ := tr.CanExecute("a", "like_api"); ok {
		t.Fatal("expected denial before rollover")
	}

	// Just past midnight counts as a new day regardless of elapsed time.
	*now = time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)
	if ok, reason := tr.CanExecute("a", "like_api"); !ok {
		t.Fatalf("denied after rollover: %s", reason)
	}
	if got := tr.Remaining("a", "like_api"); got != 1 {
		t.Fatalf("Remaining = %d after rollover, want 1", got)
	}
}

func TestLimitPrecedence(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(Config{DefaultPerAction: 100})
	tr.SetAccountLimit("a", 50)
	tr.SetActionLimit("follow", 20)
	tr.SetLimitOverride("a", "follow", 5)

	tests := []struct {
		name    string
		account string
		action  string
		want    int
	}{
		{name: "override wins", account: "a", action: "follow", want: 5},
		{name: "action beats account", account: "b", action: "follow", want: 20},
		{name: "account beats default", account: "a", action: "like_api", want: 50},
		{name: "default", account: "b", action: "like_api", want: 100},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := tr.Remaining(tt.account, policy.ActionType(tt.action))
			if got != tt.want {
				t.Fatalf("Remaining = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDailyStats(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(Config{DefaultPerAction: 10})

	tr.RecordAction("a", "like_api")
	tr.RecordAction("a", "like_api")
	tr.RecordAction("a", "follow")

	st := tr.DailyStats("a")
	if st.Total != 3 {
		t.Fatalf("Total = %d, want 3", st.Total)
	}
	if st.ByType["like_api"] != 2 || st.ByType["follow"] != 1 {
		t.Fatalf("ByType = %v", st.ByType)
	}
	if st.Limits["like_api"] != 10 {
		t.Fatalf("Limits = %v", st.Limits)
	}
	if st.Date != "2026-03-10" {
		t.Fatalf("Date = %q", st.Date)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker(Config{DefaultPerAction: 1})

	tr.RecordAction("a", "like_api")
	tr.RecordAction("a", "like_api")
	if got := tr.Remaining("a", "like_api"); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}

func TestSweepInactive(t *testing.T) {
	t.Parallel()
	tr, now := newTestTracker(Config{DefaultPerAction: 10})

	tr.RecordAction("stale", "like_api")
	*now = now.Add(96 * time.Hour)
	tr.RecordAction("fresh", "like_api")

	if got := tr.SweepInactive(72 * time.Hour); got != 1 {
		t.Fatalf("SweepInactive = %d, want 1", got)
	}
}
