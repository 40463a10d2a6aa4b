package state

import (
	"context"
	"testing"
	"time"

	"warden/internal/storage"
	logx "warden/pkg/logx"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	m := NewManager(st, logx.Nop())
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	return m, &now
}

func TestStartWarmup(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	if got := m.GetWarmupDay("a"); got != 0 {
		t.Fatalf("GetWarmupDay = %d before start, want 0", got)
	}
	if got := m.GetAccountState("a"); got != StateInactive {
		t.Fatalf("GetAccountState = %v, want inactive", got)
	}

	m.StartWarmup(ctx, "a")
	if got := m.GetWarmupDay("a"); got != 1 {
		t.Fatalf("GetWarmupDay = %d, want 1", got)
	}
	if got := m.GetAccountState("a"); got != AccountState("warmup_day_1") {
		t.Fatalf("GetAccountState = %v, want warmup_day_1", got)
	}

	// Restarting is a no-op.
	m.StartWarmup(ctx, "a")
	if got := m.GetWarmupDay("a"); got != 1 {
		t.Fatalf("GetWarmupDay = %d after re-start, want 1", got)
	}
}

func TestProgressWarmupDay(t *testing.T) {
	t.Parallel()
	m, now := newTestManager(t)
	ctx := context.Background()

	m.StartWarmup(ctx, "a")

	// Same calendar day: no advance.
	if m.ProgressWarmupDay(ctx, "a") {
		t.Fatal("advanced on the same calendar day")
	}

	// Next day: exactly one advance, never two.
	*now = now.Add(24 * time.Hour)
	if !m.ProgressWarmupDay(ctx, "a") {
		t.Fatal("did not advance after a day boundary")
	}
	if got := m.GetWarmupDay("a"); got != 2 {
		t.Fatalf("GetWarmupDay = %d, want 2", got)
	}
	if m.ProgressWarmupDay(ctx, "a") {
		t.Fatal("advanced twice on one day boundary")
	}
}

func TestProgressThroughFullWarmup(t *testing.T) {
	t.Parallel()
	m, now := newTestManager(t)
	ctx := context.Background()

	m.StartWarmup(ctx, "a")
	for day := 2; day <= 7; day++ {
		*now = now.Add(24 * time.Hour)
		if !m.ProgressWarmupDay(ctx, "a") {
			t.Fatalf("did not advance to day %d", day)
		}
		if got := m.GetWarmupDay("a"); got != day {
			t.Fatalf("GetWarmupDay = %d, want %d", got, day)
		}
	}

	// Day 7 is the ceiling.
	*now = now.Add(24 * time.Hour)
	if m.ProgressWarmupDay(ctx, "a") {
		t.Fatal("advanced past day 7")
	}
	if got := m.GetAccountState("a"); got != AccountState("warmup_day_7") {
		t.Fatalf("GetAccountState = %v, want warmup_day_7", got)
	}
}

func TestProgressWithoutStart(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)

	if m.ProgressWarmupDay(context.Background(), "a") {
		t.Fatal("advanced an account that never started warmup")
	}
}

func TestSideStates(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.StartWarmup(ctx, "a")
	m.SetAccountState(ctx, "a", StateSuspended)
	if got := m.GetAccountState("a"); got != StateSuspended {
		t.Fatalf("GetAccountState = %v, want suspended", got)
	}

	// Side states are sticky until explicitly cleared.
	m.SetAccountState(ctx, "a", StateActive)
	if got := m.GetAccountState("a"); got != AccountState("warmup_day_1") {
		t.Fatalf("GetAccountState = %v after clear, want warmup_day_1", got)
	}
}

func TestActionCountersLazyReset(t *testing.T) {
	t.Parallel()
	m, now := newTestManager(t)
	ctx := context.Background()

	m.StartWarmup(ctx, "a")
	m.IncrementAction(ctx, "a", "like_api")
	m.IncrementAction(ctx, "a", "like_api")
	m.IncrementAction(ctx, "a", "follow")

	got := m.ActionsToday("a")
	if got["like_api"] != 2 || got["follow"] != 1 {
		t.Fatalf("ActionsToday = %v", got)
	}

	// New calendar date clears today's counters but not totals.
	*now = time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC)
	if got := m.ActionsToday("a"); len(got) != 0 {
		t.Fatalf("ActionsToday = %v after rollover, want empty", got)
	}
	w, ok := m.Snapshot("a")
	if !ok {
		t.Fatal("Snapshot missing")
	}
	if w.TotalActions != 3 {
		t.Fatalf("TotalActions = %d, want 3", w.TotalActions)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	st, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	m := NewManager(st, logx.Nop())
	m.SetClock(func() time.Time { return now })

	m.StartWarmup(ctx, "a")
	m.IncrementAction(ctx, "a", "like_api")
	m.SetAccountState(ctx, "b", StateError)
	_ = st.Close()

	st2, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open (reload): %v", err)
	}
	defer st2.Close()

	m2 := NewManager(st2, logx.Nop())
	m2.SetClock(func() time.Time { return now })
	if err := m2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := m2.GetWarmupDay("a"); got != 1 {
		t.Fatalf("GetWarmupDay = %d after reload, want 1", got)
	}
	if got := m2.ActionsToday("a")["like_api"]; got != 1 {
		t.Fatalf("like_api count = %d after reload, want 1", got)
	}
	if got := m2.GetAccountState("b"); got != StateError {
		t.Fatalf("GetAccountState = %v after reload, want error", got)
	}
}

func TestLoadSkipsCorruptRecord(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := context.Background()

	st, err := storage.Open(storage.Config{Driver: "file", Path: dir}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer st.Close()

	if err := st.Put(ctx, "good", []byte(`{"account_id":"good","current_day":3}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	// Wrong shape: fails to decode and must be skipped, not abort the load.
	if err := st.Put(ctx, "odd", []byte(`[1,2,3]`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	m := NewManager(st, logx.Nop())
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := m.GetWarmupDay("good"); got != 3 {
		t.Fatalf("GetWarmupDay = %d, want 3", got)
	}
}

func TestNilStoreOperatesInMemory(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, logx.Nop())
	ctx := context.Background()

	m.StartWarmup(ctx, "a")
	if got := m.GetWarmupDay("a"); got != 1 {
		t.Fatalf("GetWarmupDay = %d, want 1", got)
	}
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load with nil store: %v", err)
	}
}
