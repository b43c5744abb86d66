package ledger

import (
	"sync"
	"testing"
	"time"

	"workstories/internal/domain"
)

func TestZeroBudgetStartsExhausted(t *testing.T) {
	l := New(0)
	if l.State() != StateExhausted {
		t.Fatalf("expected exhausted, got %s", l.State())
	}
	if h, ok := l.Reserve(domain.TierEmbedding, "openai", 0.001); ok || h != nil {
		t.Fatal("expected reservation to be refused")
	}
	s := l.Snapshot()
	if s.Remaining != 0 || s.Requests != 0 || s.Cost != 0 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestCommitTransitionsToExhausted(t *testing.T) {
	l := New(0.01)
	var fired int
	l.OnExhausted(func(Snapshot) { fired++ })

	h, ok := l.Reserve(domain.TierLLM, "anthropic", 0.008)
	if !ok {
		t.Fatal("expected first reservation to succeed")
	}
	h.Commit(0.008)
	if l.Exhausted() {
		t.Fatal("should still be open")
	}

	h, ok = l.Reserve(domain.TierLLM, "anthropic", 0.008)
	if !ok {
		t.Fatal("single call while open should be admitted")
	}
	h.Commit(0.008)
	if !l.Exhausted() {
		t.Fatal("expected exhausted after crossing the limit")
	}
	if fired != 1 {
		t.Fatalf("expected hook once, got %d", fired)
	}
	if got := l.Remaining(); got != 0 {
		t.Fatalf("remaining must clamp to 0, got %f", got)
	}
	s := l.Snapshot()
	if s.ByTier[domain.TierLLM.String()].Requests != 2 {
		t.Fatalf("expected 2 llm requests, got %+v", s.ByTier)
	}
	if s.ByProvider["anthropic"] != 2 {
		t.Fatalf("expected provider count 2, got %+v", s.ByProvider)
	}
	if s.UtilizationPct != 100 {
		t.Fatalf("utilization should cap at 100, got %f", s.UtilizationPct)
	}
}

func TestCommitAndCancelAreIdempotent(t *testing.T) {
	l := New(1)
	h, _ := l.Reserve(domain.TierEmbedding, "local", 0.1)
	h.Commit(0.1)
	h.Commit(0.1)
	h.Cancel()
	if s := l.Snapshot(); s.Requests != 1 || s.Cost != 0.1 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}

	h, _ = l.Reserve(domain.TierEmbedding, "local", 0.1)
	h.Cancel()
	h.Commit(0.5)
	if s := l.Snapshot(); s.Requests != 1 {
		t.Fatalf("cancelled hold must not count, got %+v", s)
	}
}

func TestConcurrentReserveBoundsOvershoot(t *testing.T) {
	const limit = 1.0
	const callCost = 0.3
	l := New(limit)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				h, ok := l.Reserve(domain.TierLLM, "anthropic", callCost)
				if !ok {
					continue
				}
				time.Sleep(time.Millisecond)
				h.Commit(callCost)
			}
		}()
	}
	wg.Wait()

	s := l.Snapshot()
	if s.Cost > limit+callCost+1e-9 {
		t.Fatalf("overshoot beyond one call: cost=%f", s.Cost)
	}
	if s.State != StateExhausted {
		t.Fatalf("expected exhausted, got %s (cost=%f)", s.State, s.Cost)
	}
}

func TestRemainingIsMonotonic(t *testing.T) {
	l := New(0.05)
	prev := l.Remaining()
	for i := 0; i < 20; i++ {
		h, ok := l.Reserve(domain.TierEmbedding, "openai", 0.004)
		if ok {
			h.Commit(0.004)
		}
		cur := l.Remaining()
		if cur > prev {
			t.Fatalf("remaining increased %f -> %f", prev, cur)
		}
		if cur < 0 {
			t.Fatalf("remaining negative: %f", cur)
		}
		prev = cur
	}
}

func TestUnlimitedSnapshot(t *testing.T) {
	l := Unlimited()
	h, ok := l.Reserve(domain.TierLLM, "openai", 5)
	if !ok {
		t.Fatal("unlimited ledger refused")
	}
	h.Commit(5)
	s := l.Snapshot()
	if !s.Unlimited || s.State != StateOpen || s.Cost != 5 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestRestoreAndReset(t *testing.T) {
	start, end := MonthPeriod(time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC), time.UTC)
	l := New(2)
	l.Restore(Snapshot{
		Cost:        2.5,
		ByTier:      map[string]TierUsage{domain.TierLLM.String(): {Requests: 3, Cost: 2.5}, "bogus": {Requests: 9}},
		ByProvider:  map[string]int{"anthropic": 3},
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if !l.Exhausted() {
		t.Fatal("restored usage over the limit should be exhausted")
	}
	s := l.Snapshot()
	if s.Requests != 3 || !s.PeriodStart.Equal(start) {
		t.Fatalf("unexpected restored snapshot: %+v", s)
	}

	var fired bool
	l.OnExhausted(func(Snapshot) { fired = true })
	nextStart, nextEnd := MonthPeriod(end, time.UTC)
	l.Reset(nextStart, nextEnd)
	if l.Exhausted() {
		t.Fatal("reset ledger should be open")
	}
	h, _ := l.Reserve(domain.TierLLM, "anthropic", 2)
	h.Commit(2)
	if !fired {
		t.Fatal("hook should fire again after reset")
	}
}

func TestMonthPeriod(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	tests := []struct {
		now       time.Time
		wantStart string
		wantEnd   string
	}{
		{time.Date(2026, 10, 14, 12, 0, 0, 0, loc), "2026-10-01", "2026-11-01"},
		{time.Date(2026, 12, 31, 23, 59, 0, 0, loc), "2026-12-01", "2027-01-01"},
		// 2026-02-28 23:30 UTC is already March in UTC+2
		{time.Date(2026, 2, 28, 23, 30, 0, 0, time.UTC), "2026-03-01", "2026-04-01"},
	}
	for _, tt := range tests {
		start, end := MonthPeriod(tt.now, loc)
		if got := start.Format("2006-01-02"); got != tt.wantStart {
			t.Errorf("start for %s = %s, want %s", tt.now, got, tt.wantStart)
		}
		if got := end.Format("2006-01-02"); got != tt.wantEnd {
			t.Errorf("end for %s = %s, want %s", tt.now, got, tt.wantEnd)
		}
	}
	if PeriodKey(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) != "2026-03" {
		t.Fatal("unexpected period key")
	}
}
