package sqlite

import (
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"workstories/internal/domain"
	"workstories/internal/ledger"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "workstories-test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInitDBIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")
	for i := 0; i < 2; i++ {
		db, err := InitDB(path)
		if err != nil {
			t.Fatalf("InitDB #%d failed: %v", i+1, err)
		}
		db.Close()
	}
}

func TestUsageRoundTripRestoresLedger(t *testing.T) {
	db := newTestDB(t)
	start, end := ledger.MonthPeriod(time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC), time.UTC)

	l := ledger.New(5)
	l.SetPeriod(start, end)
	h, _ := l.Reserve(domain.TierEmbedding, "openai", 0.01)
	h.Commit(0.01)
	h, _ = l.Reserve(domain.TierLLM, "anthropic", 0.2)
	h.Commit(0.25)

	if err := SaveUsage(db, l.Snapshot()); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}
	// A second save overwrites the period rather than adding to it.
	if err := SaveUsage(db, l.Snapshot()); err != nil {
		t.Fatalf("SaveUsage (again) failed: %v", err)
	}

	snap, ok, err := LoadUsage(db, start)
	if err != nil || !ok {
		t.Fatalf("LoadUsage ok=%v err=%v", ok, err)
	}
	if !approx(snap.Cost, 0.26) || snap.Requests != 2 || snap.ByProvider["anthropic"] != 1 {
		t.Fatalf("loaded snapshot = %+v", snap)
	}
	if !snap.PeriodStart.Equal(start) || !snap.PeriodEnd.Equal(end) {
		t.Fatalf("period = %v..%v", snap.PeriodStart, snap.PeriodEnd)
	}

	restored := ledger.New(5)
	restored.Restore(snap)
	got := restored.Snapshot()
	if !approx(got.Cost, 0.26) || !approx(got.ByTier[domain.TierLLM.String()].Cost, 0.25) {
		t.Fatalf("restored snapshot = %+v", got)
	}
	if !approx(got.Remaining, 4.74) {
		t.Fatalf("remaining = %v", got.Remaining)
	}
}

func TestLoadUsageMissingPeriod(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := LoadUsage(db, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || ok {
		t.Fatalf("ok=%v err=%v, want nothing stored", ok, err)
	}
}

func TestSaveUsageRequiresPeriod(t *testing.T) {
	db := newTestDB(t)
	if err := SaveUsage(db, ledger.New(1).Snapshot()); err == nil {
		t.Fatal("expected an error for a snapshot without period")
	}
}

func TestRunHistory(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	for i, mode := range []string{"full", "rule-based", "full"} {
		_, err := InsertRun(db, RunRecord{
			Mode:          mode,
			StartedAt:     base.Add(time.Duration(i) * 24 * time.Hour),
			Items:         10 + i,
			Relationships: i,
			Stories:       1,
			CostUSD:       0.01 * float64(i),
			Cancelled:     i == 2,
			ReportPath:    "reports/run.json",
		})
		if err != nil {
			t.Fatalf("InsertRun failed: %v", err)
		}
	}
	runs, err := GetRunsByDateRange(db, base, base.Add(2*24*time.Hour))
	if err != nil {
		t.Fatalf("GetRunsByDateRange failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].Mode != "full" || runs[1].Mode != "rule-based" || runs[1].Items != 11 {
		t.Fatalf("runs = %+v", runs)
	}
	all, _ := GetRunsByDateRange(db, base, base.Add(7*24*time.Hour))
	if len(all) != 3 || !all[2].Cancelled || all[0].Cancelled {
		t.Fatalf("cancelled flags wrong: %+v", all)
	}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
