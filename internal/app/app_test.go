package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workstories/internal/config"
	"workstories/internal/correlate"
	"workstories/internal/domain"
	"workstories/internal/ledger"
	"workstories/internal/storage/sqlite"
)

const evidenceJSON = `[
  {"kind": "commit", "person_id": "p1", "data": {"sha": "abc1234", "message": "Fix login bug\n\nResolves AUTH-123", "author": "jane", "authored_at": "2026-03-02T14:00:00Z"}},
  {"kind": "ticket", "person_id": "p1", "data": {"key": "AUTH-123", "summary": "Login fails for SSO users", "status": "Done", "assignee": "jane", "updated_at": "2026-03-02T10:00:00Z"}}
]`

func testConfig(t *testing.T, evidence string) config.Config {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "evidence.json")
	if err := os.WriteFile(input, []byte(evidence), 0o644); err != nil {
		t.Fatalf("write evidence: %v", err)
	}
	return config.Config{
		DBPath:            filepath.Join(dir, "test.db"),
		InputPath:         input,
		ReportOutputDir:   filepath.Join(dir, "reports"),
		CorrelationMode:   string(correlate.ModeFull),
		EmbeddingProvider: "none",
		LLMProvider:       "none",
		Location:          time.UTC,
		Engine:            correlate.DefaultOptions(),
	}
}

func TestCorrelateOnceWritesReportAndHistory(t *testing.T) {
	cfg := testConfig(t, evidenceJSON)
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	r, err := newRunner(cfg, db, nil, now)
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}
	r.now = func() time.Time { return now }

	resp, err := r.correlateOnce(context.Background())
	if err != nil {
		t.Fatalf("correlateOnce: %v", err)
	}
	if !resp.Success || resp.WorkStoriesCreated != 1 || resp.RelationshipsDetected != 1 {
		t.Fatalf("unexpected response: success=%v stories=%d rels=%d warnings=%v",
			resp.Success, resp.WorkStoriesCreated, resp.RelationshipsDetected, resp.Warnings)
	}

	runs, err := sqlite.GetRunsByDateRange(db, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetRunsByDateRange: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	if runs[0].Stories != 1 || runs[0].Mode != "full" {
		t.Fatalf("run record = %+v", runs[0])
	}
	if _, err := os.Stat(runs[0].ReportPath); err != nil {
		t.Fatalf("report missing: %v", err)
	}

	start, _ := ledger.MonthPeriod(now, time.UTC)
	if _, ok, err := sqlite.LoadUsage(db, start); err != nil || !ok {
		t.Fatalf("usage not persisted: ok=%v err=%v", ok, err)
	}
}

func TestCorrelateOnceRuleBasedMode(t *testing.T) {
	cfg := testConfig(t, evidenceJSON)
	cfg.CorrelationMode = string(correlate.ModeRuleBased)
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	r, err := newRunner(cfg, db, nil, time.Now())
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}
	resp, err := r.correlateOnce(context.Background())
	if err != nil {
		t.Fatalf("correlateOnce: %v", err)
	}
	if resp.Mode != correlate.ModeRuleBased || resp.RelationshipsDetected != 1 {
		t.Fatalf("mode=%s rels=%d", resp.Mode, resp.RelationshipsDetected)
	}
}

func TestCorrelateOnceInvalidOptions(t *testing.T) {
	cfg := testConfig(t, evidenceJSON)
	cfg.Engine.MaxWorkStories = 0
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	r, err := newRunner(cfg, db, nil, time.Now())
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}
	if _, err := r.correlateOnce(context.Background()); err == nil {
		t.Fatal("expected invalid options error")
	}
}

func TestRestoreLedgerCarriesPeriodUsage(t *testing.T) {
	cfg := testConfig(t, "[]")
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	l, err := restoreLedger(db, 5, time.UTC, now)
	if err != nil {
		t.Fatalf("restoreLedger: %v", err)
	}
	hold, ok := l.Reserve(domain.TierLLM, "anthropic", 0.5)
	if !ok {
		t.Fatal("reservation refused")
	}
	hold.Commit(0.5)
	if err := sqlite.SaveUsage(db, l.Snapshot()); err != nil {
		t.Fatalf("SaveUsage: %v", err)
	}

	again, err := restoreLedger(db, 5, time.UTC, now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("restoreLedger: %v", err)
	}
	if got := again.Snapshot().Cost; got < 0.499 || got > 0.501 {
		t.Fatalf("restored cost = %v, want 0.5", got)
	}

	nextMonth, err := restoreLedger(db, 5, time.UTC, time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("restoreLedger: %v", err)
	}
	if got := nextMonth.Snapshot().Cost; got != 0 {
		t.Fatalf("new period should start empty, cost = %v", got)
	}
}

func TestResetBudgetStartsNewPeriod(t *testing.T) {
	cfg := testConfig(t, "[]")
	cfg.MonthlyBudgetUSD = 2
	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	r, err := newRunner(cfg, db, nil, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("newRunner: %v", err)
	}
	hold, ok := r.ledger.Reserve(domain.TierEmbedding, "openai", 2)
	if !ok {
		t.Fatal("reservation refused")
	}
	hold.Commit(2)
	if !r.ledger.Exhausted() {
		t.Fatal("ledger should be exhausted")
	}

	nov := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	r.resetBudget(nov)
	if r.ledger.Exhausted() {
		t.Fatal("reset should reopen the ledger")
	}
	snap, ok, err := sqlite.LoadUsage(db, nov)
	if err != nil || !ok {
		t.Fatalf("reset period not saved: ok=%v err=%v", ok, err)
	}
	if snap.Cost != 0 {
		t.Fatalf("reset period cost = %v", snap.Cost)
	}
}

func TestReadRecords(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		want    int
		wantErr string
	}{
		{"array", write("a.json", evidenceJSON), 2, ""},
		{"wrapped", write("w.json", `{"records": `+evidenceJSON+`}`), 2, ""},
		{"malformed", write("m.json", `{"records": [`), 0, "parse evidence"},
		{"missing", filepath.Join(dir, "none.json"), 0, "read evidence"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readRecords(tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readRecords: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("records = %d, want %d", len(got), tt.want)
			}
		})
	}
}
