package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workstories/internal/correlate"
	"workstories/internal/domain"
)

func sampleResponse() correlate.Response {
	return correlate.Response{
		Success:               true,
		Mode:                  correlate.ModeRuleBased,
		ItemsProcessed:        5,
		RelationshipsDetected: 3,
		WorkStoriesCreated:    2,
		CorrelationCoverage:   80,
		WorkStories: []domain.WorkStory{
			{Title: "Draft search docs", Status: domain.StatusInProgress, Items: make([]domain.EvidenceItem, 2), CompletionPercentage: 40},
			{
				Title:                "Fix login redirect",
				PrimaryTicket:        "AUTH-42",
				Status:               domain.StatusCompleted,
				Items:                make([]domain.EvidenceItem, 3),
				People:               []string{"ana"},
				TechnologyStack:      []string{"go"},
				CompletionPercentage: 100,
			},
		},
		Warnings: []string{"record 4 (fax) dropped: unknown kind"},
	}
}

func TestRenderMarkdown(t *testing.T) {
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	got := RenderMarkdown(sampleResponse(), at)
	want := "### Work stories 2026-10-14 09:30\n\n" +
		"5 items, 3 relationships, 2 stories, 80% correlated (rule-based mode)\n\n" +
		"#### Completed\n\n" +
		"- **ana** - [AUTH-42] Fix login redirect (3 items, 100%) `go`\n" +
		"#### In progress\n\n" +
		"- Draft search docs (2 items, 40%)\n\n" +
		"#### Warnings\n\n" +
		"- record 4 (fax) dropped: unknown kind\n"
	if got != want {
		t.Fatalf("markdown mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestWriteReportFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	at := time.Date(2026, 10, 14, 9, 30, 5, 0, time.UTC)
	path, err := WriteReportFiles(sampleResponse(), dir, at)
	if err != nil {
		t.Fatalf("WriteReportFiles: %v", err)
	}
	if filepath.Base(path) != "correlation_20261014_093005.json" {
		t.Fatalf("json path = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report is not JSON: %v", err)
	}
	md, err := os.ReadFile(strings.TrimSuffix(path, ".json") + ".md")
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	if !strings.Contains(string(md), "[AUTH-42] Fix login redirect") {
		t.Fatalf("markdown missing story:\n%s", md)
	}
}
