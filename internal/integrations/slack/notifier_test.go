package slackbot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"workstories/internal/correlate"
	"workstories/internal/ledger"
)

type fakePoster struct {
	channels []string
	err      error
}

func (f *fakePoster) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	return channelID, "1700000000.000100", f.err
}

func TestFormatBudgetAlert(t *testing.T) {
	s := ledger.Snapshot{
		Cost:        10.004,
		Limit:       10,
		Requests:    412,
		PeriodStart: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	got := FormatBudgetAlert(s)
	want := ":warning: Correlation budget exhausted for 2026-10: $10.00 of $10.00 spent over 412 paid requests. Paid tiers are off until the next period; runs continue rule-based."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatRunSummary(t *testing.T) {
	resp := correlate.Response{
		Success:               true,
		Mode:                  correlate.ModeFull,
		ItemsProcessed:        12,
		RelationshipsDetected: 7,
		WorkStoriesCreated:    3,
		CorrelationCoverage:   75,
		RunCost:               0.0123,
		Cancelled:             true,
		Warnings:              []string{"tier 3 skipped: budget exhausted", "other"},
	}
	got := FormatRunSummary(resp)
	want := "Correlation run (full): 12 items, 7 relationships, 3 work stories, 75% coverage, cost $0.0123 (cancelled, partial results)\n2 warnings, first: tier 3 skipped: budget exhausted"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	failed := FormatRunSummary(correlate.Response{Errors: []string{"No evidence items provided for correlation"}})
	if failed != "Correlation run failed: No evidence items provided for correlation" {
		t.Errorf("failed summary = %q", failed)
	}
}

func TestNotifierPostsToChannel(t *testing.T) {
	api := &fakePoster{}
	n := newNotifierWithClient(api, "C123")
	n.BudgetExhausted(ledger.Snapshot{Limit: 1, Cost: 1})
	if err := n.RunSummary(correlate.Response{Success: true}); err != nil {
		t.Fatalf("RunSummary: %v", err)
	}
	if len(api.channels) != 2 || api.channels[0] != "C123" {
		t.Fatalf("posted to %v", api.channels)
	}

	api.err = errors.New("channel_not_found")
	if err := n.RunSummary(correlate.Response{Success: true}); err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("err = %v", err)
	}

	silent := newNotifierWithClient(api, "")
	if err := silent.RunSummary(correlate.Response{}); err != nil {
		t.Fatalf("unconfigured notifier should be a no-op: %v", err)
	}
	var nilNotifier *Notifier
	nilNotifier.BudgetExhausted(ledger.Snapshot{})
}
