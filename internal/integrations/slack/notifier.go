package slackbot

import (
	"fmt"
	"log"
	"strings"

	"github.com/slack-go/slack"

	"workstories/internal/correlate"
	"workstories/internal/ledger"
)

// poster is the part of *slack.Client the notifier uses.
type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts budget alerts and run summaries to one channel.
type Notifier struct {
	api     poster
	channel string
}

func NewNotifier(botToken, channelID string) *Notifier {
	return &Notifier{api: slack.New(botToken), channel: channelID}
}

func newNotifierWithClient(api poster, channelID string) *Notifier {
	return &Notifier{api: api, channel: channelID}
}

func (n *Notifier) post(msg string) error {
	if n == nil || n.channel == "" {
		return nil
	}
	_, _, err := n.api.PostMessage(n.channel, slack.MsgOptionText(msg, false))
	if err != nil {
		return fmt.Errorf("post to %s: %w", n.channel, err)
	}
	return nil
}

// BudgetExhausted matches ledger.OnExhausted. Failures are logged only.
func (n *Notifier) BudgetExhausted(s ledger.Snapshot) {
	if err := n.post(FormatBudgetAlert(s)); err != nil {
		log.Printf("budget alert post error: %v", err)
	}
}

func (n *Notifier) RunSummary(resp correlate.Response) error {
	return n.post(FormatRunSummary(resp))
}

func FormatBudgetAlert(s ledger.Snapshot) string {
	period := ""
	if !s.PeriodStart.IsZero() {
		period = fmt.Sprintf(" for %s", ledger.PeriodKey(s.PeriodStart))
	}
	return fmt.Sprintf(
		":warning: Correlation budget exhausted%s: $%.2f of $%.2f spent over %d paid requests. Paid tiers are off until the next period; runs continue rule-based.",
		period, s.Cost, s.Limit, s.Requests,
	)
}

func FormatRunSummary(resp correlate.Response) string {
	if !resp.Success {
		return fmt.Sprintf("Correlation run failed: %s", strings.Join(resp.Errors, "; "))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Correlation run (%s): %d items, %d relationships, %d work stories, %.0f%% coverage, cost $%.4f",
		resp.Mode, resp.ItemsProcessed, resp.RelationshipsDetected, resp.WorkStoriesCreated, resp.CorrelationCoverage, resp.RunCost)
	if resp.Cancelled {
		b.WriteString(" (cancelled, partial results)")
	}
	if n := len(resp.Warnings); n > 0 {
		fmt.Fprintf(&b, "\n%d warnings, first: %s", n, resp.Warnings[0])
	}
	return b.String()
}
