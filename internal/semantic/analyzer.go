package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"workstories/internal/domain"
	"workstories/internal/integrations/llm"
	"workstories/internal/ledger"
)

var (
	ErrBudgetExhausted = errors.New("llm budget exhausted")
	ErrMalformed       = errors.New("malformed llm verdict")
)

const (
	maxItemChars          = 1500
	estimatedOutputTokens = 200
	maxErrorEchoChars     = 512
)

type Verdict struct {
	Related    bool
	Kind       domain.RelationshipKind
	Confidence float64
	Reasoning  string
}

type Analyzer struct {
	client  llm.Client
	ledger  *ledger.Ledger
	pricing ledger.PricingTable
	timeout time.Duration

	mu    sync.Mutex
	calls int
	usage llm.Usage
}

func NewAnalyzer(client llm.Client, l *ledger.Ledger, pricing ledger.PricingTable, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Analyzer{client: client, ledger: l, pricing: pricing, timeout: timeout}
}

func (a *Analyzer) Enabled() bool { return a != nil && a.client != nil }

func (a *Analyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Analyzer) Usage() llm.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Analyze asks the model whether x and y describe the same work. Budget is
// reserved before the call and settled with the reported token usage.
func (a *Analyzer) Analyze(ctx context.Context, x, y domain.EvidenceItem, hints []string) (Verdict, error) {
	if !a.Enabled() {
		return Verdict{}, fmt.Errorf("llm analyzer disabled")
	}
	system, user := BuildPrompts(x, y, hints)
	estimate := a.pricing.Cost(a.client.Model(), ledger.Usage{
		InputTokens:  ledger.EstimateTokens(system) + ledger.EstimateTokens(user),
		OutputTokens: estimatedOutputTokens,
	})
	hold, ok := a.ledger.Reserve(domain.TierLLM, a.client.Provider(), estimate)
	if !ok {
		return Verdict{}, ErrBudgetExhausted
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	log.Printf("llm semantic provider=%s model=%s pair=%s", a.client.Provider(), a.client.Model(), domain.PairKey(x.ID, y.ID))
	text, usage, err := a.client.Complete(callCtx, system, user)

	a.mu.Lock()
	a.calls++
	a.usage.Add(usage)
	a.mu.Unlock()

	if err != nil {
		hold.Commit(estimate)
		return Verdict{}, fmt.Errorf("llm call for %s: %w", domain.PairKey(x.ID, y.ID), err)
	}
	cost := a.pricing.Cost(a.client.Model(), ledger.Usage{
		InputTokens:         usage.InputTokens,
		OutputTokens:        usage.OutputTokens,
		CacheCreationTokens: usage.CacheCreationInputTokens,
		CacheReadTokens:     usage.CacheReadInputTokens,
	})
	if usage.TotalTokens() == 0 {
		cost = estimate
	}
	hold.Commit(cost)

	v, err := ParseVerdict(text)
	if err != nil {
		return Verdict{}, err
	}
	if v.Reasoning == "" {
		v.Reasoning = fallbackReasoning(v, x, y)
	}
	return v, nil
}

const systemPrompt = `You compare two pieces of software engineering evidence (commits, merge requests, tickets, documents) and decide whether they describe the same unit of work.

Respond with a single JSON object and nothing else:
{"is_related": true|false, "relationship_type": "solves|references|duplicate|sequential|causal|related-to", "confidence": 0.0-1.0, "reasoning": "one or two sentences"}

Rules:
- "solves": the first item implements or fixes what the second item asks for.
- "references": one item mentions the other without completing it.
- "duplicate": both items describe the same change.
- "sequential": one is a follow-up step of the other.
- "causal": one item caused the need for the other.
- "related-to": same topic or feature, no stronger link.
- Be conservative. Shared generic words are not enough.`

// BuildPrompts returns the system and user prompts for one pair.
func BuildPrompts(x, y domain.EvidenceItem, hints []string) (string, string) {
	var b strings.Builder
	writeItem(&b, "Item A", x)
	b.WriteString("\n")
	writeItem(&b, "Item B", y)
	if len(hints) > 0 {
		b.WriteString("\nSignals from cheaper checks:\n")
		for _, h := range hints {
			b.WriteString("- ")
			b.WriteString(h)
			b.WriteString("\n")
		}
	}
	return systemPrompt, b.String()
}

func writeItem(b *strings.Builder, label string, it domain.EvidenceItem) {
	fmt.Fprintf(b, "%s (%s, %s):\n", label, it.Kind, it.Timestamp.UTC().Format("2006-01-02 15:04"))
	fmt.Fprintf(b, "Title: %s\n", it.Title)
	if it.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", truncate(it.Description, maxItemChars))
	}
	if it.Metadata.IssueKey != "" {
		fmt.Fprintf(b, "Key: %s\n", it.Metadata.IssueKey)
	}
	if it.Metadata.Branch != "" {
		fmt.Fprintf(b, "Branch: %s\n", it.Metadata.Branch)
	}
	if it.Metadata.State != "" {
		fmt.Fprintf(b, "State: %s\n", it.Metadata.State)
	}
	if len(it.Metadata.Labels) > 0 {
		fmt.Fprintf(b, "Labels: %s\n", strings.Join(it.Metadata.Labels, ", "))
	}
}

type verdictJSON struct {
	IsRelated        json.RawMessage `json:"is_related"`
	RelationshipType string          `json:"relationship_type"`
	Confidence       json.RawMessage `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
}

// ParseVerdict accepts the JSON object optionally wrapped in a code fence or
// surrounded by prose. Confidence is clamped to [0,1]; percentages are
// scaled down.
func ParseVerdict(text string) (Verdict, error) {
	body := llm.StripCodeFence(text)
	if i, j := strings.Index(body, "{"), strings.LastIndex(body, "}"); i >= 0 && j > i {
		body = body[i : j+1]
	}
	var raw verdictJSON
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v (response: %s)", ErrMalformed, err, truncate(text, maxErrorEchoChars))
	}
	related, ok := parseBool(raw.IsRelated)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: missing is_related (response: %s)", ErrMalformed, truncate(text, maxErrorEchoChars))
	}
	conf, ok := parseFloat(raw.Confidence)
	if !ok {
		return Verdict{}, fmt.Errorf("%w: missing confidence (response: %s)", ErrMalformed, truncate(text, maxErrorEchoChars))
	}
	if conf > 1 && conf <= 100 {
		conf /= 100
	}
	conf = math.Max(0, math.Min(1, conf))
	return Verdict{
		Related:    related,
		Kind:       domain.ParseRelationshipKind(raw.RelationshipType),
		Confidence: conf,
		Reasoning:  strings.TrimSpace(raw.Reasoning),
	}, nil
}

func parseBool(raw json.RawMessage) (bool, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

func parseFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, !math.IsNaN(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "%")
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func fallbackReasoning(v Verdict, x, y domain.EvidenceItem) string {
	if !v.Related {
		return fmt.Sprintf("The model found no relationship between %q and %q.", x.Title, y.Title)
	}
	return fmt.Sprintf("The model judged %q and %q as %s (confidence %.2f).", x.Title, y.Title, v.Kind, v.Confidence)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
