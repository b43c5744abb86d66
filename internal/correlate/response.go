package correlate

import (
	"workstories/internal/domain"
	"workstories/internal/ledger"
)

type Mode string

const (
	ModeFull      Mode = "full"
	ModeRuleBased Mode = "rule-based"
)

// TierStats counts how the candidate pairs of one run were resolved.
type TierStats struct {
	Candidates      int `json:"candidates"`
	Truncated       int `json:"candidates_truncated"`
	Tier1Accepted   int `json:"tier1_accepted"`
	Tier1Escalated  int `json:"tier1_escalated"`
	Tier2Accepted   int `json:"tier2_accepted"`
	Tier3Accepted   int `json:"tier3_accepted"`
	Discarded       int `json:"discarded"`
	EmbeddingCalls  int `json:"embedding_calls"`
	LLMCalls        int `json:"llm_calls"`
	Tier3Eligible   int `json:"tier3_eligible"`
	Tier3CallBudget int `json:"tier3_call_cap"`
}

type Response struct {
	Success               bool    `json:"success"`
	Mode                  Mode    `json:"mode"`
	Cancelled             bool    `json:"cancelled,omitempty"`
	ProcessingTimeMs      int64   `json:"processing_time_ms"`
	ItemsProcessed        int     `json:"evidence_items_processed"`
	RelationshipsDetected int     `json:"relationships_detected"`
	WorkStoriesCreated    int     `json:"work_stories_created"`
	AvgConfidence         float64 `json:"avg_confidence_score"`
	// CorrelationCoverage is the percentage of items placed in a story.
	CorrelationCoverage float64 `json:"correlation_coverage"`

	Items         []domain.EvidenceItem         `json:"evidence_items"`
	Relationships []domain.EvidenceRelationship `json:"relationships"`
	WorkStories   []domain.WorkStory            `json:"work_stories"`
	Insights      *domain.CorrelationInsights   `json:"insights,omitempty"`

	Ledger  ledger.Snapshot `json:"usage"`
	RunCost float64         `json:"run_cost_usd"`
	Tiers   TierStats       `json:"tier_stats"`

	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

type Status struct {
	Version           string            `json:"correlation_version"`
	EmbeddingEnabled  bool              `json:"embedding_enabled"`
	EmbeddingProvider string            `json:"embedding_provider,omitempty"`
	EmbeddingModel    string            `json:"embedding_model,omitempty"`
	LLMEnabled        bool              `json:"llm_enabled"`
	LLMProvider       string            `json:"llm_provider,omitempty"`
	LLMModel          string            `json:"llm_model,omitempty"`
	BudgetState       ledger.State      `json:"budget_state"`
	// RemainingUSD is 0 when Unlimited is set.
	RemainingUSD      float64           `json:"remaining_usd"`
	Unlimited         bool              `json:"unlimited,omitempty"`
	Modes             []Mode            `json:"available_modes"`
	Algorithms        map[string]string `json:"algorithm_versions"`
}
