package correlate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidOptions is wrapped by every option validation failure. It is the
// only error a run returns.
var ErrInvalidOptions = errors.New("invalid correlation options")

type Options struct {
	ConfidenceThreshold   float64 `yaml:"confidence_threshold" json:"confidence_threshold"`
	MaxWorkStories        int     `yaml:"max_work_stories" json:"max_work_stories"`
	IncludeLowConfidence  bool    `yaml:"include_low_confidence" json:"include_low_confidence"`
	DetectTechnologyStack bool    `yaml:"detect_technology_stack" json:"detect_technology_stack"`
	AnalyzeWorkPatterns   bool    `yaml:"analyze_work_patterns" json:"analyze_work_patterns"`
	GenerateInsights      bool    `yaml:"generate_insights" json:"generate_insights"`
	MinEvidencePerStory   int     `yaml:"min_evidence_per_story" json:"min_evidence_per_story"`
	MaxStoryDurationDays  int     `yaml:"max_story_duration_days" json:"max_story_duration_days"`
	IncludeSingletons     bool    `yaml:"include_singletons" json:"include_singletons"`

	AutoAcceptThreshold      float64 `yaml:"auto_accept_threshold" json:"auto_accept_threshold"`
	EscalationFloor          float64 `yaml:"escalation_floor" json:"escalation_floor"`
	EmbeddingAcceptThreshold float64 `yaml:"embedding_accept_threshold" json:"embedding_accept_threshold"`
	LLMAcceptThreshold       float64 `yaml:"llm_accept_threshold" json:"llm_accept_threshold"`
	LLMMinImportance         float64 `yaml:"llm_min_importance" json:"llm_min_importance"`
	LLMMaxCalls              int     `yaml:"llm_max_calls" json:"llm_max_calls"`
	LLMCallFraction          float64 `yaml:"llm_call_fraction" json:"llm_call_fraction"`
	ProximityWindowHours     int     `yaml:"proximity_window_hours" json:"proximity_window_hours"`
	MinTokenLength           int     `yaml:"min_token_length" json:"min_token_length"`
	MaxCandidates            int     `yaml:"max_candidates" json:"max_candidates"`
	FanOut                   int     `yaml:"fan_out" json:"fan_out"`
	CallTimeoutSeconds       int     `yaml:"call_timeout_seconds" json:"call_timeout_seconds"`
}

func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold:   0.3,
		MaxWorkStories:        50,
		DetectTechnologyStack: true,
		AnalyzeWorkPatterns:   true,
		GenerateInsights:      true,
		MinEvidencePerStory:   2,
		MaxStoryDurationDays:  90,

		AutoAcceptThreshold:      0.7,
		EscalationFloor:          0.35,
		EmbeddingAcceptThreshold: 0.75,
		LLMAcceptThreshold:       0.5,
		LLMMinImportance:         0.5,
		LLMMaxCalls:              10,
		LLMCallFraction:          0.1,
		ProximityWindowHours:     72,
		MinTokenLength:           4,
		MaxCandidates:            5000,
		FanOut:                   4,
		CallTimeoutSeconds:       20,
	}
}

func (o Options) ProximityWindow() time.Duration {
	return time.Duration(o.ProximityWindowHours) * time.Hour
}

func (o Options) CallTimeout() time.Duration {
	return time.Duration(o.CallTimeoutSeconds) * time.Second
}

func (o Options) MaxStoryDuration() time.Duration {
	return time.Duration(o.MaxStoryDurationDays) * 24 * time.Hour
}

// Validate reports every problem at once.
func (o Options) Validate() error {
	var problems []string
	unit := func(name string, v float64, allowZero bool) {
		if v > 1 || v < 0 || (!allowZero && v == 0) || v != v {
			if allowZero {
				problems = append(problems, fmt.Sprintf("%s must be in [0,1], got %v", name, v))
			} else {
				problems = append(problems, fmt.Sprintf("%s must be in (0,1], got %v", name, v))
			}
		}
	}
	atLeast := func(name string, v, min int) {
		if v < min {
			problems = append(problems, fmt.Sprintf("%s must be >= %d, got %d", name, min, v))
		}
	}

	unit("confidence_threshold", o.ConfidenceThreshold, false)
	unit("auto_accept_threshold", o.AutoAcceptThreshold, false)
	unit("escalation_floor", o.EscalationFloor, false)
	unit("embedding_accept_threshold", o.EmbeddingAcceptThreshold, false)
	unit("llm_accept_threshold", o.LLMAcceptThreshold, false)
	unit("llm_min_importance", o.LLMMinImportance, true)
	unit("llm_call_fraction", o.LLMCallFraction, true)
	if o.EscalationFloor >= o.AutoAcceptThreshold {
		problems = append(problems, fmt.Sprintf("escalation_floor (%v) must be below auto_accept_threshold (%v)", o.EscalationFloor, o.AutoAcceptThreshold))
	}
	atLeast("max_work_stories", o.MaxWorkStories, 1)
	if o.MaxWorkStories > 200 {
		problems = append(problems, fmt.Sprintf("max_work_stories must be <= 200, got %d", o.MaxWorkStories))
	}
	atLeast("min_evidence_per_story", o.MinEvidencePerStory, 1)
	atLeast("max_story_duration_days", o.MaxStoryDurationDays, 1)
	atLeast("llm_max_calls", o.LLMMaxCalls, 0)
	atLeast("proximity_window_hours", o.ProximityWindowHours, 1)
	atLeast("min_token_length", o.MinTokenLength, 1)
	atLeast("max_candidates", o.MaxCandidates, 1)
	atLeast("fan_out", o.FanOut, 1)
	atLeast("call_timeout_seconds", o.CallTimeoutSeconds, 1)

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(problems, "; "))
	}
	return nil
}
