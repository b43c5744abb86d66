package correlate

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultOptionsValid(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   string
	}{
		{"threshold above one", func(o *Options) { o.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"zero threshold", func(o *Options) { o.ConfidenceThreshold = 0 }, "confidence_threshold must be in (0,1]"},
		{"zero auto accept", func(o *Options) { o.AutoAcceptThreshold = 0 }, "auto_accept_threshold"},
		{"floor above auto accept", func(o *Options) { o.EscalationFloor = 0.8 }, "must be below auto_accept_threshold"},
		{"negative embedding accept", func(o *Options) { o.EmbeddingAcceptThreshold = -0.1 }, "embedding_accept_threshold"},
		{"too many stories", func(o *Options) { o.MaxWorkStories = 500 }, "max_work_stories must be <= 200"},
		{"no stories", func(o *Options) { o.MaxWorkStories = 0 }, "max_work_stories"},
		{"zero minimum evidence", func(o *Options) { o.MinEvidencePerStory = 0 }, "min_evidence_per_story"},
		{"zero duration", func(o *Options) { o.MaxStoryDurationDays = 0 }, "max_story_duration_days"},
		{"zero fan out", func(o *Options) { o.FanOut = 0 }, "fan_out"},
		{"fraction above one", func(o *Options) { o.LLMCallFraction = 2 }, "llm_call_fraction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			err := o.Validate()
			if !errors.Is(err, ErrInvalidOptions) {
				t.Fatalf("err = %v, want ErrInvalidOptions", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestOptionsValidateReportsAllProblems(t *testing.T) {
	o := DefaultOptions()
	o.FanOut = 0
	o.MinTokenLength = 0
	err := o.Validate()
	if err == nil || !strings.Contains(err.Error(), "fan_out") || !strings.Contains(err.Error(), "min_token_length") {
		t.Fatalf("err = %v", err)
	}
}

func TestStageTransitions(t *testing.T) {
	task := &pairTask{}
	if !task.discard("first") {
		t.Fatal("pending task should discard")
	}
	if task.resolve(Tier2Resolved, task.rel) || task.discard("again") {
		t.Fatal("a final task must not change stage")
	}
	if task.stage != Discarded || task.reason != "first" {
		t.Fatalf("stage=%s reason=%s", task.stage, task.reason)
	}
	fresh := &pairTask{}
	if fresh.resolve(Pending, fresh.rel) || fresh.resolve(Discarded, fresh.rel) {
		t.Fatal("resolve must target a resolved stage")
	}
	if !fresh.resolve(Tier1Resolved, fresh.rel) || fresh.stage.String() != "tier1-resolved" {
		t.Fatalf("stage = %s", fresh.stage)
	}
}
