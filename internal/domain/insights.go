package domain

import "time"

// CorrelationInsights is derived from one run's output and never stored on
// its own.
type CorrelationInsights struct {
	StoryCount             int                           `json:"story_count"`
	RelationshipCount      int                           `json:"relationship_count"`
	MeanConfidence         float64                       `json:"mean_confidence"`
	TechnologyDistribution map[string]int                `json:"technology_distribution"`
	CollaborationScore     float64                       `json:"collaboration_score"`
	PlatformActivity       map[Platform]int              `json:"platform_activity"`
	MethodDistribution     map[DetectionMethod]int       `json:"detection_method_distribution"`
	AnalysisPeriod         *AnalysisPeriod               `json:"analysis_period,omitempty"`
	Sprint                 SprintMetrics                 `json:"sprint_metrics"`
	Technologies           map[string]TechnologyUsage    `json:"technology_insights,omitempty"`
	WorkPatterns           map[string]map[string]float64 `json:"work_patterns,omitempty"`
}

type AnalysisPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Days  float64   `json:"days"`
}

type SprintMetrics struct {
	CompletionRate      float64 `json:"completion_rate"`
	AverageDurationDays float64 `json:"average_duration_days"`
	CrossPlatformRatio  float64 `json:"cross_platform_ratio"`
	CompletedStories    int     `json:"completed_stories"`
	InProgressStories   int     `json:"in_progress_stories"`
}

type TechnologyUsage struct {
	Stories   int       `json:"stories"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
