package domain

import (
	"strings"
	"time"
)

type StoryStatus string

const (
	StatusInProgress StoryStatus = "in-progress"
	StatusCompleted  StoryStatus = "completed"
	StatusBlocked    StoryStatus = "blocked"
	StatusCancelled  StoryStatus = "cancelled"
	StatusUnknown    StoryStatus = "unknown"
)

// TicketStatus maps an issue-tracker status string onto a story status.
func TicketStatus(s string) StoryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return StatusUnknown
	case "done", "closed", "resolved", "completed", "complete":
		return StatusCompleted
	case "blocked", "on hold", "on-hold", "impediment":
		return StatusBlocked
	case "in progress", "in-progress", "in review", "in development", "code review", "testing", "open", "to do", "todo", "reopened":
		return StatusInProgress
	case "cancelled", "canceled", "won't do", "wont do", "won't fix", "rejected", "duplicate":
		return StatusCancelled
	}
	return StatusUnknown
}

// MergeRequestStatus maps a merge or pull request state onto a story status.
func MergeRequestStatus(s string) StoryStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "merged":
		return StatusCompleted
	case "opened", "open", "draft", "reopened":
		return StatusInProgress
	case "closed", "declined":
		return StatusCancelled
	case "locked":
		return StatusBlocked
	}
	return StatusUnknown
}

type WorkStory struct {
	ID                   string                 `json:"id"`
	Title                string                 `json:"title"`
	Description          string                 `json:"description"`
	PrimaryTicket        string                 `json:"primary_ticket,omitempty"`
	Items                []EvidenceItem         `json:"evidence_items"`
	Relationships        []EvidenceRelationship `json:"relationships"`
	TechnologyStack      []string               `json:"technology_stack"`
	Complexity           float64                `json:"complexity_score"`
	People               []string               `json:"involved_people"`
	Platforms            []Platform             `json:"platforms"`
	Status               StoryStatus            `json:"status"`
	CompletionPercentage float64                `json:"completion_percentage"`
	StartedAt            time.Time              `json:"started_at"`
	EndedAt              time.Time              `json:"ended_at"`
	CreatedAt            time.Time              `json:"created_at"`
	UpdatedAt            time.Time              `json:"updated_at"`
	Singleton            bool                   `json:"singleton,omitempty"`
	Timeline             *StoryTimeline         `json:"timeline,omitempty"`
}

func (s WorkStory) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

func (s WorkStory) CrossPlatform() bool {
	return len(s.Platforms) > 1
}

// StoryTimeline is filled only when work-pattern analysis is enabled.
type StoryTimeline struct {
	DurationDays         float64  `json:"duration_days"`
	ActivitiesPerDay     float64  `json:"activities_per_day"`
	TicketToCodeDelayHrs *float64 `json:"ticket_to_code_delay_hours,omitempty"`
	Patterns             []string `json:"patterns"`
}
