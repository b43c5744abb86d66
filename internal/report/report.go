package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"workstories/internal/correlate"
	"workstories/internal/domain"
)

// WriteReportFiles writes the full response as JSON and a markdown digest
// next to it. It returns the JSON path.
func WriteReportFiles(resp correlate.Response, outputDir string, at time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	stamp := at.Format("20060102_150405")
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	jsonPath := filepath.Join(outputDir, fmt.Sprintf("correlation_%s.json", stamp))
	if err := os.WriteFile(jsonPath, data, 0644); err != nil {
		return "", err
	}
	mdPath := filepath.Join(outputDir, fmt.Sprintf("correlation_%s.md", stamp))
	if err := os.WriteFile(mdPath, []byte(RenderMarkdown(resp, at)), 0644); err != nil {
		return "", err
	}
	return jsonPath, nil
}

// RenderMarkdown lists stories grouped by status, completed first.
func RenderMarkdown(resp correlate.Response, at time.Time) string {
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("### Work stories %s\n\n", at.Format("2006-01-02 15:04")))
	buf.WriteString(fmt.Sprintf("%d items, %d relationships, %d stories, %.0f%% correlated (%s mode)\n\n",
		resp.ItemsProcessed, resp.RelationshipsDetected, resp.WorkStoriesCreated, resp.CorrelationCoverage, resp.Mode))

	stories := append([]domain.WorkStory(nil), resp.WorkStories...)
	sort.SliceStable(stories, func(i, j int) bool {
		return statusBucket(stories[i].Status) < statusBucket(stories[j].Status)
	})
	current := domain.StoryStatus("")
	for _, s := range stories {
		if s.Status != current {
			current = s.Status
			buf.WriteString(fmt.Sprintf("#### %s\n\n", statusHeading(current)))
		}
		buf.WriteString("- " + formatStory(s) + "\n")
	}
	if len(stories) > 0 {
		buf.WriteString("\n")
	}

	if len(resp.Warnings) > 0 {
		buf.WriteString("#### Warnings\n\n")
		for _, w := range resp.Warnings {
			buf.WriteString("- " + w + "\n")
		}
	}
	return strings.TrimSpace(buf.String()) + "\n"
}

func formatStory(s domain.WorkStory) string {
	ticketPrefix := ""
	if s.PrimaryTicket != "" {
		ticketPrefix = fmt.Sprintf("[%s] ", s.PrimaryTicket)
	}
	line := fmt.Sprintf("%s%s (%d items, %.0f%%)", ticketPrefix, s.Title, len(s.Items), s.CompletionPercentage)
	if len(s.People) > 0 {
		line = fmt.Sprintf("**%s** - %s", strings.Join(s.People, ", "), line)
	}
	if len(s.TechnologyStack) > 0 {
		line += " `" + strings.Join(s.TechnologyStack, "`, `") + "`"
	}
	return line
}

func statusHeading(st domain.StoryStatus) string {
	switch st {
	case domain.StatusCompleted:
		return "Completed"
	case domain.StatusInProgress:
		return "In progress"
	case domain.StatusBlocked:
		return "Blocked"
	case domain.StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown status"
	}
}

func statusBucket(st domain.StoryStatus) int {
	switch st {
	case domain.StatusCompleted:
		return 0
	case domain.StatusInProgress:
		return 1
	case domain.StatusBlocked:
		return 2
	case domain.StatusCancelled:
		return 3
	default:
		return 4
	}
}
