package correlate

import (
	"math"

	"workstories/internal/domain"
	"workstories/internal/story"
)

// buildInsights always fills the core counts. The analysis period, sprint
// metrics, method and technology breakdowns need detailed set; work
// patterns additionally need patterns.
func buildInsights(items []domain.EvidenceItem, rels []domain.EvidenceRelationship, stories []domain.WorkStory, detailed, patterns bool) *domain.CorrelationInsights {
	in := &domain.CorrelationInsights{
		StoryCount:             len(stories),
		RelationshipCount:      len(rels),
		MeanConfidence:         meanConfidence(rels),
		TechnologyDistribution: make(map[string]int),
		PlatformActivity:       make(map[domain.Platform]int),
	}
	for _, it := range items {
		in.PlatformActivity[it.Platform()]++
	}
	collab := 0
	for _, s := range stories {
		for _, tech := range s.TechnologyStack {
			in.TechnologyDistribution[tech]++
		}
		if s.CrossPlatform() {
			collab++
		}
		if len(s.People) > 1 {
			collab++
		}
	}
	if len(stories) > 0 {
		in.CollaborationScore = math.Min(1, float64(collab)/float64(2*len(stories)))
	}
	if !detailed {
		return in
	}

	in.MethodDistribution = make(map[domain.DetectionMethod]int)
	for _, r := range rels {
		in.MethodDistribution[r.Method]++
	}
	in.AnalysisPeriod = analysisPeriod(items)
	in.Sprint = sprintMetrics(stories)
	in.Technologies = technologyUsage(stories)
	if patterns {
		in.WorkPatterns = story.WorkPatterns(stories)
	}
	return in
}

func meanConfidence(rels []domain.EvidenceRelationship) float64 {
	if len(rels) == 0 {
		return 0
	}
	var sum float64
	for _, r := range rels {
		sum += r.Confidence
	}
	return sum / float64(len(rels))
}

func analysisPeriod(items []domain.EvidenceItem) *domain.AnalysisPeriod {
	if len(items) == 0 {
		return nil
	}
	start, end := items[0].Timestamp, items[0].Timestamp
	for _, it := range items[1:] {
		if it.Timestamp.Before(start) {
			start = it.Timestamp
		}
		if it.Timestamp.After(end) {
			end = it.Timestamp
		}
	}
	return &domain.AnalysisPeriod{Start: start, End: end, Days: end.Sub(start).Hours() / 24}
}

func sprintMetrics(stories []domain.WorkStory) domain.SprintMetrics {
	var m domain.SprintMetrics
	if len(stories) == 0 {
		return m
	}
	var days float64
	cross := 0
	for _, s := range stories {
		switch s.Status {
		case domain.StatusCompleted:
			m.CompletedStories++
		case domain.StatusInProgress:
			m.InProgressStories++
		}
		days += s.Duration().Hours() / 24
		if s.CrossPlatform() {
			cross++
		}
	}
	n := float64(len(stories))
	m.CompletionRate = float64(m.CompletedStories) / n
	m.AverageDurationDays = days / n
	m.CrossPlatformRatio = float64(cross) / n
	return m
}

func technologyUsage(stories []domain.WorkStory) map[string]domain.TechnologyUsage {
	out := make(map[string]domain.TechnologyUsage)
	for _, s := range stories {
		for _, tech := range s.TechnologyStack {
			u, ok := out[tech]
			if !ok {
				u.FirstSeen, u.LastSeen = s.StartedAt, s.EndedAt
			}
			u.Stories++
			if s.StartedAt.Before(u.FirstSeen) {
				u.FirstSeen = s.StartedAt
			}
			if s.EndedAt.After(u.LastSeen) {
				u.LastSeen = s.EndedAt
			}
			out[tech] = u
		}
	}
	return out
}
