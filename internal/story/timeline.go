package story

import (
	"sort"
	"time"

	"workstories/internal/domain"
)

const (
	PatternTicketDriven = "ticket_driven_development"
	PatternRapidIter    = "rapid_iteration"
	PatternLongCycle    = "long_development_cycle"
	PatternQuickTurn    = "quick_turnaround"
)

const day = 24 * time.Hour

// Timeline summarizes the temporal shape of one story's items.
func Timeline(items []domain.EvidenceItem) *domain.StoryTimeline {
	sorted := byTime(items)
	tl := &domain.StoryTimeline{Patterns: []string{}}
	if len(sorted) == 0 {
		return tl
	}
	span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp)
	tl.DurationDays = span.Hours() / 24
	tl.ActivitiesPerDay = float64(len(sorted)) / float64(int(span/day)+1)

	var firstTicket, firstCode time.Time
	for _, it := range sorted {
		switch it.Platform() {
		case domain.PlatformIssueTracker:
			if firstTicket.IsZero() {
				firstTicket = it.Timestamp
			}
		case domain.PlatformSourceControl:
			if firstCode.IsZero() {
				firstCode = it.Timestamp
			}
		}
	}
	if !firstTicket.IsZero() && !firstCode.IsZero() {
		h := firstCode.Sub(firstTicket).Hours()
		tl.TicketToCodeDelayHrs = &h
	}

	if len(sorted) < 2 {
		return tl
	}
	ticketEarly := false
	for _, it := range sorted[:2] {
		if it.Platform() == domain.PlatformIssueTracker {
			ticketEarly = true
		}
	}
	codeLater := false
	for _, it := range sorted[1:] {
		if it.Platform() == domain.PlatformSourceControl {
			codeLater = true
		}
	}
	if ticketEarly && codeLater {
		tl.Patterns = append(tl.Patterns, PatternTicketDriven)
	}
	rapid := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Timestamp.Sub(sorted[i-1].Timestamp) <= day {
			rapid++
		}
	}
	if float64(rapid) >= float64(len(sorted))*0.5 {
		tl.Patterns = append(tl.Patterns, PatternRapidIter)
	}
	switch {
	case span > 30*day:
		tl.Patterns = append(tl.Patterns, PatternLongCycle)
	case span <= 3*day:
		tl.Patterns = append(tl.Patterns, PatternQuickTurn)
	}
	return tl
}

// WorkPatterns aggregates run-wide rhythms across stories: commit frequency
// per active day, merge request review cycle and ticket resolution time.
// Patterns without evidence are omitted.
func WorkPatterns(stories []domain.WorkStory) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)

	activeDays := make(map[string]int)
	commits := 0
	var reviewDays, resolveDays []float64
	for _, s := range stories {
		var mrs, tickets []time.Time
		for _, it := range s.Items {
			switch it.Kind {
			case domain.SourceCommit:
				commits++
				activeDays[it.Timestamp.UTC().Format("2006-01-02")]++
			case domain.SourceMergeRequest:
				mrs = append(mrs, it.Timestamp)
			case domain.SourceTicket:
				tickets = append(tickets, it.Timestamp)
			}
		}
		if len(mrs) >= 2 {
			reviewDays = append(reviewDays, spanDays(mrs))
		}
		if len(tickets) > 0 {
			resolveDays = append(resolveDays, spanDays(tickets))
		}
	}
	if commits > 0 {
		out["commit_frequency"] = map[string]float64{
			"commits_per_active_day": float64(commits) / float64(len(activeDays)),
			"evidence_count":         float64(commits),
		}
	}
	if len(reviewDays) > 0 {
		avg := mean(reviewDays)
		out["review_cycle"] = map[string]float64{
			"avg_days":       avg,
			"frequency":      inverse(avg),
			"evidence_count": float64(len(reviewDays)),
		}
	}
	if len(resolveDays) > 0 {
		avg := mean(resolveDays)
		out["ticket_resolution"] = map[string]float64{
			"avg_days":       avg,
			"frequency":      inverse(avg),
			"evidence_count": float64(len(resolveDays)),
		}
	}
	return out
}

func byTime(items []domain.EvidenceItem) []domain.EvidenceItem {
	out := append([]domain.EvidenceItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func spanDays(ts []time.Time) float64 {
	lo, hi := ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(lo) {
			lo = t
		}
		if t.After(hi) {
			hi = t
		}
	}
	return hi.Sub(lo).Hours() / 24
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func inverse(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return 1 / v
}
