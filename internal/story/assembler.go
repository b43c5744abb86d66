package story

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"workstories/internal/domain"
	"workstories/internal/issuekey"
)

type Options struct {
	MinEvidence int
	// IncludeSingletons keeps items with no accepted relationship as
	// one-item stories.
	IncludeSingletons bool
	// MaxDuration splits components spanning longer than this. Zero
	// disables splitting.
	MaxDuration      time.Duration
	MaxStories       int
	DetectTechnology bool
	AnalyzePatterns  bool
}

func DefaultOptions() Options {
	return Options{
		MinEvidence:      2,
		MaxDuration:      90 * day,
		MaxStories:       50,
		DetectTechnology: true,
		AnalyzePatterns:  true,
	}
}

type Assembler struct {
	opts    Options
	catalog *Catalog
}

func NewAssembler(opts Options, catalog *Catalog) *Assembler {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if opts.MinEvidence < 1 {
		opts.MinEvidence = 1
	}
	return &Assembler{opts: opts, catalog: catalog}
}

// Assemble clusters items connected by rels into stories. Relationships
// whose endpoints are not among items are ignored. now stamps CreatedAt and
// UpdatedAt; everything else depends only on the input.
func (a *Assembler) Assemble(items []domain.EvidenceItem, rels []domain.EvidenceRelationship, now time.Time) []domain.WorkStory {
	index := make(map[string]int, len(items))
	for i, it := range items {
		index[it.ID] = i
	}
	var edges []edge
	for _, r := range rels {
		i, ok1 := index[r.FromID]
		j, ok2 := index[r.ToID]
		if ok1 && ok2 && i != j {
			edges = append(edges, edge{i, j, r})
		}
	}

	groups := components(len(items), edges)
	if a.opts.MaxDuration > 0 {
		groups = a.splitLong(items, edges, groups)
	}

	var stories []domain.WorkStory
	singletons := a.opts.IncludeSingletons || a.opts.MinEvidence <= 1
	for _, g := range groups {
		if len(g) == 1 && !singletons {
			continue
		}
		if len(g) > 1 && len(g) < a.opts.MinEvidence {
			continue
		}
		stories = append(stories, a.build(items, edges, g, now))
	}

	sort.SliceStable(stories, func(i, j int) bool {
		si, sj := stories[i], stories[j]
		if len(si.Items) != len(sj.Items) {
			return len(si.Items) > len(sj.Items)
		}
		if si.Complexity != sj.Complexity {
			return si.Complexity > sj.Complexity
		}
		if !si.StartedAt.Equal(sj.StartedAt) {
			return si.StartedAt.Before(sj.StartedAt)
		}
		return si.ID < sj.ID
	})
	if a.opts.MaxStories > 0 && len(stories) > a.opts.MaxStories {
		log.Printf("story cap applied kept=%d dropped=%d", a.opts.MaxStories, len(stories)-a.opts.MaxStories)
		stories = stories[:a.opts.MaxStories]
	}
	return stories
}

type edge struct {
	i, j int
	rel  domain.EvidenceRelationship
}

// components returns connected components as sorted index lists, ordered by
// their smallest member.
func components(n int, edges []edge) [][]int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	for _, e := range edges {
		ri, rj := find(e.i), find(e.j)
		if ri == rj {
			continue
		}
		if ri < rj {
			parent[rj] = ri
		} else {
			parent[ri] = rj
		}
	}
	byRoot := make(map[int][]int)
	var roots []int
	for i := 0; i < n; i++ {
		r := find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], i)
	}
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}

// splitLong cuts components whose time span exceeds MaxDuration into
// chronological windows, then re-clusters using only edges inside a window
// so every member stays connected.
func (a *Assembler) splitLong(items []domain.EvidenceItem, edges []edge, groups [][]int) [][]int {
	window := make([]int, len(items))
	next := 0
	split := false
	for _, g := range groups {
		sorted := append([]int(nil), g...)
		sort.SliceStable(sorted, func(x, y int) bool {
			tx, ty := items[sorted[x]].Timestamp, items[sorted[y]].Timestamp
			if !tx.Equal(ty) {
				return tx.Before(ty)
			}
			return items[sorted[x]].ID < items[sorted[y]].ID
		})
		start := items[sorted[0]].Timestamp
		for _, idx := range sorted {
			if items[idx].Timestamp.Sub(start) > a.opts.MaxDuration {
				next++
				start = items[idx].Timestamp
				split = true
			}
			window[idx] = next
		}
		next++
	}
	if !split {
		return groups
	}
	var kept []edge
	for _, e := range edges {
		if window[e.i] == window[e.j] {
			kept = append(kept, e)
		}
	}
	log.Printf("story duration split windows=%d edges_dropped=%d", next, len(edges)-len(kept))
	return components(len(items), kept)
}

func (a *Assembler) build(items []domain.EvidenceItem, edges []edge, group []int, now time.Time) domain.WorkStory {
	member := make(map[int]bool, len(group))
	members := make([]domain.EvidenceItem, 0, len(group))
	for _, idx := range group {
		member[idx] = true
		members = append(members, items[idx])
	}
	members = byTime(members)

	var rels []domain.EvidenceRelationship
	for _, e := range edges {
		if member[e.i] && member[e.j] {
			rels = append(rels, e.rel)
		}
	}
	sort.SliceStable(rels, func(i, j int) bool {
		if rels[i].FromID != rels[j].FromID {
			return rels[i].FromID < rels[j].FromID
		}
		return rels[i].ToID < rels[j].ToID
	})

	ids := make([]string, len(members))
	for i, it := range members {
		ids[i] = it.ID
	}
	sort.Strings(ids)

	s := domain.WorkStory{
		ID:            domain.StableID("story", ids...),
		Items:         members,
		Relationships: rels,
		People:        people(members),
		Platforms:     platforms(members),
		StartedAt:     members[0].Timestamp,
		EndedAt:       members[len(members)-1].Timestamp,
		CreatedAt:     now,
		UpdatedAt:     now,
		Singleton:     len(members) == 1,
	}
	if s.Relationships == nil {
		s.Relationships = []domain.EvidenceRelationship{}
	}

	anchor := primaryTicket(members, rels)
	if anchor != nil {
		s.PrimaryTicket = ticketKey(*anchor)
	}
	s.Title = title(members, rels, anchor)
	s.Description = describe(members, rels)
	s.Status = status(members, anchor)
	s.CompletionPercentage = completion(members, s.Status)

	if a.opts.DetectTechnology {
		found := make(map[string]bool)
		for _, it := range members {
			for _, t := range a.catalog.Detect(it) {
				found[t] = true
			}
		}
		s.TechnologyStack = sortedKeys(found)
	} else {
		s.TechnologyStack = metadataTechnologies(members)
	}
	s.Complexity = Complexity(len(members), len(s.Platforms), len(rels), len(s.TechnologyStack), a.catalog.ContentScore(members))
	if a.opts.AnalyzePatterns {
		s.Timeline = Timeline(members)
	}
	return s
}

// Complexity is non-decreasing in items, platforms and relationships and
// clamped to [0,1]. Technology spread and content indicators shift it.
func Complexity(items, platforms, rels, techs int, content float64) float64 {
	score := math.Min(float64(items)/10, 1) * 0.5
	if platforms > 1 {
		score += float64(platforms-1) * 0.2
	}
	score += math.Min(float64(rels)/10, 1) * 0.3
	score += math.Min(float64(techs)/5, 1) * 0.1
	score += content
	return clamp(score, 0, 1)
}

// primaryTicket prefers a ticket targeted by a solves relationship, then the
// earliest ticket.
func primaryTicket(items []domain.EvidenceItem, rels []domain.EvidenceRelationship) *domain.EvidenceItem {
	byID := make(map[string]int, len(items))
	for i, it := range items {
		byID[it.ID] = i
	}
	var solved []string
	for _, r := range rels {
		if r.Kind != domain.RelationSolves {
			continue
		}
		for _, id := range []string{r.ToID, r.FromID} {
			if i, ok := byID[id]; ok && items[i].Kind == domain.SourceTicket {
				solved = append(solved, id)
			}
		}
	}
	if len(solved) > 0 {
		sort.Strings(solved)
		it := items[byID[solved[0]]]
		return &it
	}
	for _, it := range items {
		if it.Kind == domain.SourceTicket {
			return &it
		}
	}
	return nil
}

func ticketKey(it domain.EvidenceItem) string {
	if it.Metadata.IssueKey != "" {
		return it.Metadata.IssueKey
	}
	if keys := issuekey.Extract(it.Title); len(keys) > 0 {
		return keys[0]
	}
	return it.ID
}

// title uses the anchoring ticket's title, else the title of the item with
// the strongest incident relationship.
func title(items []domain.EvidenceItem, rels []domain.EvidenceRelationship, anchor *domain.EvidenceItem) string {
	if anchor != nil && strings.TrimSpace(anchor.Title) != "" {
		return anchor.Title
	}
	best := make(map[string]float64)
	for _, r := range rels {
		best[r.FromID] = math.Max(best[r.FromID], r.Confidence)
		best[r.ToID] = math.Max(best[r.ToID], r.Confidence)
	}
	pick := items[0]
	for _, it := range items[1:] {
		if best[it.ID] > best[pick.ID] {
			pick = it
		}
	}
	return pick.Title
}

func describe(items []domain.EvidenceItem, rels []domain.EvidenceRelationship) string {
	plats := platforms(items)
	names := make([]string, len(plats))
	for i, p := range plats {
		names[i] = string(p)
	}
	desc := fmt.Sprintf("Work story with %d evidence items across %s.", len(items), strings.Join(names, ", "))
	kinds := make(map[string]bool)
	for _, r := range rels {
		kinds[string(r.Kind)] = true
	}
	if len(kinds) > 0 {
		desc += " Relationship kinds: " + strings.Join(sortedKeys(kinds), ", ") + "."
	}
	return desc
}

// status takes the anchor ticket's state, then the latest ticket with a known
// state, then the latest merge request with a known state.
func status(items []domain.EvidenceItem, anchor *domain.EvidenceItem) domain.StoryStatus {
	if anchor != nil {
		if st := domain.TicketStatus(anchor.Metadata.State); st != domain.StatusUnknown {
			return st
		}
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == domain.SourceTicket {
			if st := domain.TicketStatus(items[i].Metadata.State); st != domain.StatusUnknown {
				return st
			}
		}
	}
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == domain.SourceMergeRequest {
			if st := domain.MergeRequestStatus(items[i].Metadata.State); st != domain.StatusUnknown {
				return st
			}
		}
	}
	return domain.StatusUnknown
}

// completion is 100 for completed stories and 0 for cancelled or unknown
// ones. Otherwise it is the share of tracked items already done, capped
// below 100.
func completion(items []domain.EvidenceItem, st domain.StoryStatus) float64 {
	switch st {
	case domain.StatusCompleted:
		return 100
	case domain.StatusCancelled, domain.StatusUnknown:
		return 0
	}
	tracked, done := 0, 0
	for _, it := range items {
		var s domain.StoryStatus
		switch it.Kind {
		case domain.SourceTicket:
			s = domain.TicketStatus(it.Metadata.State)
		case domain.SourceMergeRequest:
			s = domain.MergeRequestStatus(it.Metadata.State)
		default:
			continue
		}
		if s == domain.StatusUnknown {
			continue
		}
		tracked++
		if s == domain.StatusCompleted {
			done++
		}
	}
	if tracked == 0 {
		return 0
	}
	return math.Min(90, math.Round(float64(done)/float64(tracked)*100))
}

func people(items []domain.EvidenceItem) []string {
	seen := make(map[string]bool)
	var out []string
	for _, it := range items {
		for _, p := range it.People() {
			k := strings.ToLower(p)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}

func platforms(items []domain.EvidenceItem) []domain.Platform {
	seen := make(map[domain.Platform]bool)
	var out []domain.Platform
	for _, it := range items {
		p := it.Platform()
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
