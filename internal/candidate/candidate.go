package candidate

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"workstories/internal/domain"
	"workstories/internal/issuekey"
	"workstories/internal/tokens"
)

type Reason string

const (
	ReasonTokenOverlap Reason = "token-overlap"
	ReasonIdentity     Reason = "same-identity"
	ReasonProximity    Reason = "temporal-proximity"
	ReasonReference    Reason = "explicit-reference"
)

type Options struct {
	ProximityWindow time.Duration
	MinTokenLength  int
	// Buckets holding more items than this are too common to discriminate
	// and are ignored.
	MaxBucketSize int
	MaxCandidates int
}

func DefaultOptions() Options {
	return Options{
		ProximityWindow: 72 * time.Hour,
		MinTokenLength:  4,
		MaxBucketSize:   50,
		MaxCandidates:   5000,
	}
}

// Pair is an unordered candidate pair; A.ID < B.ID.
type Pair struct {
	A, B          domain.EvidenceItem
	Reasons       []Reason
	SharedTokens  []string
	CrossPlatform bool
}

func (p Pair) Has(r Reason) bool {
	for _, x := range p.Reasons {
		if x == r {
			return true
		}
	}
	return false
}

func (p Pair) Key() string {
	return domain.PairKey(p.A.ID, p.B.ID)
}

type Stats struct {
	Items          int `json:"items"`
	Candidates     int `json:"candidates"`
	Truncated      int `json:"truncated"`
	IgnoredBuckets int `json:"ignored_buckets"`
}

var (
	shaRe   = regexp.MustCompile(`\b[0-9a-f]{7,40}\b`)
	mrRefRe = regexp.MustCompile(`!(\d+)\b`)
)

type pairState struct {
	i, j    int
	reasons map[Reason]bool
}

// Generate returns the candidate pairs for items, cross-platform pairs
// first. It does no I/O and is safe to call concurrently.
func Generate(items []domain.EvidenceItem, opts Options) ([]Pair, Stats) {
	if opts.MinTokenLength <= 0 {
		opts.MinTokenLength = DefaultOptions().MinTokenLength
	}
	if opts.MaxBucketSize <= 0 {
		opts.MaxBucketSize = DefaultOptions().MaxBucketSize
	}

	stats := Stats{Items: len(items)}
	sorted := make([]domain.EvidenceItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].ID < sorted[b].ID })

	pairs := make(map[[2]int]*pairState)
	mark := func(i, j int, r Reason) {
		if i == j {
			return
		}
		if i > j {
			i, j = j, i
		}
		k := [2]int{i, j}
		ps := pairs[k]
		if ps == nil {
			ps = &pairState{i: i, j: j, reasons: make(map[Reason]bool)}
			pairs[k] = ps
		}
		ps.reasons[r] = true
	}

	toks := make([][]string, len(sorted))
	tokenBuckets := make(map[string][]int)
	identityBuckets := make(map[string][]int)
	for i, it := range sorted {
		toks[i] = tokens.Significant(it.Text(), opts.MinTokenLength)
		for _, tok := range toks[i] {
			tokenBuckets[tok] = append(tokenBuckets[tok], i)
		}
		for _, id := range it.Identities() {
			identityBuckets[id] = append(identityBuckets[id], i)
		}
	}
	stats.IgnoredBuckets += markBuckets(tokenBuckets, opts.MaxBucketSize, ReasonTokenOverlap, mark)
	stats.IgnoredBuckets += markBuckets(identityBuckets, opts.MaxBucketSize, ReasonIdentity, mark)

	if opts.ProximityWindow > 0 {
		byTime := make([]int, len(sorted))
		for i := range byTime {
			byTime[i] = i
		}
		sort.SliceStable(byTime, func(a, b int) bool {
			return sorted[byTime[a]].Timestamp.Before(sorted[byTime[b]].Timestamp)
		})
		for a := 0; a < len(byTime); a++ {
			ta := sorted[byTime[a]].Timestamp
			for b := a + 1; b < len(byTime); b++ {
				if sorted[byTime[b]].Timestamp.Sub(ta) > opts.ProximityWindow {
					break
				}
				mark(byTime[a], byTime[b], ReasonProximity)
			}
		}
	}

	markReferences(sorted, mark)

	out := make([]Pair, 0, len(pairs))
	for _, ps := range pairs {
		a, b := sorted[ps.i], sorted[ps.j]
		p := Pair{
			A:             a,
			B:             b,
			SharedTokens:  tokens.Overlap(toks[ps.i], toks[ps.j]),
			CrossPlatform: a.Platform() != b.Platform(),
		}
		for _, r := range []Reason{ReasonReference, ReasonTokenOverlap, ReasonIdentity, ReasonProximity} {
			if ps.reasons[r] {
				p.Reasons = append(p.Reasons, r)
			}
		}
		out = append(out, p)
	}
	sort.Slice(out, func(x, y int) bool {
		px, py := out[x], out[y]
		if px.CrossPlatform != py.CrossPlatform {
			return px.CrossPlatform
		}
		if px.Has(ReasonReference) != py.Has(ReasonReference) {
			return px.Has(ReasonReference)
		}
		if len(px.Reasons) != len(py.Reasons) {
			return len(px.Reasons) > len(py.Reasons)
		}
		if px.A.ID != py.A.ID {
			return px.A.ID < py.A.ID
		}
		return px.B.ID < py.B.ID
	})
	if opts.MaxCandidates > 0 && len(out) > opts.MaxCandidates {
		stats.Truncated = len(out) - opts.MaxCandidates
		out = out[:opts.MaxCandidates]
	}
	stats.Candidates = len(out)
	return out, stats
}

func markBuckets(buckets map[string][]int, maxSize int, r Reason, mark func(int, int, Reason)) int {
	ignored := 0
	for _, idx := range buckets {
		if len(idx) < 2 {
			continue
		}
		if len(idx) > maxSize {
			ignored++
			continue
		}
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				mark(idx[a], idx[b], r)
			}
		}
	}
	return ignored
}

// markReferences pairs items whose text or metadata names another item:
// issue keys (from metadata or the item ID), distinctive raw IDs, commit
// SHAs (7+ hex chars) and merge request refs ("!42").
func markReferences(items []domain.EvidenceItem, mark func(int, int, Reason)) {
	ownKey := make(map[string][]int)
	mentions := make(map[string][]int)
	byID := make(map[string]int)
	rawIDs := make(map[string][]int)
	var commits []int
	for i, it := range items {
		byID[it.ID] = i
		if domain.DistinctiveID(it.ID) {
			lower := strings.ToLower(it.ID)
			rawIDs[lower] = append(rawIDs[lower], i)
		}
		own := OwnKeys(it)
		for _, k := range own {
			ownKey[k] = append(ownKey[k], i)
		}
		keys := issuekey.Merge(it.Metadata.IssueKeys, issuekey.Extract(it.Text()))
		if bk := issuekey.FromBranch(it.Metadata.Branch); bk != "" {
			keys = issuekey.Merge(keys, []string{bk})
		}
		for _, k := range keys {
			if containsString(own, k) {
				continue
			}
			mentions[k] = append(mentions[k], i)
		}
		if it.Kind == domain.SourceCommit {
			commits = append(commits, i)
		}
	}

	for key, owners := range ownKey {
		for _, o := range owners {
			for _, m := range mentions[key] {
				mark(o, m, ReasonReference)
			}
		}
	}
	for _, ms := range mentions {
		for a := 0; a < len(ms); a++ {
			for b := a + 1; b < len(ms); b++ {
				mark(ms[a], ms[b], ReasonReference)
			}
		}
	}

	for i, it := range items {
		text := it.Text()
		for _, tok := range domain.IdentifierTokens(text) {
			for _, j := range rawIDs[strings.ToLower(tok)] {
				mark(i, j, ReasonReference)
			}
		}
		for _, m := range mrRefRe.FindAllStringSubmatch(text, -1) {
			if j, ok := byID["mr:"+m[1]]; ok {
				mark(i, j, ReasonReference)
			}
		}
		for _, sha := range shaRe.FindAllString(strings.ToLower(text), -1) {
			for _, j := range commits {
				full := strings.TrimPrefix(items[j].ID, "commit:")
				if strings.HasPrefix(strings.ToLower(full), sha) {
					mark(i, j, ReasonReference)
				}
			}
		}
	}
}

// OwnKeys lists the issue keys that identify it: the metadata key and a
// key embedded in its ID.
func OwnKeys(it domain.EvidenceItem) []string {
	var out []string
	if it.Metadata.IssueKey != "" {
		out = append(out, it.Metadata.IssueKey)
	}
	if k := issuekey.FromID(it.ID); k != "" && k != it.Metadata.IssueKey {
		out = append(out, k)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
