package rules

import (
	"fmt"
	"math"
	"strings"
	"time"

	"workstories/internal/candidate"
	"workstories/internal/domain"
	"workstories/internal/issuekey"
	"workstories/internal/tokens"
)

const (
	IssueKeyConfidence    = 0.95
	BranchConfidence      = 0.9
	AuthorMatchConfidence = 0.6
	AuthorWeakConfidence  = 0.5
	TemporalConfidence    = 0.4
	// Shared vocabulary without any detector match. Enough to escalate when
	// two or more significant tokens overlap.
	ContentOverlapConfidence = 0.4
	ContentWeakConfidence    = 0.3
)

type Options struct {
	AutoAccept      float64
	EscalationFloor float64
	ProximityWindow time.Duration
}

func DefaultOptions() Options {
	return Options{AutoAccept: 0.7, EscalationFloor: 0.35, ProximityWindow: 72 * time.Hour}
}

type Decision int

const (
	Discard Decision = iota
	Escalate
	Accept
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Escalate:
		return "escalate"
	}
	return "discard"
}

// Result is the outcome of the first matching detector. Method is empty when
// only shared vocabulary was found.
type Result struct {
	Method     domain.DetectionMethod
	Confidence float64
	Kind       domain.RelationshipKind
	FromID     string
	ToID       string
	Summary    string
	// Hints is context for later tiers, e.g. "timestamps 5h apart, no key match".
	Hints []string
}

type Detector struct {
	opts Options
}

func New(opts Options) *Detector {
	return &Detector{opts: opts}
}

func (d *Detector) Decide(r Result) Decision {
	switch {
	case r.Confidence >= d.opts.AutoAccept:
		return Accept
	case r.Confidence >= d.opts.EscalationFloor:
		return Escalate
	}
	return Discard
}

// Detect applies the detectors in priority order and returns the first match.
func (d *Detector) Detect(p candidate.Pair) Result {
	if r, ok := issueKeyMatch(p); ok {
		return r
	}
	if r, ok := branchMatch(p); ok {
		return r
	}

	gap := absDuration(p.A.Timestamp.Sub(p.B.Timestamp))
	within := d.opts.ProximityWindow > 0 && gap <= d.opts.ProximityWindow
	shared := p.SharedTokens
	from, to := Orient(p.A, p.B)

	if person := sharedIdentity(p.A, p.B); person != "" && within {
		r := Result{
			Method: domain.MethodAuthorMatch,
			Kind:   domain.RelationRelatedTo,
			FromID: from.ID,
			ToID:   to.ID,
		}
		if len(shared) == 0 {
			r.Confidence = AuthorWeakConfidence
			r.Summary = fmt.Sprintf("Both items belong to %s and are %s apart, with no shared wording.", person, humanGap(gap))
			r.Hints = []string{"same person and close in time", "no textual overlap", "no issue key match"}
		} else {
			r.Confidence = AuthorMatchConfidence
			r.Summary = fmt.Sprintf("Both items belong to %s, are %s apart and share terms: %s.", person, humanGap(gap), listTerms(shared))
			r.Hints = []string{"same person and close in time", "shared terms: " + listTerms(shared), "no issue key match"}
		}
		return r
	}

	if within {
		r := Result{
			Method:     domain.MethodTemporalProximity,
			Confidence: TemporalConfidence,
			Kind:       domain.RelationSequential,
			FromID:     from.ID,
			ToID:       to.ID,
			Summary:    fmt.Sprintf("Items were created %s apart.", humanGap(gap)),
			Hints:      []string{fmt.Sprintf("temporal proximity (%s apart) but no key match", humanGap(gap))},
		}
		if len(shared) > 0 {
			r.Hints = append(r.Hints, "shared terms: "+listTerms(shared))
		}
		return r
	}

	if len(shared) > 0 {
		conf := ContentWeakConfidence
		if len(shared) >= 2 {
			conf = ContentOverlapConfidence
		}
		return Result{
			Confidence: conf,
			Kind:       domain.RelationRelatedTo,
			FromID:     from.ID,
			ToID:       to.ID,
			Summary:    fmt.Sprintf("Items share terms: %s.", listTerms(shared)),
			Hints:      []string{"shared terms: " + listTerms(shared), fmt.Sprintf("%s apart, no identity or key link", humanGap(gap))},
		}
	}
	return Result{FromID: from.ID, ToID: to.ID, Kind: domain.RelationRelatedTo}
}

func issueKeyMatch(p candidate.Pair) (Result, bool) {
	for _, dir := range [][2]domain.EvidenceItem{{p.A, p.B}, {p.B, p.A}} {
		src, dst := dir[0], dir[1]
		if ref := referencedIdentifier(src, dst); ref != "" {
			return Result{
				Method:     domain.MethodIssueKey,
				Confidence: IssueKeyConfidence,
				Kind:       InferKind(src.Text(), domain.RelationReferences),
				FromID:     src.ID,
				ToID:       dst.ID,
				Summary:    fmt.Sprintf("%s %q references %s, the identifier of %s %q.", kindLabel(src.Kind), src.Title, ref, kindLabel(dst.Kind), dst.Title),
			}, true
		}
	}
	if key := sharedMentionedKey(p.A, p.B); key != "" {
		from, to := Orient(p.A, p.B)
		return Result{
			Method:     domain.MethodIssueKey,
			Confidence: IssueKeyConfidence,
			Kind:       domain.RelationRelatedTo,
			FromID:     from.ID,
			ToID:       to.ID,
			Summary:    fmt.Sprintf("Both items reference issue %s.", key),
		}, true
	}
	return Result{}, false
}

// referencedIdentifier returns the key or identifier of dst that src's text
// or metadata names.
func referencedIdentifier(src, dst domain.EvidenceItem) string {
	text := src.Text()
	mentioned := issuekey.Merge(src.Metadata.IssueKeys, issuekey.Extract(text))
	for _, own := range candidate.OwnKeys(dst) {
		for _, k := range mentioned {
			if k == own {
				return own
			}
		}
	}
	if domain.MentionsID(text, dst.ID) {
		return dst.ID
	}
	switch dst.Kind {
	case domain.SourceMergeRequest:
		if num, ok := strings.CutPrefix(dst.ID, "mr:"); ok && containsRef(text, "!"+num) {
			return "!" + num
		}
	case domain.SourceCommit:
		if sha, ok := strings.CutPrefix(dst.ID, "commit:"); ok && len(sha) >= 7 {
			lower := strings.ToLower(text)
			for _, tok := range tokens.Tokenize(lower) {
				if len(tok) >= 7 && strings.HasPrefix(strings.ToLower(sha), tok) {
					return tok
				}
			}
		}
	}
	return ""
}

func containsRef(text, ref string) bool {
	idx := strings.Index(text, ref)
	for idx >= 0 {
		end := idx + len(ref)
		if end == len(text) || !isDigit(text[end]) {
			return true
		}
		next := strings.Index(text[end:], ref)
		if next < 0 {
			return false
		}
		idx = end + next
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func sharedMentionedKey(a, b domain.EvidenceItem) string {
	bk := make(map[string]bool)
	for _, k := range b.Metadata.IssueKeys {
		if k != b.Metadata.IssueKey {
			bk[k] = true
		}
	}
	for _, k := range a.Metadata.IssueKeys {
		if k != a.Metadata.IssueKey && bk[k] {
			return k
		}
	}
	return ""
}

var defaultBranches = map[string]bool{"main": true, "master": true, "develop": true, "dev": true, "trunk": true, "release": true}

func branchMatch(p candidate.Pair) (Result, bool) {
	for _, dir := range [][2]domain.EvidenceItem{{p.A, p.B}, {p.B, p.A}} {
		src, dst := dir[0], dir[1]
		key := issuekey.FromBranch(src.Metadata.Branch)
		if key == "" {
			continue
		}
		if key == dst.Metadata.IssueKey || containsKey(dst.Metadata.IssueKeys, key) {
			def := domain.RelationRelatedTo
			if dst.Kind == domain.SourceTicket {
				def = domain.RelationSolves
			}
			return Result{
				Method:     domain.MethodBranchName,
				Confidence: BranchConfidence,
				Kind:       InferKind(src.Text(), def),
				FromID:     src.ID,
				ToID:       dst.ID,
				Summary:    fmt.Sprintf("Branch %q of %s %q carries issue key %s, matching %s %q.", src.Metadata.Branch, kindLabel(src.Kind), src.Title, key, kindLabel(dst.Kind), dst.Title),
			}, true
		}
	}

	ba, bb := strings.TrimSpace(p.A.Metadata.Branch), strings.TrimSpace(p.B.Metadata.Branch)
	if ba != "" && strings.EqualFold(ba, bb) && !defaultBranches[strings.ToLower(ba)] {
		from, to := Orient(p.A, p.B)
		return Result{
			Method:     domain.MethodBranchName,
			Confidence: BranchConfidence,
			Kind:       domain.RelationRelatedTo,
			FromID:     from.ID,
			ToID:       to.ID,
			Summary:    fmt.Sprintf("Both items were made on branch %q.", ba),
		}, true
	}
	return Result{}, false
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func sharedIdentity(a, b domain.EvidenceItem) string {
	ids := make(map[string]bool)
	for _, id := range a.Identities() {
		ids[id] = true
	}
	for _, id := range b.Identities() {
		if ids[id] {
			return id
		}
	}
	return ""
}

var kindRank = map[domain.SourceKind]int{
	domain.SourceCommit:       0,
	domain.SourceMergeRequest: 1,
	domain.SourceDocument:     2,
	domain.SourceTicket:       3,
}

// Orient picks a stable direction for links with no natural one: work
// artifacts point at the items they deliver on (commit, MR, document,
// ticket), ties broken by id.
func Orient(a, b domain.EvidenceItem) (domain.EvidenceItem, domain.EvidenceItem) {
	ra, rb := kindRank[a.Kind], kindRank[b.Kind]
	if ra != rb {
		if ra < rb {
			return a, b
		}
		return b, a
	}
	if a.ID <= b.ID {
		return a, b
	}
	return b, a
}

func kindLabel(k domain.SourceKind) string {
	switch k {
	case domain.SourceMergeRequest:
		return "Merge request"
	case domain.SourceTicket:
		return "Ticket"
	case domain.SourceDocument:
		return "Document"
	}
	return "Commit"
}

func listTerms(terms []string) string {
	if len(terms) > 5 {
		terms = terms[:5]
	}
	return strings.Join(terms, ", ")
}

func humanGap(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "less than a minute"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(math.Round(d.Hours())))
	}
	return fmt.Sprintf("%dd", int(math.Round(d.Hours()/24)))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
