package correlate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"workstories/internal/candidate"
	"workstories/internal/domain"
	"workstories/internal/embedding"
	"workstories/internal/integrations/llm"
	"workstories/internal/ledger"
	"workstories/internal/normalize"
	"workstories/internal/rules"
	"workstories/internal/semantic"
	"workstories/internal/story"
)

const Version = "2.1.0"

const (
	noEvidenceError = "No evidence items provided for correlation"
	maxPairWarnings = 20
)

var algorithmVersions = map[string]string{
	"candidate_generation": "1.2",
	"rule_based":           "2.1",
	"embedding_similarity": "1.1",
	"llm_semantic":         "1.0",
	"story_assembly":       "2.0",
	"technology_detection": "1.1",
}

type Config struct {
	// Ledger gates paid calls. Nil means a zero budget: paid tiers never run.
	Ledger  *ledger.Ledger
	Pricing ledger.PricingTable
	// Embedder and LLM are optional; a nil value disables the tier.
	Embedder embedding.Provider
	LLM      llm.Client
	Catalog  *story.Catalog
	Location *time.Location
	Clock    func() time.Time
}

// Engine runs correlations. It keeps no state between runs apart from the
// shared ledger and is safe for concurrent use.
type Engine struct {
	ledger   *ledger.Ledger
	pricing  ledger.PricingTable
	embedder embedding.Provider
	llm      llm.Client
	catalog  *story.Catalog
	loc      *time.Location
	now      func() time.Time
}

func New(cfg Config) *Engine {
	e := &Engine{
		ledger:   cfg.Ledger,
		pricing:  cfg.Pricing,
		embedder: cfg.Embedder,
		llm:      cfg.LLM,
		catalog:  cfg.Catalog,
		loc:      cfg.Location,
		now:      cfg.Clock,
	}
	if e.ledger == nil {
		e.ledger = ledger.New(0)
	}
	if e.pricing == nil {
		e.pricing = ledger.DefaultPricing()
	}
	if e.catalog == nil {
		e.catalog = story.DefaultCatalog()
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Correlate runs every tier. The returned error is non-nil only for invalid
// options; all other problems are reported in the response.
func (e *Engine) Correlate(ctx context.Context, items []domain.EvidenceItem, opts Options) (Response, error) {
	if err := opts.Validate(); err != nil {
		return Response{}, err
	}
	return e.run(ctx, items, nil, opts, ModeFull), nil
}

// CorrelateRuleBased runs tiers 0 and 1 only. It issues no paid call and its
// relationships are always a subset of Correlate's on the same input.
func (e *Engine) CorrelateRuleBased(ctx context.Context, items []domain.EvidenceItem, opts Options) (Response, error) {
	if err := opts.Validate(); err != nil {
		return Response{}, err
	}
	return e.run(ctx, items, nil, opts, ModeRuleBased), nil
}

// CorrelateRecords normalizes raw source records and runs the full pipeline.
func (e *Engine) CorrelateRecords(ctx context.Context, records []normalize.Record, opts Options) (Response, error) {
	if err := opts.Validate(); err != nil {
		return Response{}, err
	}
	items, warnings := normalize.Normalizer{Location: e.loc}.Normalize(records)
	return e.run(ctx, items, warnings, opts, ModeFull), nil
}

func (e *Engine) CorrelateRecordsRuleBased(ctx context.Context, records []normalize.Record, opts Options) (Response, error) {
	if err := opts.Validate(); err != nil {
		return Response{}, err
	}
	items, warnings := normalize.Normalizer{Location: e.loc}.Normalize(records)
	return e.run(ctx, items, warnings, opts, ModeRuleBased), nil
}

func (e *Engine) Status() Status {
	snap := e.ledger.Snapshot()
	st := Status{
		Version:      Version,
		BudgetState:  snap.State,
		RemainingUSD: snap.Remaining,
		Unlimited:    snap.Unlimited,
		Modes:        []Mode{ModeFull, ModeRuleBased},
		Algorithms:   make(map[string]string, len(algorithmVersions)),
	}
	for k, v := range algorithmVersions {
		st.Algorithms[k] = v
	}
	open := !e.ledger.Exhausted()
	if e.embedder != nil {
		st.EmbeddingEnabled = open
		st.EmbeddingProvider = e.embedder.Name()
		st.EmbeddingModel = e.embedder.Model()
	}
	if e.llm != nil {
		st.LLMEnabled = open
		st.LLMProvider = e.llm.Provider()
		st.LLMModel = e.llm.Model()
	}
	return st
}

func (e *Engine) Usage() ledger.Snapshot {
	return e.ledger.Snapshot()
}

func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

type runState struct {
	e            *Engine
	opts         Options
	mode         Mode
	items        map[string]domain.EvidenceItem
	now          time.Time
	warnings     []string
	pairWarnings int
	suppressed   int
	stats        TierStats
}

func (r *runState) warn(format string, args ...any) {
	r.warnings = append(r.warnings, fmt.Sprintf(format, args...))
}

// pairWarn records a per-pair problem. Past maxPairWarnings they are only
// counted.
func (r *runState) pairWarn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("correlate %s", msg)
	if r.pairWarnings < maxPairWarnings {
		r.pairWarnings++
		r.warnings = append(r.warnings, msg)
		return
	}
	r.suppressed++
}

func (e *Engine) run(ctx context.Context, input []domain.EvidenceItem, warnings []string, opts Options, mode Mode) Response {
	start := e.now()
	resp := Response{Mode: mode, Errors: []string{}, Warnings: []string{}}
	r := &runState{e: e, opts: opts, mode: mode, now: start, warnings: warnings}

	items, itemWarnings := normalize.Normalizer{Location: e.loc}.Items(input)
	r.warnings = append(r.warnings, itemWarnings...)
	if n := len(input) - len(items); n > 0 {
		r.warn("%d items dropped during normalization", n)
	}
	if len(items) == 0 {
		resp.Errors = append(resp.Errors, noEvidenceError)
		resp.Warnings = append(resp.Warnings, r.warnings...)
		resp.Items = []domain.EvidenceItem{}
		resp.Relationships = []domain.EvidenceRelationship{}
		resp.WorkStories = []domain.WorkStory{}
		resp.Ledger = e.ledger.Snapshot()
		resp.ProcessingTimeMs = e.now().Sub(start).Milliseconds()
		return resp
	}
	r.items = make(map[string]domain.EvidenceItem, len(items))
	for _, it := range items {
		r.items[it.ID] = it
	}
	costBefore := e.ledger.Snapshot().Cost

	tasks := r.tier1(items)
	escalated := pending(tasks)
	if mode == ModeRuleBased {
		for _, t := range escalated {
			t.discard("paid tiers bypassed")
		}
		escalated = nil
	}

	var residual []*pairTask
	if len(escalated) > 0 && ctx.Err() == nil {
		residual = r.tier2(ctx, items, escalated)
	}
	if len(residual) > 0 && ctx.Err() == nil {
		r.tier3(ctx, residual)
	}

	if ctx.Err() != nil {
		resp.Cancelled = true
		n := 0
		for _, t := range tasks {
			if t.discard("cancelled") {
				n++
			}
		}
		r.warn("run cancelled: %d pairs left unresolved, returning finalized results", n)
		log.Printf("correlate cancelled unresolved=%d err=%v", n, ctx.Err())
	}

	rels, graph := r.collect(tasks)
	stories := story.NewAssembler(story.Options{
		MinEvidence:       opts.MinEvidencePerStory,
		IncludeSingletons: opts.IncludeSingletons,
		MaxDuration:       opts.MaxStoryDuration(),
		MaxStories:        opts.MaxWorkStories,
		DetectTechnology:  opts.DetectTechnologyStack,
		AnalyzePatterns:   opts.AnalyzeWorkPatterns,
	}, e.catalog).Assemble(items, graph, start)

	covered := make(map[string]bool)
	for _, s := range stories {
		for _, it := range s.Items {
			covered[it.ID] = true
		}
	}

	for _, t := range tasks {
		if t.stage == Discarded {
			r.stats.Discarded++
		}
	}
	if r.suppressed > 0 {
		r.warn("%d more pair warnings suppressed", r.suppressed)
	}

	snap := e.ledger.Snapshot()
	resp.Success = true
	resp.ItemsProcessed = len(items)
	resp.RelationshipsDetected = len(rels)
	resp.WorkStoriesCreated = len(stories)
	resp.AvgConfidence = meanConfidence(rels)
	resp.CorrelationCoverage = float64(len(covered)) / float64(len(items)) * 100
	resp.Items = items
	resp.Relationships = rels
	resp.WorkStories = stories
	resp.Insights = buildInsights(items, rels, stories, opts.GenerateInsights, opts.AnalyzeWorkPatterns)
	resp.Ledger = snap
	resp.RunCost = math.Max(0, snap.Cost-costBefore)
	resp.Tiers = r.stats
	resp.Warnings = append(resp.Warnings, r.warnings...)
	resp.ProcessingTimeMs = e.now().Sub(start).Milliseconds()

	log.Printf("correlate done mode=%s items=%d relationships=%d stories=%d coverage=%.1f cost=%.6f", mode, len(items), len(rels), len(stories), resp.CorrelationCoverage, resp.RunCost)
	return resp
}

func (r *runState) tier1(items []domain.EvidenceItem) []*pairTask {
	pairs, cstats := candidate.Generate(items, candidate.Options{
		ProximityWindow: r.opts.ProximityWindow(),
		MinTokenLength:  r.opts.MinTokenLength,
		MaxBucketSize:   candidate.DefaultOptions().MaxBucketSize,
		MaxCandidates:   r.opts.MaxCandidates,
	})
	r.stats.Candidates = cstats.Candidates
	r.stats.Truncated = cstats.Truncated
	if cstats.Truncated > 0 {
		r.warn("%d candidate pairs truncated at max_candidates=%d", cstats.Truncated, r.opts.MaxCandidates)
	}

	det := rules.New(rules.Options{
		AutoAccept:      r.opts.AutoAcceptThreshold,
		EscalationFloor: r.opts.EscalationFloor,
		ProximityWindow: r.opts.ProximityWindow(),
	})
	tasks := make([]*pairTask, len(pairs))
	for i, p := range pairs {
		t := &pairTask{pair: p}
		t.tier1 = det.Detect(p)
		d := det.Decide(t.tier1)
		// Shared vocabulary alone never finalizes a pair.
		if d == rules.Accept && t.tier1.Method == "" {
			d = rules.Escalate
		}
		switch d {
		case rules.Accept:
			t.resolve(Tier1Resolved, r.relationship(t.tier1.FromID, t.tier1.ToID, t.tier1.Kind, t.tier1.Confidence, t.tier1.Method, t.tier1.Summary, nil))
			r.stats.Tier1Accepted++
		case rules.Escalate:
			r.stats.Tier1Escalated++
		default:
			t.discard("below escalation floor")
		}
		tasks[i] = t
	}
	log.Printf("correlate tier0 items=%d candidates=%d truncated=%d ignored_buckets=%d", cstats.Items, cstats.Candidates, cstats.Truncated, cstats.IgnoredBuckets)
	log.Printf("correlate tier1 accepted=%d escalated=%d", r.stats.Tier1Accepted, r.stats.Tier1Escalated)
	return tasks
}

type tier2Result struct {
	score embedding.Score
	err   error
	ran   bool
}

// tier2 scores escalated pairs by embedding similarity and returns the pairs
// still pending that are important enough for tier 3.
func (r *runState) tier2(ctx context.Context, items []domain.EvidenceItem, tasks []*pairTask) []*pairTask {
	if r.e.embedder == nil {
		return r.rank(tasks)
	}
	if r.e.ledger.Exhausted() {
		r.warn("tier 2 skipped: budget exhausted")
		r.fallback(tasks, "budget exhausted before tier 2")
		return nil
	}

	provider := r.e.embedder
	if cp, ok := provider.(embedding.CorpusProvider); ok {
		texts := make([]string, len(items))
		for i, it := range items {
			texts[i] = it.Text()
		}
		provider = cp.WithCorpus(texts)
	}
	scorer := embedding.NewScorer(provider, r.e.ledger, r.e.pricing, embedding.Options{
		AcceptSimilarity: r.opts.EmbeddingAcceptThreshold,
		CallTimeout:      r.opts.CallTimeout(),
	})

	results := make([]tier2Result, len(tasks))
	var g errgroup.Group
	g.SetLimit(r.opts.FanOut)
	for i, t := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			sc, err := scorer.Score(ctx, t.pair.A, t.pair.B)
			results[i] = tier2Result{score: sc, err: err, ran: true}
			return nil
		})
	}
	g.Wait()
	r.stats.EmbeddingCalls = scorer.Calls()

	var residual []*pairTask
	budgetHit := false
	for i, t := range tasks {
		res := results[i]
		switch {
		case !res.ran:
			continue
		case errors.Is(res.err, embedding.ErrBudgetExhausted):
			budgetHit = true
			t.discard("budget exhausted during tier 2")
			continue
		case res.err != nil && ctx.Err() != nil:
			continue
		case res.err != nil:
			r.pairWarn("tier 2 failed for %s: %v", t.pair.Key(), res.err)
			t.discard("tier 2 failed")
			continue
		}
		sc := res.score
		t.score = &sc
		if sc.Accepted {
			from, to := r.items[t.tier1.FromID], r.items[t.tier1.ToID]
			kind := rules.InferKind(from.Text(), domain.RelationRelatedTo)
			summary := fmt.Sprintf("Embedding similarity %.2f between %q and %q.", sc.Similarity, from.Title, to.Title)
			t.resolve(Tier2Resolved, r.relationship(from.ID, to.ID, kind, sc.Confidence, domain.MethodEmbedding, summary, map[string]string{
				"similarity": fmt.Sprintf("%.4f", sc.Similarity),
				"model":      provider.Model(),
			}))
			r.stats.Tier2Accepted++
			continue
		}
		residual = append(residual, t)
	}
	if budgetHit {
		r.warn("tier 2 stopped: budget exhausted")
	}
	log.Printf("correlate tier2 provider=%s scored=%d accepted=%d calls=%d", provider.Name(), len(tasks), r.stats.Tier2Accepted, r.stats.EmbeddingCalls)
	return r.rank(residual)
}

// rank keeps the pairs whose importance reaches the tier 3 floor, most
// important first.
func (r *runState) rank(tasks []*pairTask) []*pairTask {
	var out []*pairTask
	for _, t := range tasks {
		t.importance = importance(t)
		if t.importance < r.opts.LLMMinImportance {
			t.discard("not important enough for tier 3")
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].importance != out[j].importance {
			return out[i].importance > out[j].importance
		}
		return out[i].pair.Key() < out[j].pair.Key()
	})
	return out
}

// importance favors strong prior signals, shared wording and pairs that
// cross platforms.
func importance(t *pairTask) float64 {
	v := 0.4 * t.signal()
	v += 0.2 * math.Min(float64(len(t.pair.SharedTokens))/3, 1)
	if t.pair.CrossPlatform {
		v += 0.4
	}
	return v
}

func (r *runState) tier3(ctx context.Context, tasks []*pairTask) {
	r.stats.Tier3Eligible = len(tasks)
	if r.e.llm == nil {
		r.fallback(tasks, "no llm configured")
		return
	}
	if r.e.ledger.Exhausted() {
		r.warn("tier 3 skipped: budget exhausted")
		r.fallback(tasks, "budget exhausted before tier 3")
		return
	}

	limit := int(math.Floor(r.opts.LLMCallFraction * float64(r.stats.Candidates)))
	if limit < 1 {
		limit = 1
	}
	if limit > r.opts.LLMMaxCalls {
		limit = r.opts.LLMMaxCalls
	}
	r.stats.Tier3CallBudget = limit
	if len(tasks) > limit {
		r.fallback(tasks[limit:], "tier 3 call cap reached")
		tasks = tasks[:limit]
	}
	if len(tasks) == 0 {
		return
	}

	analyzer := semantic.NewAnalyzer(r.e.llm, r.e.ledger, r.e.pricing, r.opts.CallTimeout())
	type result struct {
		v   semantic.Verdict
		err error
		ran bool
	}
	results := make([]result, len(tasks))
	var g errgroup.Group
	g.SetLimit(r.opts.FanOut)
	for i, t := range tasks {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			from, to := r.items[t.tier1.FromID], r.items[t.tier1.ToID]
			v, err := analyzer.Analyze(ctx, from, to, r.hints(t))
			results[i] = result{v: v, err: err, ran: true}
			return nil
		})
	}
	g.Wait()
	r.stats.LLMCalls = analyzer.Calls()

	budgetHit := false
	for i, t := range tasks {
		res := results[i]
		switch {
		case !res.ran:
			continue
		case errors.Is(res.err, semantic.ErrBudgetExhausted):
			budgetHit = true
			t.discard("budget exhausted during tier 3")
			continue
		case errors.Is(res.err, semantic.ErrMalformed):
			r.pairWarn("tier 3 verdict unparseable for %s: treated as unrelated", t.pair.Key())
			t.discard("malformed verdict")
			continue
		case res.err != nil && ctx.Err() != nil:
			continue
		case res.err != nil:
			r.pairWarn("tier 3 failed for %s: %v", t.pair.Key(), res.err)
			t.discard("tier 3 failed")
			continue
		}
		v := res.v
		t.verdict = &v
		if !v.Related || v.Confidence < r.opts.LLMAcceptThreshold {
			t.discard("llm found no relationship")
			continue
		}
		t.resolve(Tier3Resolved, r.relationship(t.tier1.FromID, t.tier1.ToID, v.Kind, v.Confidence, domain.MethodLLMSemantic, v.Reasoning, map[string]string{
			"model": r.e.llm.Model(),
		}))
		r.stats.Tier3Accepted++
	}
	if budgetHit {
		r.warn("tier 3 stopped: budget exhausted")
	}
	u := analyzer.Usage()
	log.Printf("correlate tier3 provider=%s eligible=%d calls=%d accepted=%d input_tokens=%d output_tokens=%d", r.e.llm.Provider(), r.stats.Tier3Eligible, r.stats.LLMCalls, r.stats.Tier3Accepted, u.InputTokens, u.OutputTokens)
}

// fallback settles pairs on the best signal already available. Every tier's
// accepted signal already finalized its pair, so what remains is discarded.
func (r *runState) fallback(tasks []*pairTask, reason string) {
	for _, t := range tasks {
		t.discard(reason)
	}
}

func (r *runState) hints(t *pairTask) []string {
	hints := append([]string(nil), t.tier1.Hints...)
	if t.score != nil {
		hints = append(hints, fmt.Sprintf("embedding similarity %.2f, below the accept threshold", t.score.Similarity))
	}
	if t.pair.CrossPlatform {
		hints = append(hints, "items come from different platforms")
	}
	return hints
}

func (r *runState) relationship(from, to string, kind domain.RelationshipKind, conf float64, method domain.DetectionMethod, summary string, attrs map[string]string) domain.EvidenceRelationship {
	conf = math.Max(0, math.Min(1, conf))
	if strings.TrimSpace(summary) == "" {
		summary = fmt.Sprintf("%s link between %s and %s.", method, from, to)
	}
	return domain.EvidenceRelationship{
		ID:         domain.StableID("relationship", from, to, string(method)),
		FromID:     from,
		ToID:       to,
		Kind:       kind,
		Confidence: conf,
		Method:     method,
		Summary:    summary,
		DetectedAt: r.now,
		Attributes: attrs,
	}
}

// collect returns the relationships to report and the subset that feeds
// story assembly.
func (r *runState) collect(tasks []*pairTask) (all, graph []domain.EvidenceRelationship) {
	all = []domain.EvidenceRelationship{}
	for _, t := range tasks {
		switch t.stage {
		case Tier1Resolved, Tier2Resolved, Tier3Resolved:
		default:
			continue
		}
		rel := t.rel
		if rel.Confidence < r.opts.ConfidenceThreshold {
			if !r.opts.IncludeLowConfidence {
				continue
			}
			rel.LowConfidence = true
			all = append(all, rel)
			continue
		}
		all = append(all, rel)
		graph = append(graph, rel)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].FromID != all[j].FromID {
			return all[i].FromID < all[j].FromID
		}
		return all[i].ToID < all[j].ToID
	})
	return all, graph
}

func pending(tasks []*pairTask) []*pairTask {
	var out []*pairTask
	for _, t := range tasks {
		if !t.stage.Final() {
			out = append(out, t)
		}
	}
	return out
}
