package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"workstories/internal/domain"
	"workstories/internal/ledger"
)

// ErrBudgetExhausted is returned when the ledger refuses an embedding call.
var ErrBudgetExhausted = errors.New("embedding budget exhausted")

type Options struct {
	// AcceptSimilarity is compared against raw cosine similarity.
	AcceptSimilarity float64
	CallTimeout      time.Duration
}

func DefaultOptions() Options {
	return Options{AcceptSimilarity: 0.75, CallTimeout: 20 * time.Second}
}

type Score struct {
	Similarity float64
	Confidence float64
	Accepted   bool
}

// Scorer embeds evidence items and compares them. It holds a run-scoped
// cache: build one per run.
type Scorer struct {
	provider Provider
	ledger   *ledger.Ledger
	pricing  ledger.PricingTable
	opts     Options

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cached
	calls int
}

type cached struct {
	vec []float32
	err error
}

func NewScorer(p Provider, l *ledger.Ledger, pricing ledger.PricingTable, opts Options) *Scorer {
	if opts.AcceptSimilarity <= 0 {
		opts.AcceptSimilarity = DefaultOptions().AcceptSimilarity
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	return &Scorer{provider: p, ledger: l, pricing: pricing, opts: opts, cache: make(map[string]cached)}
}

// Calls is the number of provider requests issued so far.
func (s *Scorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scorer) Provider() Provider { return s.provider }

func (s *Scorer) Score(ctx context.Context, a, b domain.EvidenceItem) (Score, error) {
	va, err := s.vector(ctx, a)
	if err != nil {
		return Score{}, err
	}
	vb, err := s.vector(ctx, b)
	if err != nil {
		return Score{}, err
	}
	sim := Cosine(va, vb)
	return Score{
		Similarity: sim,
		Confidence: Calibrate(sim),
		Accepted:   sim >= s.opts.AcceptSimilarity,
	}, nil
}

func (s *Scorer) vector(ctx context.Context, item domain.EvidenceItem) ([]float32, error) {
	s.mu.Lock()
	if c, ok := s.cache[item.ID]; ok {
		s.mu.Unlock()
		return c.vec, c.err
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(item.ID, func() (interface{}, error) {
		s.mu.Lock()
		if c, ok := s.cache[item.ID]; ok {
			s.mu.Unlock()
			return c.vec, c.err
		}
		s.mu.Unlock()

		vec, err := s.embed(ctx, item)
		// Budget refusals, cancellation and per-call timeouts are not cached;
		// a later pair retries the item. Provider errors are.
		if !errors.Is(err, ErrBudgetExhausted) && !errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			s.mu.Lock()
			s.cache[item.ID] = cached{vec: vec, err: err}
			s.mu.Unlock()
		}
		return vec, err
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (s *Scorer) embed(ctx context.Context, item domain.EvidenceItem) ([]float32, error) {
	text := item.Text()
	usage := ledger.Usage{InputTokens: ledger.EstimateTokens(text)}
	estimate := s.pricing.Cost(s.provider.Model(), usage)

	hold, ok := s.ledger.Reserve(domain.TierEmbedding, s.provider.Name(), estimate)
	if !ok {
		return nil, ErrBudgetExhausted
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
	defer cancel()
	vec, err := s.provider.Embed(callCtx, text)
	// A failed request may still have been billed.
	hold.Commit(estimate)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", item.ID, err)
	}
	return vec, nil
}

// Cosine similarity clamped to [0,1]. Mismatched or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(0, math.Min(1, sim))
}

type point struct{ sim, conf float64 }

var curve = []point{{0, 0}, {0.5, 0.25}, {0.75, 0.7}, {1, 0.9}}

// Calibrate maps cosine similarity onto a relationship confidence with a
// fixed piecewise-linear curve. Embedding confidences stay below the issue
// key band.
func Calibrate(sim float64) float64 {
	if sim <= 0 {
		return 0
	}
	if sim >= 1 {
		return curve[len(curve)-1].conf
	}
	for i := 1; i < len(curve); i++ {
		lo, hi := curve[i-1], curve[i]
		if sim <= hi.sim {
			f := (sim - lo.sim) / (hi.sim - lo.sim)
			return lo.conf + f*(hi.conf-lo.conf)
		}
	}
	return curve[len(curve)-1].conf
}
