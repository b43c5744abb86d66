package ledger

import (
	"log"
	"math"
	"sync"
	"time"

	"workstories/internal/domain"
)

type State string

const (
	StateOpen      State = "open"
	StateExhausted State = "exhausted"
)

type TierUsage struct {
	Requests int     `json:"requests"`
	Cost     float64 `json:"cost_usd"`
}

// Snapshot is the read-only view handed to callers and persisted between
// process restarts.
type Snapshot struct {
	State          State                `json:"state"`
	Unlimited      bool                 `json:"unlimited,omitempty"`
	Limit          float64              `json:"budget_limit_usd"`
	Cost           float64              `json:"cost_usd"`
	Remaining      float64              `json:"remaining_usd"`
	Requests       int                  `json:"requests"`
	UtilizationPct float64              `json:"utilization_pct"`
	ByTier         map[string]TierUsage `json:"by_tier"`
	ByProvider     map[string]int       `json:"requests_by_provider"`
	PeriodStart    time.Time            `json:"period_start"`
	PeriodEnd      time.Time            `json:"period_end"`
}

// Ledger is the single authoritative spend counter for paid tiers. All
// methods are safe for concurrent use; one Ledger may be shared across runs
// on purpose to pool a budget.
type Ledger struct {
	mu sync.Mutex

	limit     float64
	committed float64
	reserved  float64
	inflight  int

	tiers     map[domain.Tier]*TierUsage
	providers map[string]int

	periodStart time.Time
	periodEnd   time.Time

	onExhausted func(Snapshot)
	notified    bool
}

// New returns a ledger with the given ceiling in USD. A zero limit starts
// exhausted.
func New(limit float64) *Ledger {
	if limit < 0 || math.IsNaN(limit) {
		limit = 0
	}
	return &Ledger{
		limit:     limit,
		tiers:     make(map[domain.Tier]*TierUsage),
		providers: make(map[string]int),
	}
}

// Unlimited returns a ledger that never refuses a reservation but still
// records usage.
func Unlimited() *Ledger {
	return New(math.Inf(1))
}

// OnExhausted registers a hook fired once per period, outside the lock, on
// the Open to Exhausted transition.
func (l *Ledger) OnExhausted(fn func(Snapshot)) {
	l.mu.Lock()
	l.onExhausted = fn
	l.mu.Unlock()
}

func (l *Ledger) SetPeriod(start, end time.Time) {
	l.mu.Lock()
	l.periodStart, l.periodEnd = start, end
	l.mu.Unlock()
}

func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

func (l *Ledger) Exhausted() bool {
	return l.State() == StateExhausted
}

func (l *Ledger) stateLocked() State {
	if l.committed >= l.limit {
		return StateExhausted
	}
	return StateOpen
}

// Remaining is max(0, limit - committed). It is +Inf for an unlimited ledger.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return math.Max(0, l.limit-l.committed)
}

// Hold is a pending claim on budget for one paid call. Exactly one of Commit
// or Cancel takes effect; later calls are no-ops.
type Hold struct {
	l        *Ledger
	tier     domain.Tier
	provider string
	estimate float64
	done     bool
}

// Reserve claims budget for one call before it is issued. The first call
// while Open is always admitted; concurrent calls are admitted only while
// committed plus all outstanding estimates fit under the limit. Overshoot is
// therefore bounded by a single call's cost.
func (l *Ledger) Reserve(tier domain.Tier, provider string, estimate float64) (*Hold, bool) {
	if estimate < 0 || math.IsNaN(estimate) {
		estimate = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stateLocked() == StateExhausted {
		return nil, false
	}
	if l.inflight > 0 && l.committed+l.reserved+estimate > l.limit {
		return nil, false
	}
	l.reserved += estimate
	l.inflight++
	return &Hold{l: l, tier: tier, provider: provider, estimate: estimate}, true
}

// Commit records the call's actual cost and request count.
func (h *Hold) Commit(actual float64) {
	if h == nil {
		return
	}
	if actual < 0 || math.IsNaN(actual) {
		actual = 0
	}
	l := h.l
	l.mu.Lock()
	if h.done {
		l.mu.Unlock()
		return
	}
	h.done = true
	l.release(h)
	wasOpen := l.stateLocked() == StateOpen
	l.committed += actual
	tu := l.tiers[h.tier]
	if tu == nil {
		tu = &TierUsage{}
		l.tiers[h.tier] = tu
	}
	tu.Requests++
	tu.Cost += actual
	if h.provider != "" {
		l.providers[h.provider]++
	}
	var hook func(Snapshot)
	var snap Snapshot
	if wasOpen && l.stateLocked() == StateExhausted && !l.notified {
		l.notified = true
		hook = l.onExhausted
		snap = l.snapshotLocked()
	}
	l.mu.Unlock()

	if hook != nil {
		log.Printf("ledger exhausted cost=%.4f limit=%.4f", snap.Cost, snap.Limit)
		hook(snap)
	}
}

// Cancel releases the reservation without recording a request.
func (h *Hold) Cancel() {
	if h == nil {
		return
	}
	h.l.mu.Lock()
	defer h.l.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.l.release(h)
}

func (l *Ledger) release(h *Hold) {
	l.reserved -= h.estimate
	if l.reserved < 0 {
		l.reserved = 0
	}
	l.inflight--
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	s := Snapshot{
		State:       l.stateLocked(),
		Cost:        l.committed,
		ByTier:      make(map[string]TierUsage, len(l.tiers)),
		ByProvider:  make(map[string]int, len(l.providers)),
		PeriodStart: l.periodStart,
		PeriodEnd:   l.periodEnd,
	}
	if math.IsInf(l.limit, 1) {
		s.Unlimited = true
	} else {
		s.Limit = l.limit
		s.Remaining = math.Max(0, l.limit-l.committed)
		if l.limit > 0 {
			s.UtilizationPct = math.Min(100, l.committed/l.limit*100)
		} else {
			s.UtilizationPct = 100
		}
	}
	for t, u := range l.tiers {
		s.ByTier[t.String()] = *u
		s.Requests += u.Requests
	}
	for p, n := range l.providers {
		s.ByProvider[p] = n
	}
	return s
}

// Restore loads persisted usage for the current period. The limit stays as
// configured.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = math.Max(0, s.Cost)
	l.tiers = make(map[domain.Tier]*TierUsage)
	for name, u := range s.ByTier {
		t, ok := parseTier(name)
		if !ok {
			continue
		}
		u := u
		l.tiers[t] = &u
	}
	l.providers = make(map[string]int)
	for p, n := range s.ByProvider {
		l.providers[p] = n
	}
	l.periodStart, l.periodEnd = s.PeriodStart, s.PeriodEnd
	l.notified = l.stateLocked() == StateExhausted
}

// Reset zeroes usage and starts a new period. Outstanding holds stay valid.
func (l *Ledger) Reset(start, end time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.committed = 0
	l.tiers = make(map[domain.Tier]*TierUsage)
	l.providers = make(map[string]int)
	l.periodStart, l.periodEnd = start, end
	l.notified = false
}

func parseTier(s string) (domain.Tier, bool) {
	for _, t := range []domain.Tier{domain.TierCandidate, domain.TierRules, domain.TierEmbedding, domain.TierLLM} {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}
