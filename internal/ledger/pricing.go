package ledger

import (
	"log"
	"sort"
	"strings"
	"sync"
)

// FallbackPricing bills models missing from the table at the most expensive
// listed rate so unpriced calls still count against the budget.
var FallbackPricing = ModelPricing{Input: 15, Output: 75, CacheCreation: 18.75, CacheRead: 1.5}

var unpricedWarned sync.Map

// ModelPricing is USD per 1M tokens.
type ModelPricing struct {
	Input         float64 `yaml:"input" json:"input"`
	Output        float64 `yaml:"output" json:"output"`
	CacheCreation float64 `yaml:"cache_creation" json:"cache_creation"`
	CacheRead     float64 `yaml:"cache_read" json:"cache_read"`
}

type PricingTable map[string]ModelPricing

type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

func DefaultPricing() PricingTable {
	return PricingTable{
		"claude-sonnet-4":        {Input: 3, Output: 15, CacheCreation: 3.75, CacheRead: 0.3},
		"claude-3-7-sonnet":      {Input: 3, Output: 15, CacheCreation: 3.75, CacheRead: 0.3},
		"claude-3-5-haiku":       {Input: 0.8, Output: 4, CacheCreation: 1, CacheRead: 0.08},
		"claude-haiku-4-5":       {Input: 1, Output: 5, CacheCreation: 1.25, CacheRead: 0.1},
		"claude-opus-4":          {Input: 15, Output: 75, CacheCreation: 18.75, CacheRead: 1.5},
		"gpt-4o-mini":            {Input: 0.15, Output: 0.6, CacheRead: 0.075},
		"gpt-4o":                 {Input: 2.5, Output: 10, CacheRead: 1.25},
		"text-embedding-3-small": {Input: 0.02},
		"text-embedding-3-large": {Input: 0.13},
		"nomic-embed-text":       {},
		"local-tfidf":            {},
	}
}

// Merge adds entries from other into pt. Existing keys are overwritten.
func (pt PricingTable) Merge(other PricingTable) {
	for k, v := range other {
		pt[k] = v
	}
}

// Lookup finds pricing for a model, trying exact match then longest prefix match.
func (pt PricingTable) Lookup(model string) (ModelPricing, bool) {
	if p, ok := pt[model]; ok {
		return p, true
	}
	var bestKey string
	var best ModelPricing
	for key, p := range pt {
		if strings.HasPrefix(model, key) && len(key) > len(bestKey) {
			bestKey = key
			best = p
		}
	}
	if bestKey != "" {
		return best, true
	}
	keys := make([]string, 0, len(pt))
	for k := range pt {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.HasPrefix(key, model) {
			return pt[key], true
		}
	}
	return ModelPricing{}, false
}

// Cost returns USD for the given usage. Unknown models are billed at
// FallbackPricing.
func (pt PricingTable) Cost(model string, u Usage) float64 {
	p, ok := pt.Lookup(model)
	if !ok {
		if _, seen := unpricedWarned.LoadOrStore(model, true); !seen {
			log.Printf("pricing missing model=%q, billing at fallback input=$%.2f output=$%.2f per 1M tokens",
				model, FallbackPricing.Input, FallbackPricing.Output)
		}
		p = FallbackPricing
	}
	cost := float64(u.InputTokens) * p.Input / 1_000_000
	cost += float64(u.OutputTokens) * p.Output / 1_000_000
	cost += float64(u.CacheCreationTokens) * p.CacheCreation / 1_000_000
	cost += float64(u.CacheReadTokens) * p.CacheRead / 1_000_000
	return cost
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int64 {
	return int64(len(text)/4 + 1)
}
