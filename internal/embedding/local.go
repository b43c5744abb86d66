package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"workstories/internal/tokens"
)

const LocalModel = "local-tfidf"

// Local is a TF-IDF embedder using feature hashing into a fixed number of
// dimensions. IDF weights come from WithCorpus; without a corpus every term
// weighs 1.
type Local struct {
	dims int
	idf  map[string]float64
	// idf for terms never seen in the corpus
	unseen float64
}

func NewLocal(dims int) *Local {
	if dims <= 0 {
		dims = 512
	}
	return &Local{dims: dims, unseen: 1}
}

func (l *Local) Name() string  { return "local" }
func (l *Local) Model() string { return LocalModel }

func (l *Local) WithCorpus(texts []string) Provider {
	df := make(map[string]int)
	for _, text := range texts {
		seen := make(map[string]bool)
		for _, tok := range terms(text) {
			if !seen[tok] {
				seen[tok] = true
				df[tok]++
			}
		}
	}
	n := float64(len(texts))
	idf := make(map[string]float64, len(df))
	for tok, d := range df {
		idf[tok] = math.Log(n/float64(d)) + 1.0
	}
	unseen := 1.0
	if n > 0 {
		unseen = math.Log(n+1) + 1.0
	}
	return &Local{dims: l.dims, idf: idf, unseen: unseen}
}

func (l *Local) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf := make(map[string]int)
	for _, tok := range terms(text) {
		tf[tok]++
	}
	vec := make([]float64, l.dims)
	for tok, count := range tf {
		w := l.unseen
		if l.idf != nil {
			if v, ok := l.idf[tok]; ok {
				w = v
			}
		} else {
			w = 1
		}
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%l.dims] += sign * float64(count) * w
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, l.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func terms(text string) []string {
	var out []string
	for _, tok := range tokens.Tokenize(text) {
		if len(tok) < 3 || tokens.IsStopword(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}
