// Package match ranks extracted line-item text against a catalog snapshot.
package match

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"invoicematch/internal/catalog"
	"invoicematch/internal/metrics"
	"invoicematch/internal/model"
)

// Confidence is the band a match score falls into.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Classify maps a score to its confidence band.
func Classify(score float64) Confidence {
	switch {
	case score >= 85:
		return ConfidenceHigh
	case score >= 70:
		return ConfidenceMedium
	case score >= 60:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// Result is one ranked candidate.
type Result struct {
	Key         string     `json:"key"`
	Description string     `json:"description"`
	Score       float64    `json:"score"`
	Rank        int        `json:"rank"`
	Confidence  Confidence `json:"confidence"`
}

// MappingStore answers exact lookups of confirmed product mappings. It
// returns nil when the pair has no mapping.
type MappingStore interface {
	LookupMapping(ctx context.Context, productText, supplierText string) (*model.ProductMapping, error)
}

// Engine ranks queries against snapshots. It holds no per-query state and is
// safe for concurrent use.
type Engine struct {
	workers  int
	minChunk int
	mappings MappingStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds how many goroutines scan one snapshot.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithMappingStore(s MappingStore) Option { return func(e *Engine) { e.mappings = s } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "match") }
}

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		workers:  runtime.GOMAXPROCS(0),
		minChunk: 2048,
		logger:   slog.Default().With("component", "match"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	index int
	score float64
}

// better orders by score descending, then snapshot position ascending.
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	return c.index < o.index
}

// topK keeps the k best candidates in order.
type topK struct {
	k     int
	items []candidate
}

func (t *topK) offer(c candidate) {
	if len(t.items) == t.k && !c.better(t.items[len(t.items)-1]) {
		return
	}
	i := sort.Search(len(t.items), func(i int) bool { return c.better(t.items[i]) })
	if len(t.items) < t.k {
		t.items = append(t.items, candidate{})
	}
	copy(t.items[i+1:], t.items[i:])
	t.items[i] = c
}

// Rank returns at most k entries of snap scoring at least cutoff against
// query, best first. Ties keep snapshot order. The query and entries are
// compared after Normalize.
func (e *Engine) Rank(query string, snap *catalog.Snapshot, scorer Scorer, k int, cutoff float64) []Result {
	return e.rank(query, snap, scorer, k, cutoff, e.workers)
}

func (e *Engine) rank(query string, snap *catalog.Snapshot, scorer Scorer, k int, cutoff float64, parallelism int) []Result {
	q := Normalize(query)
	n := snap.Len()
	if q == "" || n == 0 || k <= 0 {
		return nil
	}
	if scorer == nil {
		scorer = TokenSetRatio
	}
	start := time.Now()

	chunks := parallelism
	if limit := (n + e.minChunk - 1) / e.minChunk; chunks > limit {
		chunks = limit
	}
	if chunks < 1 {
		chunks = 1
	}
	size := (n + chunks - 1) / chunks
	partial := make([]topK, chunks)

	var g errgroup.Group
	for c := 0; c < chunks; c++ {
		lo, hi := c*size, min((c+1)*size, n)
		part := &partial[c]
		part.k = k
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				text := entryText(snap, i)
				if s := scorer(q, text); s >= cutoff {
					part.offer(candidate{index: i, score: s})
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	merged := topK{k: k}
	for _, p := range partial {
		for _, c := range p.items {
			merged.offer(c)
		}
	}

	results := make([]Result, len(merged.items))
	for i, c := range merged.items {
		entry := snap.Entries[c.index]
		score := round2(c.score)
		results[i] = Result{
			Key:         entry.Key,
			Description: entry.Description,
			Score:       score,
			Rank:        i + 1,
			Confidence:  Classify(score),
		}
	}
	e.metrics.ObserveRank(time.Since(start).Seconds())
	return results
}

func entryText(snap *catalog.Snapshot, i int) string {
	if snap.Normalized != nil {
		return snap.Normalized[i]
	}
	return Normalize(snap.Entries[i].Description)
}

// RankBatch ranks every query against the same snapshot. The result is
// aligned with queries.
func (e *Engine) RankBatch(queries []string, snap *catalog.Snapshot, scorer Scorer, k int, cutoff float64) [][]Result {
	out := make([][]Result, len(queries))
	if len(queries) == 0 {
		return out
	}
	perQuery := max(1, e.workers/len(queries))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, q := range queries {
		g.Go(func() error {
			out[i] = e.rank(q, snap, scorer, k, cutoff, perQuery)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
