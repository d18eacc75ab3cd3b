package match

import (
	"context"

	"invoicematch/internal/catalog"
)

// Nature describes how a line item was resolved.
type Nature string

const (
	NatureExisting   Nature = "Existing"
	NatureNewMapped  Nature = "New Mapped"
	NatureNotMatched Nature = "Not Matched"
)

// Exact lookup outcomes recorded on every ItemMatch.
const (
	ExactHit     = "hit"
	ExactMiss    = "miss"
	ExactError   = "error"
	ExactSkipped = "skipped"
)

// Reasons the exact lookup was not attempted.
const (
	SkipMissingProduct  = "missing_product"
	SkipMissingSupplier = "missing_supplier"
	SkipNoStore         = "no_mapping_store"
)

// Query is one extracted line item to resolve.
type Query struct {
	Product  string
	Supplier string
}

// MatchOptions selects the approximate matching parameters.
type MatchOptions struct {
	Scorer Scorer
	K      int
	Cutoff float64
}

// ItemMatch is the resolution of one line item.
type ItemMatch struct {
	Candidates  []Result   `json:"fuzzy_matches"`
	Best        *Result    `json:"best_match"`
	Confidence  Confidence `json:"match_confidence"`
	Nature      Nature     `json:"mapped_nature"`
	ExactLookup string     `json:"exact_lookup"`
	SkipReason  string     `json:"exact_skip_reason,omitempty"`
	NeedsReview bool       `json:"needs_review"`
}

// MatchItem resolves q: a confirmed mapping for the normalized
// (product, supplier) pair wins; otherwise the item is ranked against snap.
// When the exact lookup cannot be attempted the reason is recorded on the
// result and logged, and items without supplier text that do not reach a
// high-confidence match are flagged for review.
func (e *Engine) MatchItem(ctx context.Context, q Query, snap *catalog.Snapshot, opts MatchOptions) ItemMatch {
	product := Normalize(q.Product)
	supplier := Normalize(q.Supplier)

	if product == "" {
		e.skip(SkipMissingProduct, q)
		e.metrics.Match(string(ConfidenceNone))
		return ItemMatch{
			Candidates:  []Result{},
			Confidence:  ConfidenceNone,
			Nature:      NatureNotMatched,
			ExactLookup: ExactSkipped,
			SkipReason:  SkipMissingProduct,
		}
	}

	m := ItemMatch{}
	switch {
	case supplier == "":
		m.ExactLookup, m.SkipReason = ExactSkipped, SkipMissingSupplier
		e.skip(SkipMissingSupplier, q)
	case e.mappings == nil:
		m.ExactLookup, m.SkipReason = ExactSkipped, SkipNoStore
		e.skip(SkipNoStore, q)
	default:
		mapping, err := e.mappings.LookupMapping(ctx, product, supplier)
		switch {
		case err != nil:
			m.ExactLookup = ExactError
			e.logger.Warn("Exact mapping lookup failed, falling back to approximate matching",
				"product", q.Product, "supplier", q.Supplier, "error", err)
		case mapping != nil:
			desc := mapping.CatalogDescription
			if desc == "" {
				desc = mapping.CatalogKey
			}
			best := Result{Key: mapping.CatalogKey, Description: desc, Score: 100, Rank: 1, Confidence: ConfidenceHigh}
			e.metrics.Match(string(ConfidenceHigh))
			return ItemMatch{
				Candidates:  []Result{},
				Best:        &best,
				Confidence:  ConfidenceHigh,
				Nature:      NatureExisting,
				ExactLookup: ExactHit,
			}
		default:
			m.ExactLookup = ExactMiss
		}
	}

	m.Candidates = e.Rank(q.Product, snap, opts.Scorer, opts.K, opts.Cutoff)
	if m.Candidates == nil {
		m.Candidates = []Result{}
	}
	m.Confidence = ConfidenceNone
	m.Nature = NatureNotMatched
	if len(m.Candidates) > 0 {
		best := m.Candidates[0]
		m.Best = &best
		m.Confidence = best.Confidence
		m.Nature = NatureNewMapped
	}
	m.NeedsReview = m.SkipReason == SkipMissingSupplier && m.Confidence != ConfidenceHigh
	e.metrics.Match(string(m.Confidence))
	return m
}

func (e *Engine) skip(reason string, q Query) {
	e.metrics.ExactLookupSkipped(reason)
	e.logger.Info("Exact mapping lookup skipped", "reason", reason, "product", q.Product, "supplier", q.Supplier)
}
