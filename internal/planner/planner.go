// Package planner chooses how a query executes: a collection scan, an
// index point scan, or an index range scan, with a deterministic tie-break
// when more than one index could serve a query, optional hint override,
// and an Explain view of the decision.
package planner

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/value"
)

var (
	// ErrInvalidHint is returned when a hint names something that isn't a
	// recognizable index reference at all.
	ErrInvalidHint = errors.New("planner: invalid hint")
	// ErrUnusableHint is returned when a hint names a real index that
	// cannot serve the given query (e.g. hinting an index on a field the
	// query doesn't constrain).
	ErrUnusableHint = errors.New("planner: unusable hint")
)

// Kind names the chosen access method. The finer Point/Range distinction
// is kept for the executor; Explain canonicalizes both under "IndexScan".
type Kind int

const (
	CollectionScan Kind = iota
	IndexPointScan
	IndexRangeScan
)

func (k Kind) String() string {
	switch k {
	case CollectionScan:
		return "CollectionScan"
	case IndexPointScan:
		return "IndexPointScan"
	case IndexRangeScan:
		return "IndexRangeScan"
	default:
		return "Unknown"
	}
}

// IndexInfo is the subset of catalog.Index metadata the planner needs,
// passed in rather than imported to avoid an import cycle with
// internal/catalog.
type IndexInfo struct {
	Name   string
	Field  string
	Unique bool
}

// Plan is the chosen access method plus enough detail for the executor to
// run it and for Explain to describe it.
type Plan struct {
	Kind      Kind
	IndexName string
	Field     string
	// Unique is true when the index serving the scan is unique.
	Unique bool
	// Bound describes the point/range constraint driving the scan, nil
	// for CollectionScan.
	Bound *Bound
	// EstimatedCost is a monotone, relative number: collection scan costs
	// proportional to collection size, index scans proportional to the
	// narrowed candidate set, per the matching cost function indexes
	// promise to beat a full scan with.
	EstimatedCost float64
	// ResidualPredicate is true when the chosen index only narrows
	// candidates for one field and the remaining predicate still needs a
	// full match pass over those candidates.
	ResidualPredicate bool
}

// Bound is an index scan's key constraint: a single point, a [Lower,Upper]
// range with independent inclusivity per side, or (for $in) a set of
// points whose matches the executor unions.
type Bound struct {
	Point          value.Value
	IsPoint        bool
	Points         []value.Value
	IsMultiPoint   bool
	Lower, Upper   value.Value
	HasLower, HasUpper     bool
	LowerInclusive, UpperInclusive bool
}

// Choose selects a Plan for pred given the available indexes on a
// collection with approximately collectionSize documents. If hint is
// non-empty, it must name one of indexes' Name fields and that index must
// be able to serve pred, or Choose returns ErrInvalidHint/ErrUnusableHint.
func Choose(pred query.Predicate, indexes []IndexInfo, collectionSize int, hint string) (Plan, error) {
	candidates := candidatePlans(pred, indexes, collectionSize)

	if hint != "" {
		for _, c := range candidates {
			if c.IndexName == hint {
				return c, nil
			}
		}
		found := false
		for _, idx := range indexes {
			if idx.Name == hint {
				found = true
			}
		}
		if !found {
			return Plan{}, fmt.Errorf("%w: %q", ErrInvalidHint, hint)
		}
		return Plan{}, fmt.Errorf("%w: index %q cannot serve this query", ErrUnusableHint, hint)
	}

	best := Plan{Kind: CollectionScan, EstimatedCost: float64(collectionSize)}
	for _, c := range candidates {
		if better(c, best) {
			best = c
		}
	}
	return best, nil
}

// better implements the deterministic tie-break: unique point scan beats
// non-unique point scan beats range scan beats collection scan; among
// equals, lower estimated cost wins, then lexically smaller index name.
func better(a, b Plan) bool {
	rankA, rankB := planRank(a), planRank(b)
	if rankA != rankB {
		return rankA < rankB
	}
	if a.EstimatedCost != b.EstimatedCost {
		return a.EstimatedCost < b.EstimatedCost
	}
	return a.IndexName < b.IndexName
}

func planRank(p Plan) int {
	switch {
	case p.Kind == IndexPointScan && p.Bound != nil && p.Unique:
		return 0
	case p.Kind == IndexPointScan && p.Bound != nil:
		return 1
	case p.Kind == IndexRangeScan:
		return 2
	default:
		return 3
	}
}

func candidatePlans(pred query.Predicate, indexes []IndexInfo, collectionSize int) []Plan {
	var plans []Plan
	for _, idx := range indexes {
		fieldOps, ok := fieldOpsFor(pred, idx.Field)
		if !ok {
			continue
		}
		if plan, ok := planFromOps(idx, fieldOps, collectionSize); ok {
			plans = append(plans, plan)
		}
	}
	return plans
}

// fieldOpsFor finds the FieldOp list for field among pred's top-level AND
// conjuncts (a plain field predicate, or an AND of field predicates). OR/
// NOR predicates are not index-narrowable in this planner, matching the
// spec's conservative index-usability contract.
func fieldOpsFor(pred query.Predicate, field string) ([]query.FieldOp, bool) {
	switch pred.Kind {
	case query.PredField:
		if pred.Field == field {
			return pred.FieldOps, true
		}
	case query.PredAnd:
		for _, s := range pred.Sub {
			if ops, ok := fieldOpsFor(s, field); ok {
				return ops, true
			}
		}
	}
	return nil, false
}

func planFromOps(idx IndexInfo, ops []query.FieldOp, collectionSize int) (Plan, bool) {
	for _, op := range ops {
		switch op.Op {
		case query.OpEq:
			cost := 1.0
			if !idx.Unique {
				cost = estimateSelectivity(collectionSize)
			}
			return Plan{
				Kind: IndexPointScan, IndexName: idx.Name, Field: idx.Field, Unique: idx.Unique,
				Bound:         &Bound{Point: op.Operand, IsPoint: true},
				EstimatedCost: cost,
				ResidualPredicate: len(ops) > 1,
			}, true
		case query.OpIn:
			// $in is materialized as a union of point scans, one per listed
			// value, rather than degrading to a collection scan.
			cost := float64(len(op.Operands))
			if !idx.Unique {
				cost *= estimateSelectivity(collectionSize)
			}
			return Plan{
				Kind: IndexPointScan, IndexName: idx.Name, Field: idx.Field, Unique: idx.Unique,
				Bound:             &Bound{Points: op.Operands, IsMultiPoint: true},
				EstimatedCost:     cost,
				ResidualPredicate: len(ops) > 1,
			}, true
		case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
			b := &Bound{}
			switch op.Op {
			case query.OpGt:
				b.Lower, b.HasLower, b.LowerInclusive = op.Operand, true, false
			case query.OpGte:
				b.Lower, b.HasLower, b.LowerInclusive = op.Operand, true, true
			case query.OpLt:
				b.Upper, b.HasUpper, b.UpperInclusive = op.Operand, true, false
			case query.OpLte:
				b.Upper, b.HasUpper, b.UpperInclusive = op.Operand, true, true
			}
			return Plan{
				Kind: IndexRangeScan, IndexName: idx.Name, Field: idx.Field,
				Bound:         b,
				EstimatedCost: estimateSelectivity(collectionSize),
				ResidualPredicate: len(ops) > 1,
			}, true
		}
	}
	return Plan{}, false
}

// estimateSelectivity is a simple monotone stand-in for a real histogram:
// larger collections are assumed to have proportionally more matches per
// distinct key, but an index scan is always credited as cheaper than a
// full scan of the same collection.
func estimateSelectivity(collectionSize int) float64 {
	if collectionSize <= 1 {
		return 1
	}
	est := float64(collectionSize) / 10
	if est < 1 {
		est = 1
	}
	return est
}

// ExplainResult is the JSON-shaped explain output per the public API.
type ExplainResult struct {
	QueryPlan         string  `json:"queryPlan"`
	IndexName         string  `json:"indexName,omitempty"`
	EstimatedCost     float64 `json:"estimatedCost"`
	Stage             string  `json:"stage"`
}

// Explain describes plan the way the public API surface reports it:
// IndexPointScan and IndexRangeScan both canonicalize to "IndexScan".
func Explain(plan Plan) ExplainResult {
	queryPlan := "CollectionScan"
	stage := "scan"
	if plan.Kind != CollectionScan {
		queryPlan = "IndexScan"
		stage = "index-scan"
		if plan.ResidualPredicate {
			stage = "index-scan+residual-filter"
		}
	}
	return ExplainResult{
		QueryPlan:     queryPlan,
		IndexName:     plan.IndexName,
		EstimatedCost: plan.EstimatedCost,
		Stage:         stage,
	}
}
