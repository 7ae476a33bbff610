package docdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/calvinalkan/docbase/internal/catalog"
	"github.com/calvinalkan/docbase/internal/planner"
	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/value"
)

// FindOptions controls Find's result shaping.
type FindOptions struct {
	Sort  map[string]int // field -> 1 (ascending) or -1 (descending)
	Limit int            // 0 means no limit
	Skip  int
	Hint  string // index name to force, bypassing the planner
}

// Find returns every document in collection matching filter, shaped by
// opts.
func (db *DB) Find(ctx context.Context, collection string, filter map[string]any, opts FindOptions) ([]map[string]any, error) {
	docs, err := db.findDocuments(collection, filter, opts)
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = value.ToAny(value.Doc(d)).(map[string]any)
	}
	return out, nil
}

// FindOne returns the first matching document, or ErrNotFound if none
// match.
func (db *DB) FindOne(ctx context.Context, collection string, filter map[string]any) (map[string]any, error) {
	docs, err := db.findDocuments(collection, filter, FindOptions{Limit: 1})
	if err != nil {
		return nil, wrapErr(err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("docdb: find_one: %w", ErrNotFound)
	}
	return value.ToAny(value.Doc(docs[0])).(map[string]any), nil
}

// FindWithHint is Find with a mandatory planner hint, returning
// ErrInvalidHint/ErrUnusableHint if the hint can't be honored.
func (db *DB) FindWithHint(ctx context.Context, collection string, filter map[string]any, hint string, opts FindOptions) ([]map[string]any, error) {
	opts.Hint = hint
	return db.Find(ctx, collection, filter, opts)
}

// CountDocuments returns the exact number of documents matching filter.
func (db *DB) CountDocuments(ctx context.Context, collection string, filter map[string]any) (int64, error) {
	docs, err := db.findDocuments(collection, filter, FindOptions{})
	if err != nil {
		return 0, wrapErr(err)
	}
	return int64(len(docs)), nil
}

// Distinct returns the distinct values of field among documents matching
// filter, in canonical ascending order.
func (db *DB) Distinct(ctx context.Context, collection, field string, filter map[string]any) ([]any, error) {
	docs, err := db.findDocuments(collection, filter, FindOptions{})
	if err != nil {
		return nil, wrapErr(err)
	}

	var vals []value.Value
	seen := func(v value.Value) bool {
		for _, s := range vals {
			if value.DeepEqual(s, v) {
				return true
			}
		}
		return false
	}
	for _, d := range docs {
		if v, ok := d[field]; ok && !seen(v) {
			vals = append(vals, v)
		}
	}
	sort.Slice(vals, func(i, j int) bool { return value.Compare(vals[i], vals[j]) < 0 })

	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = value.ToAny(v)
	}
	return out, nil
}

// findDocuments is the shared query execution path used by Find, FindOne,
// CountDocuments, and Distinct: compile the filter, choose a plan, execute
// it, apply sort/skip/limit.
func (db *DB) findDocuments(collection string, filter map[string]any, opts FindOptions) ([]value.Document, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	filterVal, err := value.FromAny(filter)
	if err != nil {
		return nil, fmt.Errorf("docdb: %w: %v", ErrInvalidQuery, err)
	}
	pred, err := query.Compile(filterVal.AsDoc())
	if err != nil {
		return nil, err
	}

	c, ok := db.cat.Lookup(collection)
	if !ok {
		return applySortSkipLimit(nil, opts), nil
	}

	plan, err := choosePlan(c, pred, opts.Hint)
	if err != nil {
		return nil, err
	}

	docs := executePlan(c, plan, pred)
	return applySortSkipLimit(docs, opts), nil
}

func choosePlan(c *catalog.Collection, pred query.Predicate, hint string) (planner.Plan, error) {
	var infos []planner.IndexInfo
	for _, def := range c.Indexes() {
		infos = append(infos, planner.IndexInfo{Name: def.Name, Field: def.Field, Unique: def.Unique})
	}
	return planner.Choose(pred, infos, c.Count(), hint)
}

func executePlan(c *catalog.Collection, plan planner.Plan, pred query.Predicate) []value.Document {
	var candidates []value.Document

	switch plan.Kind {
	case planner.CollectionScan:
		candidates = c.All()
	case planner.IndexPointScan, planner.IndexRangeScan:
		idx, ok := c.IndexByName(plan.IndexName)
		if !ok {
			candidates = c.All()
			break
		}
		var ids []int64
		switch {
		case plan.Bound.IsMultiPoint:
			seen := make(map[int64]bool)
			for _, v := range plan.Bound.Points {
				for _, id := range idx.Point(v) {
					if !seen[id] {
						seen[id] = true
						ids = append(ids, id)
					}
				}
			}
		case plan.Bound.IsPoint:
			ids = idx.Point(plan.Bound.Point)
		default:
			ids = idx.Range(plan.Bound.Lower, plan.Bound.Upper, plan.Bound.LowerInclusive, plan.Bound.UpperInclusive, plan.Bound.HasLower, plan.Bound.HasUpper)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if d, ok := c.Get(id); ok {
				candidates = append(candidates, d)
			}
		}
	}

	out := make([]value.Document, 0, len(candidates))
	for _, d := range candidates {
		if query.Match(pred, d) {
			out = append(out, d)
		}
	}
	return out
}

func applySortSkipLimit(docs []value.Document, opts FindOptions) []value.Document {
	if len(opts.Sort) > 0 {
		keys := make([]string, 0, len(opts.Sort))
		for k := range opts.Sort {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sort.SliceStable(docs, func(i, j int) bool {
			for _, k := range keys {
				dir := opts.Sort[k]
				c := value.Compare(docs[i][k], docs[j][k])
				if c == 0 {
					continue
				}
				if dir >= 0 {
					return c < 0
				}
				return c > 0
			}
			return false
		})
	}

	if opts.Skip > 0 {
		if opts.Skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[opts.Skip:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		docs = docs[:opts.Limit]
	}
	return docs
}
