package docdb

import (
	"context"
	"fmt"

	"github.com/calvinalkan/docbase/internal/planner"
	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/value"
)

// IndexDescription describes one index for ListIndexes.
type IndexDescription struct {
	Name   string
	Field  string
	Unique bool
}

// CreateIndexOptions configures CreateIndex.
type CreateIndexOptions struct {
	// Name overrides the default "<collection>_<field>" naming.
	Name   string
	Unique bool
}

// CreateIndex builds a secondary index over field in collection,
// backfilling it from existing documents, and returns the index's name.
// Like every other mutation, the index definition change is committed
// through withWriteTxn so it survives a close/reopen even if no document
// write ever follows it.
func (db *DB) CreateIndex(ctx context.Context, collection, field string, opts CreateIndexOptions) (string, error) {
	var name string
	err := db.withWriteTxn(ctx, func() error {
		c := db.cat.Collection(collection)
		n, err := c.CreateIndex(opts.Name, field, opts.Unique)
		if err != nil {
			return err
		}
		name = n
		return nil
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return name, nil
}

// DropIndex removes a secondary index by name. The auto-created primary
// "<collection>_id" index cannot be dropped.
func (db *DB) DropIndex(ctx context.Context, collection, name string) error {
	err := db.withWriteTxn(ctx, func() error {
		c, ok := db.cat.Lookup(collection)
		if !ok {
			return ErrNotFound
		}
		return c.DropIndex(name)
	})
	return wrapErr(err)
}

// ListIndexes returns every index defined on collection, in creation
// order (the primary _id index first).
func (db *DB) ListIndexes(ctx context.Context, collection string) ([]IndexDescription, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c, ok := db.cat.Lookup(collection)
	if !ok {
		return nil, nil
	}
	defs := c.Indexes()
	out := make([]IndexDescription, len(defs))
	for i, d := range defs {
		out[i] = IndexDescription{Name: d.Name, Field: d.Field, Unique: d.Unique}
	}
	return out, nil
}

// Explain reports how Find(filter) would execute against collection,
// without running it.
func (db *DB) Explain(ctx context.Context, collection string, filter map[string]any) (planner.ExplainResult, error) {
	return db.explain(collection, filter, "")
}

func (db *DB) explain(collection string, filter map[string]any, hint string) (planner.ExplainResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	filterVal, err := value.FromAny(filter)
	if err != nil {
		return planner.ExplainResult{}, fmt.Errorf("docdb: %w: %v", ErrInvalidQuery, err)
	}
	pred, err := query.Compile(filterVal.AsDoc())
	if err != nil {
		return planner.ExplainResult{}, wrapErr(err)
	}

	c, ok := db.cat.Lookup(collection)
	if !ok {
		return planner.Explain(planner.Plan{Kind: planner.CollectionScan}), nil
	}

	plan, err := choosePlan(c, pred, hint)
	if err != nil {
		return planner.ExplainResult{}, wrapErr(err)
	}
	return planner.Explain(plan), nil
}
