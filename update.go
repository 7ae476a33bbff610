package docdb

import (
	"context"
	"fmt"

	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/update"
	"github.com/calvinalkan/docbase/internal/value"
)

// UpdateResult is returned by UpdateOne and UpdateMany.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// UpdateOne applies the update document to the first document in
// collection matching filter.
func (db *DB) UpdateOne(ctx context.Context, collection string, filter, upd map[string]any) (UpdateResult, error) {
	return db.doUpdate(ctx, collection, filter, upd, false)
}

// UpdateMany applies the update document to every document in collection
// matching filter, each document's update applied atomically.
func (db *DB) UpdateMany(ctx context.Context, collection string, filter, upd map[string]any) (UpdateResult, error) {
	return db.doUpdate(ctx, collection, filter, upd, true)
}

func (db *DB) doUpdate(ctx context.Context, collection string, filter, upd map[string]any, many bool) (UpdateResult, error) {
	filterVal, err := value.FromAny(filter)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("docdb: %w: %v", ErrInvalidQuery, err)
	}
	pred, err := query.Compile(filterVal.AsDoc())
	if err != nil {
		return UpdateResult{}, wrapErr(err)
	}

	updVal, err := value.FromAny(upd)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("docdb: %w: %v", ErrInvalidUpdate, err)
	}
	ops, err := update.Compile(updVal.AsDoc())
	if err != nil {
		return UpdateResult{}, wrapErr(err)
	}

	var result UpdateResult
	err = db.withWriteTxn(ctx, func() error {
		c, ok := db.cat.Lookup(collection)
		if !ok {
			return nil
		}

		for _, doc := range c.All() {
			if !query.Match(pred, doc) {
				continue
			}
			result.MatchedCount++

			updated, changed, err := update.Apply(ops, doc)
			if err != nil {
				return err
			}
			if changed {
				id := doc["_id"].AsInt()
				if err := c.Replace(id, updated); err != nil {
					return err
				}
				result.ModifiedCount++
			}
			if !many {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, wrapErr(err)
	}
	return result, nil
}
