package docdb

import (
	"context"
	"fmt"

	"github.com/calvinalkan/docbase/internal/query"
	"github.com/calvinalkan/docbase/internal/value"
)

// DeleteResult is returned by DeleteOne and DeleteMany.
type DeleteResult struct {
	DeletedCount int64
}

// DeleteOne removes the first document in collection matching filter.
func (db *DB) DeleteOne(ctx context.Context, collection string, filter map[string]any) (DeleteResult, error) {
	return db.doDelete(ctx, collection, filter, false)
}

// DeleteMany removes every document in collection matching filter.
func (db *DB) DeleteMany(ctx context.Context, collection string, filter map[string]any) (DeleteResult, error) {
	return db.doDelete(ctx, collection, filter, true)
}

func (db *DB) doDelete(ctx context.Context, collection string, filter map[string]any, many bool) (DeleteResult, error) {
	filterVal, err := value.FromAny(filter)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("docdb: %w: %v", ErrInvalidQuery, err)
	}
	pred, err := query.Compile(filterVal.AsDoc())
	if err != nil {
		return DeleteResult{}, wrapErr(err)
	}

	var result DeleteResult
	err = db.withWriteTxn(ctx, func() error {
		c, ok := db.cat.Lookup(collection)
		if !ok {
			return nil
		}

		for _, doc := range c.All() {
			if !query.Match(pred, doc) {
				continue
			}
			c.Delete(doc["_id"].AsInt())
			result.DeletedCount++
			if !many {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, wrapErr(err)
	}
	return result, nil
}
