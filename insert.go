package docdb

import (
	"context"
	"fmt"

	"github.com/calvinalkan/docbase/internal/value"
)

// InsertOneResult is returned by InsertOne.
type InsertOneResult struct {
	InsertedID int64
}

// InsertManyResult is returned by InsertMany.
type InsertManyResult struct {
	InsertedIDs []int64
}

// InsertOne inserts doc into collection, assigning an "_id" if the
// document doesn't already carry one. Returns ErrDuplicateKey if doc's
// explicit "_id" (or any unique-indexed field) collides with an existing
// document.
func (db *DB) InsertOne(ctx context.Context, collection string, doc map[string]any) (InsertOneResult, error) {
	v, err := value.FromAny(doc)
	if err != nil {
		return InsertOneResult{}, fmt.Errorf("docdb: insert_one: %w", err)
	}

	var id int64
	err = db.withWriteTxn(ctx, func() error {
		c := db.cat.Collection(collection)
		prepared, assignedID, prepErr := prepareInsert(c, v.AsDoc())
		if prepErr != nil {
			return prepErr
		}
		if insErr := c.Insert(prepared); insErr != nil {
			return insErr
		}
		id = assignedID
		return nil
	})
	if err != nil {
		return InsertOneResult{}, wrapErr(err)
	}
	return InsertOneResult{InsertedID: id}, nil
}

// InsertMany inserts every document in docs, atomically per document
// (spec.md's per-document atomicity): if one document fails (e.g.
// duplicate key), prior documents in the same call remain inserted and
// the error reports which index failed via the wrapped error message.
func (db *DB) InsertMany(ctx context.Context, collection string, docs []map[string]any) (InsertManyResult, error) {
	ids := make([]int64, 0, len(docs))

	err := db.withWriteTxn(ctx, func() error {
		c := db.cat.Collection(collection)
		for i, doc := range docs {
			v, err := value.FromAny(doc)
			if err != nil {
				return fmt.Errorf("docdb: insert_many: document %d: %w", i, err)
			}
			prepared, id, err := prepareInsert(c, v.AsDoc())
			if err != nil {
				return fmt.Errorf("docdb: insert_many: document %d: %w", i, err)
			}
			if err := c.Insert(prepared); err != nil {
				return fmt.Errorf("docdb: insert_many: document %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return InsertManyResult{}, wrapErr(err)
	}
	return InsertManyResult{InsertedIDs: ids}, nil
}

func prepareInsert(c interface{ NextID() int64 }, doc value.Document) (value.Document, int64, error) {
	out := doc.Clone()
	if existing, ok := out["_id"]; ok {
		if existing.Kind() != value.KindInt {
			return nil, 0, fmt.Errorf("docdb: %w: _id must be an integer", ErrTypeMismatch)
		}
		return out, existing.AsInt(), nil
	}
	id := c.NextID()
	out["_id"] = value.Int(id)
	return out, id, nil
}
