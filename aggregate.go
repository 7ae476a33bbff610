package docdb

import (
	"context"
	"fmt"

	"github.com/calvinalkan/docbase/internal/aggregate"
	"github.com/calvinalkan/docbase/internal/value"
)

// Aggregate runs a pipeline of stage documents ($match, $project, $sort,
// $limit, $skip, $group) over collection and returns the resulting
// documents.
func (db *DB) Aggregate(ctx context.Context, collection string, pipeline []map[string]any) ([]map[string]any, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	stages := make([]value.Document, len(pipeline))
	for i, s := range pipeline {
		v, err := value.FromAny(s)
		if err != nil {
			return nil, fmt.Errorf("docdb: aggregate: stage %d: %w", i, err)
		}
		stages[i] = v.AsDoc()
	}

	pl, err := aggregate.Compile(stages)
	if err != nil {
		return nil, wrapErr(err)
	}

	var docs []value.Document
	if c, ok := db.cat.Lookup(collection); ok {
		docs = c.All()
	}

	result := pl.Run(aggregate.FromSlice(docs))
	out := make([]map[string]any, len(result))
	for i, d := range result {
		out[i] = value.ToAny(value.Doc(d)).(map[string]any)
	}
	return out, nil
}
