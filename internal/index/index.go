// Package index implements the secondary-index subsystem: an ordered map
// from indexed field value to one or more document ids, backed by
// google/btree so point and range lookups both iterate in key order.
package index

import (
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/calvinalkan/docbase/internal/value"
)

// ErrDuplicateKey is returned by Insert when a unique index already has an
// entry for the given key.
var ErrDuplicateKey = errors.New("index: duplicate key")

// entry is the btree item: one key maps to a set of doc ids. For a unique
// index the set never holds more than one id; Insert enforces that.
type entry struct {
	key   value.Value
	ids   map[int64]struct{}
}

func (e entry) Less(than btree.Item) bool {
	return value.Compare(e.key, than.(entry).key) < 0
}

// Index is one secondary (or primary _id) index over a single field.
// Not safe for concurrent use without external synchronization; the
// engine's single-writer model means all mutation already happens on one
// goroutine at a time, serialized by the docdb handle's mutex.
type Index struct {
	Name   string
	Field  string
	Unique bool

	tree *btree.BTree
}

// New returns an empty index over field, unique or not.
func New(name, field string, unique bool) *Index {
	return &Index{Name: name, Field: field, Unique: unique, tree: btree.New(32)}
}

// Insert adds docID under key. For a unique index, it returns
// ErrDuplicateKey if key is already present.
func (idx *Index) Insert(key value.Value, docID int64) error {
	item := idx.tree.Get(entry{key: key})
	if item == nil {
		idx.tree.ReplaceOrInsert(entry{key: key, ids: map[int64]struct{}{docID: {}}})
		return nil
	}
	e := item.(entry)
	if idx.Unique && len(e.ids) > 0 {
		return fmt.Errorf("index %q: %w: %v", idx.Name, ErrDuplicateKey, key)
	}
	e.ids[docID] = struct{}{}
	idx.tree.ReplaceOrInsert(e)
	return nil
}

// Remove deletes docID from key's entry, dropping the entry entirely once
// its id set is empty.
func (idx *Index) Remove(key value.Value, docID int64) {
	item := idx.tree.Get(entry{key: key})
	if item == nil {
		return
	}
	e := item.(entry)
	delete(e.ids, docID)
	if len(e.ids) == 0 {
		idx.tree.Delete(entry{key: key})
		return
	}
	idx.tree.ReplaceOrInsert(e)
}

// Point returns every doc id stored under key, in no particular order
// (callers that need document order re-sort by _id downstream).
func (idx *Index) Point(key value.Value) []int64 {
	item := idx.tree.Get(entry{key: key})
	if item == nil {
		return nil
	}
	return idIDs(item.(entry))
}

// Range returns every doc id whose key falls between lower and upper. A
// side is unbounded when its hasLower/hasUpper flag is false; otherwise the
// matching inclusive flag decides whether a key equal to the bound counts.
func (idx *Index) Range(lower, upper value.Value, lowerInclusive, upperInclusive bool, hasLower, hasUpper bool) []int64 {
	var ids []int64
	visit := func(i btree.Item) bool {
		e := i.(entry)
		if hasLower {
			c := value.Compare(e.key, lower)
			if c < 0 || (c == 0 && !lowerInclusive) {
				return true
			}
		}
		if hasUpper {
			c := value.Compare(e.key, upper)
			if c > 0 || (c == 0 && !upperInclusive) {
				return false
			}
		}
		ids = append(ids, idIDs(e)...)
		return true
	}

	switch {
	case hasLower:
		idx.tree.AscendGreaterOrEqual(entry{key: lower}, visit)
	default:
		idx.tree.Ascend(visit)
	}
	return ids
}

// Len returns the number of distinct keys in the index.
func (idx *Index) Len() int { return idx.tree.Len() }

func idIDs(e entry) []int64 {
	ids := make([]int64, 0, len(e.ids))
	for id := range e.ids {
		ids = append(ids, id)
	}
	return ids
}
