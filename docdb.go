// Package docdb is an embedded, single-file document database: a
// MongoDB-shaped query/update/aggregation vocabulary over a page-based
// storage engine with secondary indexes, a cost-based planner, and
// single-writer transactions.
package docdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/calvinalkan/docbase/internal/catalog"
	"github.com/calvinalkan/docbase/internal/storage"
	"github.com/calvinalkan/docbase/internal/txn"
	"github.com/calvinalkan/docbase/pkg/fs"
)

// Options configures Open.
type Options struct {
	// Path is the data file's location on disk. The engine also creates
	// "<Path>.wal" and "<Path>.lock" alongside it.
	Path string

	// FS overrides the filesystem implementation; nil uses fs.NewReal().
	// Exposed for tests, not something a real caller normally sets.
	FS fs.FS
}

// DB is an open handle onto one docbase data file. A DB must be closed
// with Close when no longer needed, which releases the exclusive file
// lock backing DatabaseBusy.
type DB struct {
	mu    sync.Mutex
	fsys  fs.FS
	store *storage.File
	cat   *catalog.Catalog
	txm   *txn.Manager

	// explicitTxn tracks a user-begun transaction's id and the catalog
	// snapshot taken at BeginTransaction, so RollbackTransaction can
	// discard every in-memory mutation made since.
	explicitTxn  *uint64
	explicitSnap *catalog.Snapshot
}

// Open opens (or creates) the data file at opts.Path. Only one process may
// hold an open DB on a given path at a time; a second Open while the first
// is still open returns an error wrapping ErrDatabaseBusy.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("docdb: open: Path is required")
	}
	fsys := opts.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	store, err := storage.Open(fsys, opts.Path)
	if err != nil {
		return nil, wrapErr(err)
	}

	cat, err := catalog.Open(store)
	if err != nil {
		store.Close()
		return nil, wrapErr(err)
	}

	return &DB{
		fsys:  fsys,
		store: store,
		cat:   cat,
		txm:   txn.New(cat),
	}, nil
}

// Close releases the database's exclusive lock and closes its file
// handles. Any in-progress explicit transaction is implicitly rolled
// back, matching the spec's "resources released on close" contract.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.explicitTxn != nil {
		db.cat.Restore(db.explicitSnap)
		db.explicitTxn = nil
		db.explicitSnap = nil
	}
	return wrapErr(db.store.Close())
}

// withWriteTxn runs fn against the catalog, then persists the mutation
// unless an explicit transaction is currently open (in which case the
// mutation stays in-memory only, until CommitTransaction flushes
// everything the explicit transaction touched in one durable commit).
func (db *DB) withWriteTxn(ctx context.Context, fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.explicitTxn != nil {
		return fn()
	}

	id, err := db.txm.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	if err := fn(); err != nil {
		_ = db.txm.Rollback(ctx, id)
		return err
	}
	return wrapErr(db.txm.Commit(ctx, id))
}
