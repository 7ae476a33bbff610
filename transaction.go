package docdb

import (
	"context"
	"fmt"
)

// BeginTransaction starts an explicit transaction and returns its id.
// While a transaction is open, InsertOne/UpdateMany/DeleteOne/etc. mutate
// the database's in-memory state without persisting, until
// CommitTransaction flushes everything in one durable commit or
// RollbackTransaction discards it. Only one transaction may be open at a
// time, matching the engine's single-writer model.
func (db *DB) BeginTransaction(ctx context.Context) (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.explicitTxn != nil {
		return 0, fmt.Errorf("docdb: begin_transaction: transaction already in progress")
	}

	id, err := db.txm.Begin(ctx)
	if err != nil {
		return 0, wrapErr(err)
	}
	snap := db.cat.Snapshot()
	db.explicitTxn = &id
	db.explicitSnap = snap
	return id, nil
}

// CommitTransaction durably persists every mutation made since
// BeginTransaction(id).
func (db *DB) CommitTransaction(ctx context.Context, id uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.explicitTxn == nil || *db.explicitTxn != id {
		return fmt.Errorf("docdb: commit_transaction: %w: %d", ErrUnknownTransaction, id)
	}

	if err := db.txm.Commit(ctx, id); err != nil {
		return wrapErr(err)
	}
	db.explicitTxn = nil
	db.explicitSnap = nil
	return nil
}

// RollbackTransaction discards every mutation made since
// BeginTransaction(id), restoring the pre-transaction in-memory state.
func (db *DB) RollbackTransaction(ctx context.Context, id uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.explicitTxn == nil || *db.explicitTxn != id {
		return fmt.Errorf("docdb: rollback_transaction: %w: %d", ErrUnknownTransaction, id)
	}

	if err := db.txm.Rollback(ctx, id); err != nil {
		return wrapErr(err)
	}
	db.cat.Restore(db.explicitSnap)
	db.explicitTxn = nil
	db.explicitSnap = nil
	return nil
}
