// Package txn implements the single-writer transaction manager: at most
// one transaction is Active per process at a time, matching the teacher's
// own Store.Begin/Tx.Commit sequencing of "acquire, mutate, durably
// commit, release".
package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calvinalkan/docbase/internal/catalog"
)

// ErrUnknownTransaction is returned by Commit/Rollback for an id that
// isn't the currently Active transaction (already committed, already
// rolled back, or never issued).
var ErrUnknownTransaction = errors.New("txn: unknown transaction")

// ErrTransactionInProgress is returned by Begin when another transaction
// is already Active, per the spec's single-writer model.
var ErrTransactionInProgress = errors.New("txn: transaction already in progress")

// Manager tracks the one Active transaction and persists committed work
// through the catalog.
type Manager struct {
	mu     sync.Mutex
	cat    *catalog.Catalog
	nextID uint64
	active *uint64
}

// New returns a Manager bound to cat.
func New(cat *catalog.Catalog) *Manager {
	return &Manager{cat: cat}
}

// Begin starts a new transaction and returns its id, or
// ErrTransactionInProgress if one is already Active.
func (m *Manager) Begin(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return 0, ErrTransactionInProgress
	}
	m.nextID++
	id := m.nextID
	m.active = &id
	return id, nil
}

// Commit durably persists the catalog's current state and ends the
// transaction. Every write made since Begin — whether issued through an
// explicit transaction or docdb's implicit single-statement transaction —
// is flushed to storage in one WAL-protected commit.
func (m *Manager) Commit(ctx context.Context, id uint64) error {
	m.mu.Lock()
	if m.active == nil || *m.active != id {
		m.mu.Unlock()
		return fmt.Errorf("txn: commit: %w: %d", ErrUnknownTransaction, id)
	}
	m.mu.Unlock()

	if err := m.cat.Persist(id); err != nil {
		return fmt.Errorf("txn: commit %d: %w", id, err)
	}

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
	return nil
}

// Rollback discards the transaction without persisting. Because every
// mutating operation in this engine applies directly to the in-memory
// catalog, a real multi-statement rollback would need to undo those
// in-memory mutations; docdb's transaction.go captures a pre-image
// snapshot at BeginTransaction and restores it itself when it rolls back
// (see docdb/transaction.go), so Rollback here only clears the Active
// marker.
func (m *Manager) Rollback(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || *m.active != id {
		return fmt.Errorf("txn: rollback: %w: %d", ErrUnknownTransaction, id)
	}
	m.active = nil
	return nil
}

// Active reports the currently Active transaction id, if any.
func (m *Manager) Active() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0, false
	}
	return *m.active, true
}

// IsActive reports whether id is the currently Active transaction.
func (m *Manager) IsActive(id uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && *m.active == id
}
