package txn

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docbase/internal/catalog"
	"github.com/calvinalkan/docbase/internal/storage"
	"github.com/calvinalkan/docbase/pkg/fs"
)

func openManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.docb")
	store, err := storage.Open(fs.NewReal(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat, err := catalog.Open(store)
	require.NoError(t, err)
	return New(cat)
}

func TestBeginRejectsSecondActiveTransaction(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()

	id, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	_, err = m.Begin(ctx)
	assert.ErrorIs(t, err, ErrTransactionInProgress)
}

func TestCommitClearsActiveAndAllowsNewBegin(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()

	id, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, id))

	_, ok := m.Active()
	assert.False(t, ok)

	id2, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id2)
}

func TestCommitUnknownIDErrors(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()

	err := m.Commit(ctx, 999)
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestRollbackClearsActive(t *testing.T) {
	m := openManager(t)
	ctx := context.Background()

	id, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx, id))

	_, ok := m.Active()
	assert.False(t, ok)
	assert.False(t, m.IsActive(id))
}
