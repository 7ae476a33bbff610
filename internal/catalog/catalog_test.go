package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docbase/internal/index"
	"github.com/calvinalkan/docbase/internal/value"
	"github.com/calvinalkan/docbase/pkg/fs"

	"github.com/calvinalkan/docbase/internal/storage"
)

func openTestCatalog(t *testing.T) (*Catalog, *storage.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.docb")
	store, err := storage.Open(fs.NewReal(), path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cat, err := Open(store)
	require.NoError(t, err)
	return cat, store
}

func doc(t *testing.T, m map[string]any) value.Document {
	t.Helper()
	v, err := value.FromAny(m)
	require.NoError(t, err)
	return v.AsDoc()
}

func TestCollectionCreatedOnFirstUse(t *testing.T) {
	cat, _ := openTestCatalog(t)

	assert.Empty(t, cat.Names())
	c := cat.Collection("users")
	assert.Equal(t, []string{"users"}, cat.Names())
	assert.Equal(t, 0, c.Count())
}

func TestInsertAssignsAndEnforcesPrimaryIndex(t *testing.T) {
	cat, _ := openTestCatalog(t)
	c := cat.Collection("users")

	d := doc(t, map[string]any{"_id": int64(1), "name": "ada"})
	require.NoError(t, c.Insert(d))

	dup := doc(t, map[string]any{"_id": int64(1), "name": "grace"})
	err := c.Insert(dup)
	assert.ErrorIs(t, err, index.ErrDuplicateKey)
	assert.Equal(t, 1, c.Count())
}

func TestReplaceMaintainsSecondaryIndex(t *testing.T) {
	cat, _ := openTestCatalog(t)
	c := cat.Collection("users")

	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(1), "email": "a@x.com"})))
	_, err := c.CreateIndex("users_email", "email", true)
	require.NoError(t, err)

	idx, ok := c.IndexByName("users_email")
	require.True(t, ok)
	assert.Equal(t, []int64{1}, idx.Point(value.String("a@x.com")))

	require.NoError(t, c.Replace(1, doc(t, map[string]any{"_id": int64(1), "email": "b@x.com"})))
	assert.Nil(t, idx.Point(value.String("a@x.com")))
	assert.Equal(t, []int64{1}, idx.Point(value.String("b@x.com")))
}

func TestReplaceRejectsUniqueConflictAndRestoresOldIndex(t *testing.T) {
	cat, _ := openTestCatalog(t)
	c := cat.Collection("users")

	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(1), "email": "a@x.com"})))
	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(2), "email": "b@x.com"})))
	_, err := c.CreateIndex("users_email", "email", true)
	require.NoError(t, err)

	err = c.Replace(2, doc(t, map[string]any{"_id": int64(2), "email": "a@x.com"}))
	assert.ErrorIs(t, err, index.ErrDuplicateKey)

	idx, _ := c.IndexByName("users_email")
	assert.Equal(t, []int64{2}, idx.Point(value.String("b@x.com")))
	assert.Equal(t, []int64{1}, idx.Point(value.String("a@x.com")))
}

func TestDeleteRemovesFromAllIndexes(t *testing.T) {
	cat, _ := openTestCatalog(t)
	c := cat.Collection("users")
	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(1), "name": "ada"})))

	c.Delete(1)
	assert.Equal(t, 0, c.Count())
	idIdx, _ := c.IndexByName("users_id")
	assert.Nil(t, idIdx.Point(value.Int(1)))
}

func TestDropIndexRejectsPrimary(t *testing.T) {
	cat, _ := openTestCatalog(t)
	c := cat.Collection("users")

	err := c.DropIndex("users_id")
	assert.ErrorIs(t, err, ErrPrimaryIndexImmutable)
}

func TestPersistAndReopenRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.docb")
	fsys := fs.NewReal()

	store, err := storage.Open(fsys, path)
	require.NoError(t, err)

	cat, err := Open(store)
	require.NoError(t, err)

	c := cat.Collection("users")
	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(1), "name": "ada"})))
	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(2), "name": "grace"})))
	_, err = c.CreateIndex("users_name", "name", false)
	require.NoError(t, err)

	require.NoError(t, cat.Persist(cat.NextTxnID()))
	require.NoError(t, store.Close())

	store2, err := storage.Open(fsys, path)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	cat2, err := Open(store2)
	require.NoError(t, err)

	assert.Equal(t, []string{"users"}, cat2.Names())
	c2, ok := cat2.Lookup("users")
	require.True(t, ok)
	assert.Equal(t, 2, c2.Count())

	idx, ok := c2.IndexByName("users_name")
	require.True(t, ok)
	assert.Equal(t, []int64{1}, idx.Point(value.String("ada")))
}

func TestSnapshotRestoreDiscardsMutations(t *testing.T) {
	cat, _ := openTestCatalog(t)
	c := cat.Collection("users")
	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(1), "name": "ada"})))

	snap := cat.Snapshot()

	c.Delete(1)
	require.NoError(t, c.Insert(doc(t, map[string]any{"_id": int64(2), "name": "grace"})))
	assert.Equal(t, 1, c.Count())

	cat.Restore(snap)
	c, ok := cat.Lookup("users")
	require.True(t, ok)
	assert.Equal(t, 1, c.Count())
	_, ok = c.Get(1)
	assert.True(t, ok)
}
