package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docbase/internal/value"
)

func TestInsertAndPointUnique(t *testing.T) {
	idx := New("age_idx", "age", true)
	require.NoError(t, idx.Insert(value.Int(30), 1))

	err := idx.Insert(value.Int(30), 2)
	assert.ErrorIs(t, err, ErrDuplicateKey)

	assert.Equal(t, []int64{1}, idx.Point(value.Int(30)))
}

func TestInsertNonUniqueAllowsMultipleIDs(t *testing.T) {
	idx := New("status_idx", "status", false)
	require.NoError(t, idx.Insert(value.String("active"), 1))
	require.NoError(t, idx.Insert(value.String("active"), 2))

	ids := idx.Point(value.String("active"))
	assert.ElementsMatch(t, []int64{1, 2}, ids)
}

func TestRemoveDropsEmptyEntry(t *testing.T) {
	idx := New("status_idx", "status", false)
	require.NoError(t, idx.Insert(value.String("active"), 1))
	idx.Remove(value.String("active"), 1)

	assert.Nil(t, idx.Point(value.String("active")))
	assert.Equal(t, 0, idx.Len())
}

func TestRangeRespectsBoundsAndInclusivity(t *testing.T) {
	idx := New("age_idx", "age", false)
	for _, age := range []int64{10, 20, 30, 40, 50} {
		require.NoError(t, idx.Insert(value.Int(age), age))
	}

	ids := idx.Range(value.Int(20), value.Int(40), true, false, true, true)
	assert.ElementsMatch(t, []int64{20, 30}, ids)

	ids = idx.Range(value.Int(20), value.Int(40), false, true, true, true)
	assert.ElementsMatch(t, []int64{30, 40}, ids)
}

func TestRangeOpenOnOneSide(t *testing.T) {
	idx := New("age_idx", "age", false)
	for _, age := range []int64{10, 20, 30} {
		require.NoError(t, idx.Insert(value.Int(age), age))
	}

	ids := idx.Range(value.Int(20), value.Value{}, true, false, true, false)
	assert.ElementsMatch(t, []int64{20, 30}, ids)
}
