package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/docbase/internal/value"
)

func docs(t *testing.T, ms []map[string]any) []value.Document {
	t.Helper()
	out := make([]value.Document, len(ms))
	for i, m := range ms {
		v, err := value.FromAny(m)
		require.NoError(t, err)
		out[i] = v.AsDoc()
	}
	return out
}

func stageDoc(t *testing.T, m map[string]any) value.Document {
	t.Helper()
	v, err := value.FromAny(m)
	require.NoError(t, err)
	return v.AsDoc()
}

func TestMatchStageFiltersDocuments(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{"$match": map[string]any{"active": true}})})
	require.NoError(t, err)

	in := docs(t, []map[string]any{
		{"name": "a", "active": true},
		{"name": "b", "active": false},
	})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0]["name"].AsString())
}

func TestLimitAndSkipStages(t *testing.T) {
	p, err := Compile([]value.Document{
		stageDoc(t, map[string]any{"$skip": 1}),
		stageDoc(t, map[string]any{"$limit": 2}),
	})
	require.NoError(t, err)

	in := docs(t, []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0]["n"].AsInt())
	assert.Equal(t, int64(3), out[1]["n"].AsInt())
}

func TestSortStageOrdersAscendingByField(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{"$sort": map[string]any{"age": 1}})})
	require.NoError(t, err)

	in := docs(t, []map[string]any{{"age": 30}, {"age": 10}, {"age": 20}})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 3)
	assert.Equal(t, int64(10), out[0]["age"].AsInt())
	assert.Equal(t, int64(20), out[1]["age"].AsInt())
	assert.Equal(t, int64(30), out[2]["age"].AsInt())
}

func TestProjectStageIncludesAndRenames(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{
		"$project": map[string]any{"name": true, "nick": "$name"},
	})})
	require.NoError(t, err)

	in := docs(t, []map[string]any{{"name": "ada", "age": 30}})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 1)
	assert.Equal(t, "ada", out[0]["name"].AsString())
	assert.Equal(t, "ada", out[0]["nick"].AsString())
	_, hasAge := out[0]["age"]
	assert.False(t, hasAge)
}

func TestGroupStageSumAvgMinMax(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{
		"$group": map[string]any{
			"_id":   "$dept",
			"total": map[string]any{"$sum": "$amount"},
			"avg":   map[string]any{"$avg": "$amount"},
			"min":   map[string]any{"$min": "$amount"},
			"max":   map[string]any{"$max": "$amount"},
		},
	})})
	require.NoError(t, err)

	in := docs(t, []map[string]any{
		{"dept": "eng", "amount": 10},
		{"dept": "eng", "amount": 20},
		{"dept": "sales", "amount": 5},
	})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 2)

	byDept := map[string]value.Document{}
	for _, d := range out {
		byDept[d["_id"].AsString()] = d
	}
	eng := byDept["eng"]
	assert.Equal(t, int64(30), eng["total"].AsInt())
	assert.Equal(t, 15.0, eng["avg"].AsFloat())
	assert.Equal(t, int64(10), eng["min"].AsInt())
	assert.Equal(t, int64(20), eng["max"].AsInt())
}

func TestGroupStageWithoutFieldGroupsAll(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{
		"$group": map[string]any{
			"_id":   nil,
			"count": map[string]any{"$sum": 1},
		},
	})})
	require.NoError(t, err)

	in := docs(t, []map[string]any{{"x": 1}, {"x": 2}, {"x": 3}})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 1)
	assert.True(t, out[0]["_id"].IsNull())
	assert.Equal(t, int64(3), out[0]["count"].AsInt())
}

func TestProjectStageExcludesFields(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{
		"$project": map[string]any{"age": false},
	})})
	require.NoError(t, err)

	in := docs(t, []map[string]any{{"name": "ada", "age": 30}})
	out := p.Run(FromSlice(in))
	require.Len(t, out, 1)
	assert.Equal(t, "ada", out[0]["name"].AsString())
	_, hasAge := out[0]["age"]
	assert.False(t, hasAge)
}

func TestProjectStageExcludesID(t *testing.T) {
	p, err := Compile([]value.Document{stageDoc(t, map[string]any{
		"$project": map[string]any{"_id": false},
	})})
	require.NoError(t, err)

	in := []value.Document{{"_id": value.Int(1), "name": value.String("ada")}}
	out := p.Run(FromSlice(in))
	require.Len(t, out, 1)
	_, hasID := out[0]["_id"]
	assert.False(t, hasID)
	assert.Equal(t, "ada", out[0]["name"].AsString())
}

func TestProjectStageRejectsMixedIncludeExclude(t *testing.T) {
	_, err := Compile([]value.Document{stageDoc(t, map[string]any{
		"$project": map[string]any{"name": true, "age": false},
	})})
	assert.ErrorIs(t, err, ErrInvalidProjection)
}

func TestCompileRejectsMultiKeyStage(t *testing.T) {
	multi := value.Document{"$match": value.Doc(value.Document{}), "$limit": value.Int(1)}
	_, err := Compile([]value.Document{multi})
	assert.ErrorIs(t, err, ErrInvalidStage)
}

func TestCompileRejectsUnknownStage(t *testing.T) {
	_, err := Compile([]value.Document{stageDoc(t, map[string]any{"$bogus": map[string]any{}})})
	assert.ErrorIs(t, err, ErrInvalidStage)
}
