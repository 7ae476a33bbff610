package docdb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.docb")
	db, err := Open(Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenSecondHandleOnSamePathReturnsDatabaseBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.docb")
	db, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(Options{Path: path})
	assert.ErrorIs(t, err, ErrDatabaseBusy)
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestInsertOneAssignsIDWhenAbsent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	res, err := db.InsertOne(ctx, "users", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.InsertedID)

	res2, err := db.InsertOne(ctx, "users", map[string]any{"name": "grace"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res2.InsertedID)
}

func TestInsertOneRejectsDuplicateID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "name": "ada"})
	require.NoError(t, err)

	_, err = db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "name": "grace"})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestInsertManyStopsAtFirstFailureButKeepsPriorInserts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertMany(ctx, "users", []map[string]any{
		{"_id": int64(1), "name": "ada"},
		{"_id": int64(1), "name": "grace"},
		{"_id": int64(3), "name": "hedy"},
	})
	assert.Error(t, err)

	n, err := db.CountDocuments(ctx, "users", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFindOneReturnsErrNotFoundWhenNoMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.FindOne(ctx, "users", map[string]any{"name": "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindAppliesFilterSortSkipLimit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, n := range []string{"ada", "grace", "hedy", "margaret"} {
		_, err := db.InsertOne(ctx, "users", map[string]any{"name": n})
		require.NoError(t, err)
	}

	docs, err := db.Find(ctx, "users", map[string]any{}, FindOptions{
		Sort:  map[string]int{"name": 1},
		Skip:  1,
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "grace", docs[0]["name"])
	assert.Equal(t, "hedy", docs[1]["name"])
}

func TestFindWithHintUsesNamedIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "email": "a@x.com"})
	require.NoError(t, err)
	name, err := db.CreateIndex(ctx, "users", "email", CreateIndexOptions{Unique: true})
	require.NoError(t, err)

	docs, err := db.FindWithHint(ctx, "users", map[string]any{"email": "a@x.com"}, name, FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = db.FindWithHint(ctx, "users", map[string]any{}, "no_such_index", FindOptions{})
	assert.Error(t, err)
}

func TestFindWithInOperatorUsesIndexUnion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, age := range []int64{18, 25, 30, 40} {
		_, err := db.InsertOne(ctx, "users", map[string]any{"age": age})
		require.NoError(t, err)
	}
	_, err := db.CreateIndex(ctx, "users", "age", CreateIndexOptions{})
	require.NoError(t, err)

	docs, err := db.Find(ctx, "users", map[string]any{"age": map[string]any{"$in": []any{18, 30}}}, FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	explain, err := db.Explain(ctx, "users", map[string]any{"age": map[string]any{"$in": []any{18, 30}}})
	require.NoError(t, err)
	assert.Equal(t, "IndexScan", explain.QueryPlan)
}

func TestDistinctReturnsSortedUniqueValues(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, age := range []int64{30, 25, 30, 40} {
		_, err := db.InsertOne(ctx, "users", map[string]any{"age": age})
		require.NoError(t, err)
	}

	vals, err := db.Distinct(ctx, "users", "age", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(25), int64(30), int64(40)}, vals)
}

func TestUpdateOneModifiesFirstMatchOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "status": "new"})
	require.NoError(t, err)
	_, err = db.InsertOne(ctx, "users", map[string]any{"_id": int64(2), "status": "new"})
	require.NoError(t, err)

	res, err := db.UpdateOne(ctx, "users", map[string]any{"status": "new"}, map[string]any{"$set": map[string]any{"status": "done"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.MatchedCount)
	assert.Equal(t, int64(1), res.ModifiedCount)

	n, err := db.CountDocuments(ctx, "users", map[string]any{"status": "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateManyModifiesEveryMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.InsertOne(ctx, "users", map[string]any{"status": "new"})
		require.NoError(t, err)
	}

	res, err := db.UpdateMany(ctx, "users", map[string]any{"status": "new"}, map[string]any{"$set": map[string]any{"status": "done"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.MatchedCount)
	assert.Equal(t, int64(3), res.ModifiedCount)
}

func TestUpdateOneIncrementsField(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "counters", map[string]any{"_id": int64(1), "count": int64(5)})
	require.NoError(t, err)

	_, err = db.UpdateOne(ctx, "counters", map[string]any{"_id": int64(1)}, map[string]any{"$inc": map[string]any{"count": int64(3)}})
	require.NoError(t, err)

	doc, err := db.FindOne(ctx, "counters", map[string]any{"_id": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(8), doc["count"])
}

func TestDeleteOneRemovesFirstMatchOnly(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.InsertOne(ctx, "users", map[string]any{"status": "new"})
		require.NoError(t, err)
	}

	res, err := db.DeleteOne(ctx, "users", map[string]any{"status": "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedCount)

	n, err := db.CountDocuments(ctx, "users", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDeleteManyRemovesEveryMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := db.InsertOne(ctx, "users", map[string]any{"status": "new"})
		require.NoError(t, err)
	}

	res, err := db.DeleteMany(ctx, "users", map[string]any{"status": "new"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.DeletedCount)

	n, err := db.CountDocuments(ctx, "users", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestAggregateGroupsAndSums(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertMany(ctx, "orders", []map[string]any{
		{"customer": "ada", "total": int64(10)},
		{"customer": "ada", "total": int64(15)},
		{"customer": "grace", "total": int64(7)},
	})
	require.NoError(t, err)

	pipeline := []map[string]any{
		{"$group": map[string]any{
			"_id":   "$customer",
			"total": map[string]any{"$sum": "$total"},
		}},
		{"$sort": map[string]any{"_id": int64(1)}},
	}

	out, err := db.Aggregate(ctx, "orders", pipeline)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "ada", out[0]["_id"])
	assert.Equal(t, int64(25), out[0]["total"])
	assert.Equal(t, "grace", out[1]["_id"])
	assert.Equal(t, int64(7), out[1]["total"])
}

func TestAggregateProjectStageExcludesFieldAndKeepsID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "name": "ada", "password": "secret"})
	require.NoError(t, err)

	pipeline := []map[string]any{
		{"$project": map[string]any{"password": false}},
	}
	out, err := db.Aggregate(ctx, "users", pipeline)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ada", out[0]["name"])
	_, hasPassword := out[0]["password"]
	assert.False(t, hasPassword)
	_, hasID := out[0]["_id"]
	assert.True(t, hasID)
}

func TestAggregateProjectStageRejectsMixedIncludeExclude(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"name": "ada", "age": int64(30)})
	require.NoError(t, err)

	pipeline := []map[string]any{
		{"$project": map[string]any{"name": true, "age": false}},
	}
	_, err = db.Aggregate(ctx, "users", pipeline)
	assert.ErrorIs(t, err, ErrInvalidProjection)
}

func TestCreateIndexSurvivesReopenWithoutSubsequentWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.docb")
	ctx := context.Background()

	db, err := Open(Options{Path: path})
	require.NoError(t, err)

	_, err = db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "email": "a@x.com"})
	require.NoError(t, err)
	name, err := db.CreateIndex(ctx, "users", "email", CreateIndexOptions{Unique: true})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer db2.Close()

	list, err := db2.ListIndexes(ctx, "users")
	require.NoError(t, err)
	require.Len(t, list, 2)

	docs, err := db2.FindWithHint(ctx, "users", map[string]any{"email": "a@x.com"}, name, FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}

func TestCreateIndexThenDropIndexRoundTrips(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "email": "a@x.com"})
	require.NoError(t, err)

	name, err := db.CreateIndex(ctx, "users", "email", CreateIndexOptions{Unique: true})
	require.NoError(t, err)

	list, err := db.ListIndexes(ctx, "users")
	require.NoError(t, err)
	require.Len(t, list, 2) // primary _id index + email index

	require.NoError(t, db.DropIndex(ctx, "users", name))

	list2, err := db.ListIndexes(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, list2, 1)
}

func TestDropIndexRejectsPrimaryIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1)})
	require.NoError(t, err)

	err = db.DropIndex(ctx, "users", "users_id")
	assert.Error(t, err)
}

func TestExplainReportsCollectionScanWithNoIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"name": "ada"})
	require.NoError(t, err)

	res, err := db.Explain(ctx, "users", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "CollectionScan", res.QueryPlan)
}

func TestExplainReportsIndexScanWhenIndexed(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "email": "a@x.com"})
	require.NoError(t, err)
	_, err = db.CreateIndex(ctx, "users", "email", CreateIndexOptions{Unique: true})
	require.NoError(t, err)

	res, err := db.Explain(ctx, "users", map[string]any{"email": "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "IndexScan", res.QueryPlan)
	assert.Equal(t, "users_email", res.IndexName)
}

func TestBeginCommitTransactionPersistsMutations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.BeginTransaction(ctx)
	require.NoError(t, err)

	_, err = db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "name": "ada"})
	require.NoError(t, err)

	_, err = db.BeginTransaction(ctx)
	assert.Error(t, err, "only one transaction may be open at a time")

	require.NoError(t, db.CommitTransaction(ctx, id))

	doc, err := db.FindOne(ctx, "users", map[string]any{"_id": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "ada", doc["name"])
}

func TestRollbackTransactionDiscardsMutations(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "name": "ada"})
	require.NoError(t, err)

	id, err := db.BeginTransaction(ctx)
	require.NoError(t, err)

	_, err = db.InsertOne(ctx, "users", map[string]any{"_id": int64(2), "name": "grace"})
	require.NoError(t, err)

	require.NoError(t, db.RollbackTransaction(ctx, id))

	n, err := db.CountDocuments(ctx, "users", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCommitTransactionRejectsUnknownID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.CommitTransaction(ctx, 999)
	assert.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestListCollectionsAndDropCollection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"name": "ada"})
	require.NoError(t, err)
	_, err = db.InsertOne(ctx, "orders", map[string]any{"total": int64(1)})
	require.NoError(t, err)

	names, err := db.ListCollections(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"users", "orders"}, names)

	require.NoError(t, db.DropCollection(ctx, "orders"))

	names2, err := db.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, names2)
}

func TestStatsReportsDocumentAndIndexCounts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "email": "a@x.com"})
	require.NoError(t, err)
	_, err = db.CreateIndex(ctx, "users", "email", CreateIndexOptions{Unique: true})
	require.NoError(t, err)

	stats, err := db.Stats(ctx)
	require.NoError(t, err)
	require.Contains(t, stats, "users")
	assert.Equal(t, int64(1), stats["users"].DocumentCount)
	assert.Equal(t, int64(2), stats["users"].IndexCount)
}

func TestVacuumPreservesLiveDocuments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := db.InsertOne(ctx, "users", map[string]any{"name": "ada"})
		require.NoError(t, err)
	}
	_, err := db.DeleteMany(ctx, "users", map[string]any{})
	require.NoError(t, err)
	_, err = db.InsertOne(ctx, "users", map[string]any{"_id": int64(100), "name": "grace"})
	require.NoError(t, err)

	require.NoError(t, db.Vacuum(ctx))

	doc, err := db.FindOne(ctx, "users", map[string]any{"_id": int64(100)})
	require.NoError(t, err)
	assert.Equal(t, "grace", doc["name"])
}

func TestExportCollectionWritesJSONArray(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.InsertOne(ctx, "users", map[string]any{"_id": int64(1), "name": "ada"})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, db.ExportCollection(ctx, "users", out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var docs []map[string]any
	require.NoError(t, json.Unmarshal(data, &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "ada", docs[0]["name"])
}

func TestExportCollectionRejectsUnknownCollection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.ExportCollection(ctx, "nobody_home", filepath.Join(t.TempDir(), "out.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseImplicitlyRollsBackOpenTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.docb")
	db, err := Open(Options{Path: path})
	require.NoError(t, err)

	_, err = db.BeginTransaction(context.Background())
	require.NoError(t, err)
	_, err = db.InsertOne(context.Background(), "users", map[string]any{"_id": int64(1)})
	require.NoError(t, err)

	require.NoError(t, db.Close())

	db2, err := Open(Options{Path: path})
	require.NoError(t, err)
	defer db2.Close()

	n, err := db2.CountDocuments(context.Background(), "users", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
