package directors

import (
	"testing"

	"lumendb/src/engine"
	"lumendb/src/hashindex"
	"lumendb/src/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *CollectionService {
	t.Helper()
	logger := zap.NewNop().Sugar()
	dataDir := t.TempDir()

	collectionStore, err := engine.NewCollectionStore(dataDir, 16, logger)
	require.NoError(t, err)

	indexStore, err := hashindex.NewIndexStore(dataDir, logger)
	require.NoError(t, err)
	indexService := hashindex.NewHashIndexService(indexStore, logger)

	journal, err := engine.NewJournal(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	return NewCollectionService(collectionStore, engine.NewDocumentFactory(),
		indexService, journal, logger, settings.GetSettings())
}

func insert(t *testing.T, s *CollectionService, collection string, doc engine.Document) engine.Document {
	t.Helper()
	stored, err := s.InsertDocument(collection, doc)
	require.NoError(t, err)
	return stored
}

func find(t *testing.T, s *CollectionService, collection, filter string) []engine.Document {
	t.Helper()
	docs, err := s.FindDocuments(collection, []byte(filter))
	require.NoError(t, err)
	return docs
}

// checkIndexCoherent asserts index coherence: every live document
// with a non-missing indexed value appears in exactly one bucket, under its
// canonical key, and no bucket is empty or references a dead document.
func checkIndexCoherent(t *testing.T, s *CollectionService, collection, field string) {
	t.Helper()

	idx, err := s.GetIndex(collection, field)
	require.NoError(t, err)

	docs, err := s.FindDocuments(collection, []byte(`{}`))
	require.NoError(t, err)

	live := make(map[string]engine.Document)
	for _, doc := range docs {
		live[engine.DocumentID(doc)] = doc
	}

	seen := make(map[string]int)
	for key, ids := range idx.Index {
		require.NotEmpty(t, ids, "bucket %q must not be empty", key)
		for _, id := range ids {
			seen[id]++
			doc, ok := live[id]
			require.True(t, ok, "index references dead document %q", id)
			value := engine.ResolvePath(doc, field)
			require.False(t, engine.IsMissing(value))
			require.Equal(t, engine.CanonicalKey(value), key)
		}
	}

	for id, doc := range live {
		value := engine.ResolvePath(doc, field)
		if engine.IsMissing(value) {
			assert.Zero(t, seen[id])
		} else {
			assert.Equal(t, 1, seen[id], "document %q must appear in exactly one bucket", id)
		}
	}
}

// Insert and find through an index.
func TestInsertAndFindByIndex(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	_, err = s.CreateIndex("orders", "customerId")
	require.NoError(t, err)

	first := insert(t, s, "orders", engine.Document{"customerId": "cust001", "total": 129.99})
	insert(t, s, "orders", engine.Document{"customerId": "cust002", "total": 549.97})

	docs := find(t, s, "orders", `{"customerId": "cust001"}`)
	require.Len(t, docs, 1)
	assert.Equal(t, engine.DocumentID(first), engine.DocumentID(docs[0]))

	checkIndexCoherent(t, s, "orders", "customerId")
}

// A $set that moves a document between buckets keeps the index coherent.
func TestUpdateKeepsIndexCoherent(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	_, err = s.CreateIndex("orders", "customerId")
	require.NoError(t, err)

	insert(t, s, "orders", engine.Document{"customerId": "cust001", "total": 129.99})
	second := insert(t, s, "orders", engine.Document{"customerId": "cust002", "total": 549.97})

	_, err = s.UpdateDocument("orders", engine.DocumentID(second), map[string]interface{}{
		"$set": map[string]interface{}{"customerId": "cust001"},
	})
	require.NoError(t, err)

	assert.Len(t, find(t, s, "orders", `{"customerId": "cust001"}`), 2)
	assert.Empty(t, find(t, s, "orders", `{"customerId": "cust002"}`))

	checkIndexCoherent(t, s, "orders", "customerId")
}

// Deleting every document leaves the index present but empty.
func TestDeleteRemovesFromIndexes(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	_, err = s.CreateIndex("orders", "customerId")
	require.NoError(t, err)

	first := insert(t, s, "orders", engine.Document{"customerId": "cust001"})
	second := insert(t, s, "orders", engine.Document{"customerId": "cust002"})

	require.NoError(t, s.DeleteDocument("orders", engine.DocumentID(first)))
	require.NoError(t, s.DeleteDocument("orders", engine.DocumentID(second)))

	indexes, err := s.ListIndexes("orders")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "customerId", indexes[0].Field)
	assert.Empty(t, indexes[0].Index)

	meta, err := s.GetCollection("orders")
	require.NoError(t, err)
	assert.Zero(t, meta.DocumentCount)
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)

	insert(t, s, "orders", engine.Document{engine.IDField: "dup"})
	_, err = s.InsertDocument("orders", engine.Document{engine.IDField: "dup"})
	require.Error(t, err)
	assert.Equal(t, engine.KindDuplicate, engine.KindOf(err))

	meta, err := s.GetCollection("orders")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.DocumentCount)
}

func TestInsertIntoMissingCollection(t *testing.T) {
	s := newTestService(t)

	_, err := s.InsertDocument("ghost", engine.Document{})
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))
}

func TestDocumentCountTracksLiveDocuments(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		doc := insert(t, s, "orders", engine.Document{"n": float64(i)})
		ids = append(ids, engine.DocumentID(doc))
	}
	require.NoError(t, s.DeleteDocument("orders", ids[0]))
	require.NoError(t, s.DeleteDocument("orders", ids[1]))

	meta, err := s.GetCollection("orders")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.DocumentCount)
	assert.Len(t, find(t, s, "orders", `{}`), 3)
}

func TestUpdateCannotChangeID(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	doc := insert(t, s, "orders", engine.Document{"a": 1.0})

	_, err = s.UpdateDocument("orders", engine.DocumentID(doc), map[string]interface{}{
		"$set": map[string]interface{}{engine.IDField: "other"},
	})
	require.Error(t, err)
	assert.Equal(t, engine.KindBadRequest, engine.KindOf(err))

	_, err = s.UpdateDocument("orders", engine.DocumentID(doc), map[string]interface{}{
		"$unset": map[string]interface{}{engine.IDField: ""},
	})
	require.Error(t, err)
	assert.Equal(t, engine.KindBadRequest, engine.KindOf(err))
}

func TestUpdateSetUnsetAndUnknownOperators(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	doc := insert(t, s, "orders", engine.Document{"a": 1.0, "b": 2.0})
	id := engine.DocumentID(doc)

	updated, err := s.UpdateDocument("orders", id, map[string]interface{}{
		"$set":   map[string]interface{}{"a": 10.0, "nested.deep": true},
		"$unset": map[string]interface{}{"b": ""},
		"$inc":   map[string]interface{}{"a": 1.0}, // unknown: ignored
	})
	require.NoError(t, err)

	assert.Equal(t, 10.0, updated["a"])
	assert.Equal(t, true, engine.ResolvePath(updated, "nested.deep"))
	_, hasB := updated["b"]
	assert.False(t, hasB)

	_, err = s.UpdateDocument("orders", "missing-id", map[string]interface{}{
		"$set": map[string]interface{}{"a": 1.0},
	})
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))
}

func TestFindUnknownOperatorReturnsEmpty(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	insert(t, s, "orders", engine.Document{"a": 1.0})

	docs := find(t, s, "orders", `{"a": {"$near": 1}}`)
	assert.Empty(t, docs)
}

// The planner consults the first filtered field with an index and the full
// filter still applies on top.
func TestPlannerUsesIndexAndRefilters(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	_, err = s.CreateIndex("orders", "customerId")
	require.NoError(t, err)

	insert(t, s, "orders", engine.Document{"customerId": "cust001", "status": "completed"})
	insert(t, s, "orders", engine.Document{"customerId": "cust001", "status": "pending"})
	insert(t, s, "orders", engine.Document{"customerId": "cust002", "status": "completed"})

	docs := find(t, s, "orders", `{"customerId": "cust001", "status": "completed"}`)
	require.Len(t, docs, 1)
	assert.Equal(t, "completed", docs[0]["status"])

	// Range criteria on the indexed field work through bucket keys.
	_, err = s.CreateIndex("orders", "status")
	require.NoError(t, err)
	docs = find(t, s, "orders", `{"status": {"$gte": "pending"}}`)
	assert.Len(t, docs, 1)
}

func TestDeleteCollectionDropsIndexes(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	_, err = s.CreateIndex("orders", "customerId")
	require.NoError(t, err)
	insert(t, s, "orders", engine.Document{"customerId": "cust001"})

	require.NoError(t, s.DeleteCollection("orders"))

	assert.Equal(t, engine.KindNotFound, engine.KindOf(s.DeleteCollection("orders")))
	_, err = s.GetIndex("orders", "customerId")
	assert.Equal(t, engine.KindNotFound, engine.KindOf(err))

	// Re-creating the name starts from a clean slate.
	_, err = s.CreateCollection("orders")
	require.NoError(t, err)
	indexes, err := s.ListIndexes("orders")
	require.NoError(t, err)
	assert.Empty(t, indexes)
}

func TestAggregateThroughService(t *testing.T) {
	s := newTestService(t)

	_, err := s.CreateCollection("orders")
	require.NoError(t, err)
	insert(t, s, "orders", engine.Document{"customerId": "cust001", "status": "completed", "total": 129.99})
	insert(t, s, "orders", engine.Document{"customerId": "cust002", "status": "completed", "total": 549.97})
	insert(t, s, "orders", engine.Document{"customerId": "cust001", "status": "pending", "total": 10.0})

	out, err := s.Aggregate("orders", []byte(`[
		{"$match": {"status": "completed"}},
		{"$group": {"_id": "$customerId", "totalSpent": {"$sum": "$total"}}},
		{"$sort": {"totalSpent": -1}}
	]`))
	require.NoError(t, err)

	require.Len(t, out, 2)
	assert.Equal(t, "cust002", out[0][engine.IDField])

	_, err = s.Aggregate("orders", []byte(`[{"$foo": {}}]`))
	assert.Equal(t, engine.KindUnsupportedStage, engine.KindOf(err))
}
