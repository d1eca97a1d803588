package directors

import (
	"strings"
	"sync"

	"lumendb/src/aggregate"
	"lumendb/src/engine"
	"lumendb/src/hashindex"
	"lumendb/src/settings"

	"go.uber.org/zap"
)

// CollectionService coordinates the collection storage engine, the index
// service and the journal. Every collection is one critical section: a
// single reader-writer lock per collection guards its documents, its
// metadata and all of its indexes, so the index-coherence invariant is never
// observable-violated from outside.
type CollectionService struct {
	store      engine.CollectionStore
	docFactory engine.DocumentFactory
	indexes    *hashindex.HashIndexService
	journal    *engine.Journal
	settings   *settings.Arguments
	logger     *zap.SugaredLogger

	// LookupFunc, when set, replaces the $lookup stub for every pipeline.
	LookupFunc aggregate.LookupFunc

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewCollectionService(store engine.CollectionStore,
	docFactory engine.DocumentFactory,
	indexes *hashindex.HashIndexService,
	journal *engine.Journal,
	logger *zap.SugaredLogger,
	args *settings.Arguments) *CollectionService {

	return &CollectionService{
		store:      store,
		docFactory: docFactory,
		indexes:    indexes,
		journal:    journal,
		settings:   args,
		logger:     logger,
		locks:      make(map[string]*sync.RWMutex),
	}
}

// lockFor returns the reader-writer lock of a collection, creating it on
// first use. Locks outlive their collection so a concurrent create of the
// same name stays serialized.
func (s *CollectionService) lockFor(name string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.RWMutex{}
		s.locks[name] = lock
	}
	return lock
}

// CreateCollection creates an empty collection.
func (s *CollectionService) CreateCollection(name string) (*engine.CollectionMeta, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.store.CreateCollection(name)
	if err != nil {
		return nil, err
	}

	if err := s.journal.Append("createCollection", name, ""); err != nil {
		s.logger.Warnf("Failed to journal collection create: %v", err)
	}

	return meta, nil
}

// ListCollections returns the metadata of every collection.
func (s *CollectionService) ListCollections() ([]engine.CollectionMeta, error) {
	return s.store.ListCollectionMetas()
}

// GetCollection returns one collection's metadata.
func (s *CollectionService) GetCollection(name string) (*engine.CollectionMeta, error) {
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	return s.store.LoadCollectionMeta(name)
}

// DeleteCollection destroys a collection, its documents and all of its
// indexes. Indexes go first so a crash mid-way never leaves index files for
// a collection that no longer exists.
func (s *CollectionService) DeleteCollection(name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !s.store.CollectionExists(name) {
		return engine.NotFoundf("collection %q not found", name)
	}

	if err := s.indexes.DeleteCollectionIndexes(name); err != nil {
		return err
	}

	if err := s.store.RemoveCollection(name); err != nil {
		return err
	}

	if err := s.journal.Append("deleteCollection", name, ""); err != nil {
		s.logger.Warnf("Failed to journal collection delete: %v", err)
	}

	return nil
}

// InsertDocument stores a new document and updates every index of the
// collection. The stored document, including its identifier, is returned.
func (s *CollectionService) InsertDocument(name string, body engine.Document) (engine.Document, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.store.LoadCollectionMeta(name)
	if err != nil {
		return nil, err
	}

	doc, err := s.docFactory.NewDocument(body)
	if err != nil {
		return nil, err
	}

	id := engine.DocumentID(doc)
	if s.store.DocumentExists(name, id) {
		return nil, engine.Duplicatef("document %q already exists in collection %q", id, name)
	}

	if err := s.store.WriteDocument(name, doc); err != nil {
		return nil, err
	}

	meta.DocumentCount++
	if err := s.store.SaveCollectionMeta(meta); err != nil {
		return nil, err
	}

	if err := s.journal.Append("insert", name, id); err != nil {
		s.logger.Warnf("Failed to journal insert: %v", err)
	}

	// The document write is not rolled back when indexing fails; recovery
	// is an index rebuild.
	if err := s.indexes.UpdateIndexesForDocument(name, doc); err != nil {
		return nil, err
	}

	if s.settings.Debug {
		s.logger.Infof("Inserted document %s into collection %s", id, name)
	}

	return doc, nil
}

// FindDocuments evaluates a filter over a collection. The planner consults
// at most one index — the first filtered field (in the query's own key
// order) that has one — and the full filter is applied on top.
func (s *CollectionService) FindDocuments(name string, rawFilter []byte) ([]engine.Document, error) {
	query, keyOrder, err := decodeFilter(rawFilter)
	if err != nil {
		return nil, err
	}

	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	if !s.store.CollectionExists(name) {
		return nil, engine.NotFoundf("collection %q not found", name)
	}

	candidates, err := s.planCandidates(name, query, keyOrder)
	if err != nil {
		return nil, err
	}

	matched := make([]engine.Document, 0, len(candidates))
	for _, doc := range candidates {
		ok, err := engine.MatchQuery(doc, query)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, doc)
		}
	}

	return matched, nil
}

// planCandidates returns the documents the filter evaluator should see:
// either the bucket selection of the first indexed query field, or the whole
// collection when no index applies.
func (s *CollectionService) planCandidates(name string, query map[string]interface{}, keyOrder []string) ([]engine.Document, error) {
	for _, field := range keyOrder {
		if !s.indexes.HasIndex(name, field) {
			continue
		}

		idx, err := s.indexes.GetIndex(name, field)
		if err != nil {
			return nil, err
		}

		ids, restricted, err := hashindex.CandidateIDs(idx, query[field])
		if err != nil {
			return nil, err
		}
		if !restricted {
			break
		}

		if s.settings.Debug {
			s.logger.Infof("Planner selected index %s.%s: %d candidates",
				name, field, len(ids))
		}

		docs := make([]engine.Document, 0, len(ids))
		for _, id := range ids {
			doc, err := s.store.ReadDocument(name, id)
			if err != nil {
				if engine.IsKind(err, engine.KindNotFound) {
					// A stale index entry; the rebuild path cleans these up.
					s.logger.Warnf("Index %s.%s references missing document %s", name, field, id)
					continue
				}
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}

	return s.store.ListDocuments(name)
}

// UpdateDocument applies an update spec ($set / $unset; unrecognized
// operators are ignored) and re-indexes the document. The identifier cannot
// change.
func (s *CollectionService) UpdateDocument(name, id string, updateSpec map[string]interface{}) (engine.Document, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.store.ReadDocument(name, id)
	if err != nil {
		return nil, err
	}

	if err := applyUpdateSpec(doc, updateSpec); err != nil {
		return nil, err
	}
	doc[engine.IDField] = id

	if err := s.store.WriteDocument(name, doc); err != nil {
		return nil, err
	}

	if err := s.journal.Append("update", name, id); err != nil {
		s.logger.Warnf("Failed to journal update: %v", err)
	}

	if err := s.indexes.UpdateIndexesForDocument(name, doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// applyUpdateSpec mutates doc according to the update operators.
func applyUpdateSpec(doc engine.Document, updateSpec map[string]interface{}) error {
	if set, ok := updateSpec["$set"]; ok {
		fields, ok := set.(map[string]interface{})
		if !ok {
			return engine.BadRequestf("$set requires an object of field assignments")
		}
		for path, value := range fields {
			if path == engine.IDField || strings.HasPrefix(path, engine.IDField+".") {
				return engine.BadRequestf("%s cannot be changed", engine.IDField)
			}
			engine.SetPath(doc, path, engine.DeepCopy(value))
		}
	}

	if unset, ok := updateSpec["$unset"]; ok {
		fields, ok := unset.(map[string]interface{})
		if !ok {
			return engine.BadRequestf("$unset requires an object of field names")
		}
		for path := range fields {
			if path == engine.IDField {
				return engine.BadRequestf("%s cannot be removed", engine.IDField)
			}
			engine.UnsetPath(doc, path)
		}
	}

	return nil
}

// DeleteDocument removes a document. The identifier leaves every index
// before the file is deleted, so a crash in between leaves only an orphaned
// document file, never a dangling index entry.
func (s *CollectionService) DeleteDocument(name, id string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	meta, err := s.store.LoadCollectionMeta(name)
	if err != nil {
		return err
	}

	if !s.store.DocumentExists(name, id) {
		return engine.NotFoundf("document %q not found in collection %q", id, name)
	}

	if err := s.indexes.RemoveDocumentFromIndexes(name, id); err != nil {
		return err
	}

	if err := s.store.DeleteDocument(name, id); err != nil {
		return err
	}

	meta.DocumentCount--
	if err := s.store.SaveCollectionMeta(meta); err != nil {
		return err
	}

	if err := s.journal.Append("delete", name, id); err != nil {
		s.logger.Warnf("Failed to journal delete: %v", err)
	}

	return nil
}

// CreateIndex builds an index over the current contents of a collection.
func (s *CollectionService) CreateIndex(name, field string) (*hashindex.HashIndex, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !s.store.CollectionExists(name) {
		return nil, engine.NotFoundf("collection %q not found", name)
	}

	docs, err := s.store.ListDocuments(name)
	if err != nil {
		return nil, err
	}

	return s.indexes.CreateIndex(name, field, docs)
}

// RebuildIndex rebuilds an existing index from the collection's documents.
func (s *CollectionService) RebuildIndex(name, field string) (*hashindex.HashIndex, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if !s.store.CollectionExists(name) {
		return nil, engine.NotFoundf("collection %q not found", name)
	}

	docs, err := s.store.ListDocuments(name)
	if err != nil {
		return nil, err
	}

	return s.indexes.RebuildIndex(name, field, docs)
}

func (s *CollectionService) GetIndex(name, field string) (*hashindex.HashIndex, error) {
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	return s.indexes.GetIndex(name, field)
}

func (s *CollectionService) ListIndexes(name string) ([]*hashindex.HashIndex, error) {
	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	if !s.store.CollectionExists(name) {
		return nil, engine.NotFoundf("collection %q not found", name)
	}

	return s.indexes.ListIndexes(name)
}

func (s *CollectionService) DeleteIndex(name, field string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	return s.indexes.DeleteIndex(name, field)
}

// Aggregate runs a pipeline over the whole collection. The pipeline is
// parsed before the collection lock is taken, so malformed pipelines fail
// fast.
func (s *CollectionService) Aggregate(name string, rawPipeline []byte) ([]engine.Document, error) {
	pipeline, err := aggregate.ParsePipeline(rawPipeline)
	if err != nil {
		return nil, err
	}
	pipeline.Lookup = s.LookupFunc

	lock := s.lockFor(name)
	lock.RLock()
	defer lock.RUnlock()

	docs, err := s.store.ListDocuments(name)
	if err != nil {
		return nil, err
	}

	return pipeline.Run(docs)
}

// decodeFilter parses a raw JSON filter. An empty body counts as the empty
// query.
func decodeFilter(rawFilter []byte) (map[string]interface{}, []string, error) {
	if len(strings.TrimSpace(string(rawFilter))) == 0 {
		return map[string]interface{}{}, nil, nil
	}

	query, keyOrder, err := engine.DecodeObject(rawFilter)
	if err != nil {
		return nil, nil, err
	}
	if query == nil {
		query = map[string]interface{}{}
	}

	return query, keyOrder, nil
}
