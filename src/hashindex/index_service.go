package hashindex

import (
	"time"

	"lumendb/src/engine"
	"lumendb/src/helpers"
	"lumendb/src/settings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// HashIndexService manages the secondary indexes of all collections. Callers
// are responsible for locking: index mutations happen inside the owning
// collection's exclusive lock.
type HashIndexService struct {
	store  IndexStore
	logger *zap.SugaredLogger
}

func NewHashIndexService(store IndexStore, logger *zap.SugaredLogger) *HashIndexService {
	return &HashIndexService{
		store:  store,
		logger: logger,
	}
}

// CreateIndex builds an index on (collection, field) by scanning the given
// documents. Documents whose field resolves to missing are not indexed. An
// existing index on the same pair is overwritten.
func (s *HashIndexService) CreateIndex(collection, field string, docs []engine.Document) (*HashIndex, error) {
	args := settings.GetSettings()

	if err := helpers.SafeFieldName(field); err != nil {
		return nil, engine.WrapError(engine.KindBadRequest, err, "invalid index field")
	}

	now := time.Now().UTC()
	idx := &HashIndex{
		CollectionName: collection,
		Field:          field,
		KeyEncoding:    KeyEncodingJSONV1,
		Created:        now,
		Updated:        now,
		Index:          make(map[string][]string),
	}

	// Preserve the original creation time when overwriting.
	if existing, err := s.store.LoadIndex(collection, field); err == nil {
		idx.Created = existing.Created
	}

	for _, doc := range docs {
		value := engine.ResolvePath(doc, field)
		if engine.IsMissing(value) {
			continue
		}
		key := engine.CanonicalKey(value)
		idx.Index[key] = insertID(idx.Index[key], engine.DocumentID(doc))
	}

	if err := s.store.SaveIndex(idx); err != nil {
		return nil, err
	}

	if args.Debug {
		s.logger.Infof("Created index on %s.%s with %d buckets over %d documents",
			collection, field, len(idx.Index), len(docs))
	}

	return idx, nil
}

func (s *HashIndexService) GetIndex(collection, field string) (*HashIndex, error) {
	return s.store.LoadIndex(collection, field)
}

func (s *HashIndexService) HasIndex(collection, field string) bool {
	return s.store.IndexExists(collection, field)
}

func (s *HashIndexService) ListIndexes(collection string) ([]*HashIndex, error) {
	return s.store.ListCollectionIndexes(collection)
}

func (s *HashIndexService) DeleteIndex(collection, field string) error {
	return s.store.DeleteIndexFile(collection, field)
}

// DeleteCollectionIndexes drops every index of a collection. Used when the
// collection itself is destroyed.
func (s *HashIndexService) DeleteCollectionIndexes(collection string) error {
	return s.store.DeleteCollectionIndexFiles(collection)
}

// UpdateIndexForDocument re-indexes one document against the index on
// (collection, field): the identifier is removed from every bucket, then
// inserted under the canonical key of the document's current value, unless
// that value is missing. A no-op if no such index exists.
func (s *HashIndexService) UpdateIndexForDocument(collection, field string, doc engine.Document) error {
	idx, err := s.store.LoadIndex(collection, field)
	if err != nil {
		if engine.IsKind(err, engine.KindNotFound) {
			return nil
		}
		return err
	}

	return s.updateLoadedIndex(idx, doc)
}

func (s *HashIndexService) updateLoadedIndex(idx *HashIndex, doc engine.Document) error {
	id := engine.DocumentID(doc)
	idx.removeDocument(id)

	value := engine.ResolvePath(doc, idx.Field)
	if !engine.IsMissing(value) {
		key := engine.CanonicalKey(value)
		idx.Index[key] = insertID(idx.Index[key], id)
	}

	idx.Updated = time.Now().UTC()
	return s.store.SaveIndex(idx)
}

// UpdateIndexesForDocument re-indexes one document against every index of
// its collection.
func (s *HashIndexService) UpdateIndexesForDocument(collection string, doc engine.Document) error {
	indexes, err := s.store.ListCollectionIndexes(collection)
	if err != nil {
		return err
	}

	var errs error
	for _, idx := range indexes {
		if err := s.updateLoadedIndex(idx, doc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return engine.WrapError(engine.KindInternal, errs,
			"failed to update indexes for collection %q", collection)
	}

	return nil
}

// RemoveDocumentFromIndexes removes an identifier from every bucket of every
// index of a collection, dropping buckets that become empty.
func (s *HashIndexService) RemoveDocumentFromIndexes(collection, id string) error {
	indexes, err := s.store.ListCollectionIndexes(collection)
	if err != nil {
		return err
	}

	var errs error
	for _, idx := range indexes {
		if !idx.removeDocument(id) {
			continue
		}
		idx.Updated = time.Now().UTC()
		if err := s.store.SaveIndex(idx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return engine.WrapError(engine.KindInternal, errs,
			"failed to remove document %q from indexes", id)
	}

	return nil
}

// RebuildIndex rebuilds an existing index from scratch over the given
// documents. This is the recovery path after a post-mutation index failure.
func (s *HashIndexService) RebuildIndex(collection, field string, docs []engine.Document) (*HashIndex, error) {
	if !s.store.IndexExists(collection, field) {
		return nil, engine.NotFoundf("no index on %s.%s", collection, field)
	}
	return s.CreateIndex(collection, field, docs)
}
