package hashindex

import (
	"fmt"
	"path/filepath"

	"lumendb/src/engine"
	"lumendb/src/helpers"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const indexesDirName = "indexes"

// IndexStore persists one JSON record per index under data/indexes.
type IndexStore interface {
	IndexExists(collection, field string) bool
	SaveIndex(idx *HashIndex) error
	LoadIndex(collection, field string) (*HashIndex, error)
	ListCollectionIndexes(collection string) ([]*HashIndex, error)
	DeleteIndexFile(collection, field string) error
	DeleteCollectionIndexFiles(collection string) error
}

type IndexStorageEngine struct {
	DataDirectory string
	logger        *zap.SugaredLogger
}

// NewIndexStore creates a new index storage engine rooted at dataDir.
func NewIndexStore(dataDir string, logger *zap.SugaredLogger) (*IndexStorageEngine, error) {
	store := &IndexStorageEngine{
		DataDirectory: dataDir,
		logger:        logger,
	}

	if err := helpers.EnsureDir(store.indexesDir()); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *IndexStorageEngine) indexesDir() string {
	return filepath.Join(s.DataDirectory, indexesDirName)
}

// indexPath joins collection and field with an underscore; collection names
// may not contain underscores (enforced on create), so file names stay
// unambiguous.
func (s *IndexStorageEngine) indexPath(collection, field string) string {
	return filepath.Join(s.indexesDir(), fmt.Sprintf("%s_%s.json", collection, field))
}

func (s *IndexStorageEngine) IndexExists(collection, field string) bool {
	return helpers.FileExists(s.indexPath(collection, field), s.logger)
}

func (s *IndexStorageEngine) SaveIndex(idx *HashIndex) error {
	path := s.indexPath(idx.CollectionName, idx.Field)
	if err := helpers.WriteJSONFile(path, idx); err != nil {
		return engine.WrapError(engine.KindInternal, err,
			"failed to save index on %s.%s", idx.CollectionName, idx.Field)
	}
	return nil
}

func (s *IndexStorageEngine) LoadIndex(collection, field string) (*HashIndex, error) {
	path := s.indexPath(collection, field)
	if !helpers.FileExists(path, s.logger) {
		return nil, engine.NotFoundf("no index on %s.%s", collection, field)
	}

	var idx HashIndex
	if err := helpers.ReadJSONFile(path, &idx); err != nil {
		return nil, engine.WrapError(engine.KindInternal, err,
			"failed to load index on %s.%s", collection, field)
	}
	if idx.Index == nil {
		idx.Index = make(map[string][]string)
	}

	return &idx, nil
}

// ListCollectionIndexes loads every index record belonging to a collection.
func (s *IndexStorageEngine) ListCollectionIndexes(collection string) ([]*HashIndex, error) {
	pattern := filepath.Join(s.indexesDir(), collection+"_*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, engine.WrapError(engine.KindInternal, err,
			"failed to list indexes for collection %q", collection)
	}

	indexes := make([]*HashIndex, 0, len(matches))
	for _, path := range matches {
		var idx HashIndex
		if err := helpers.ReadJSONFile(path, &idx); err != nil {
			return nil, engine.WrapError(engine.KindInternal, err,
				"failed to load index file %s", path)
		}
		// The glob is prefix-based; trust the record, not the file name.
		if idx.CollectionName != collection {
			continue
		}
		if idx.Index == nil {
			idx.Index = make(map[string][]string)
		}
		indexes = append(indexes, &idx)
	}

	return indexes, nil
}

func (s *IndexStorageEngine) DeleteIndexFile(collection, field string) error {
	path := s.indexPath(collection, field)
	if !helpers.FileExists(path, s.logger) {
		return engine.NotFoundf("no index on %s.%s", collection, field)
	}

	if err := helpers.DeleteDataFile(path); err != nil {
		return engine.WrapError(engine.KindInternal, err,
			"failed to delete index on %s.%s", collection, field)
	}

	return nil
}

// DeleteCollectionIndexFiles removes every index file of a collection,
// continuing past individual failures and reporting them together.
func (s *IndexStorageEngine) DeleteCollectionIndexFiles(collection string) error {
	indexes, err := s.ListCollectionIndexes(collection)
	if err != nil {
		return err
	}

	var errs error
	for _, idx := range indexes {
		if err := s.DeleteIndexFile(idx.CollectionName, idx.Field); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if errs != nil {
		return engine.WrapError(engine.KindInternal, errs,
			"failed to delete indexes for collection %q", collection)
	}

	return nil
}
