package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lumendb/src/helpers"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	collectionsDirName = "collections"
	metadataFileName   = "metadata.json"
)

// CollectionStore persists collections as directories of one-JSON-file-per-
// document plus a metadata record.
type CollectionStore interface {
	CollectionExists(name string) bool
	CreateCollection(name string) (*CollectionMeta, error)
	LoadCollectionMeta(name string) (*CollectionMeta, error)
	SaveCollectionMeta(meta *CollectionMeta) error
	ListCollectionMetas() ([]CollectionMeta, error)
	RemoveCollection(name string) error

	DocumentExists(collection, id string) bool
	ReadDocument(collection, id string) (Document, error)
	WriteDocument(collection string, doc Document) error
	DeleteDocument(collection, id string) error
	ListDocuments(collection string) ([]Document, error)
	CountDocuments(collection string) (int, error)
}

type CollectionStorageEngine struct {
	DataDirectory string
	cache         *lru.Cache[string, Document]
	logger        *zap.SugaredLogger
}

// NewCollectionStore creates a new collection storage engine rooted at
// dataDir. Decoded documents are kept in an LRU cache so repeated scans do
// not re-parse every file.
func NewCollectionStore(dataDir string, cacheSize int, logger *zap.SugaredLogger) (*CollectionStorageEngine, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}

	cache, err := lru.New[string, Document](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create document cache: %w", err)
	}

	store := &CollectionStorageEngine{
		DataDirectory: dataDir,
		cache:         cache,
		logger:        logger,
	}

	// Ensure the collections directory exists
	if err := helpers.EnsureDir(store.collectionsDir()); err != nil {
		return nil, err
	}

	return store, nil
}

func (c *CollectionStorageEngine) collectionsDir() string {
	return filepath.Join(c.DataDirectory, collectionsDirName)
}

func (c *CollectionStorageEngine) collectionDir(name string) string {
	return filepath.Join(c.collectionsDir(), name)
}

func (c *CollectionStorageEngine) metadataPath(name string) string {
	return filepath.Join(c.collectionDir(name), metadataFileName)
}

func (c *CollectionStorageEngine) documentPath(collection, id string) string {
	return filepath.Join(c.collectionDir(collection), id+".json")
}

func (c *CollectionStorageEngine) cacheKey(collection, id string) string {
	return collection + "/" + id
}

func (c *CollectionStorageEngine) CollectionExists(name string) bool {
	return helpers.FileExists(c.metadataPath(name), c.logger)
}

// CreateCollection creates the collection directory and its metadata record.
func (c *CollectionStorageEngine) CreateCollection(name string) (*CollectionMeta, error) {
	if err := helpers.SafeName(name); err != nil {
		return nil, WrapError(KindBadRequest, err, "invalid collection name")
	}

	if c.CollectionExists(name) {
		return nil, AlreadyExistsf("collection %q already exists", name)
	}

	if err := helpers.EnsureDir(c.collectionDir(name)); err != nil {
		return nil, WrapError(KindInternal, err, "failed to create collection %q", name)
	}

	meta := &CollectionMeta{
		Name:          name,
		Created:       time.Now().UTC(),
		DocumentCount: 0,
	}

	if err := c.SaveCollectionMeta(meta); err != nil {
		return nil, err
	}

	return meta, nil
}

func (c *CollectionStorageEngine) LoadCollectionMeta(name string) (*CollectionMeta, error) {
	if !c.CollectionExists(name) {
		return nil, NotFoundf("collection %q not found", name)
	}

	var meta CollectionMeta
	if err := helpers.ReadJSONFile(c.metadataPath(name), &meta); err != nil {
		return nil, WrapError(KindInternal, err, "failed to load metadata for collection %q", name)
	}

	return &meta, nil
}

func (c *CollectionStorageEngine) SaveCollectionMeta(meta *CollectionMeta) error {
	if err := helpers.WriteJSONFile(c.metadataPath(meta.Name), meta); err != nil {
		return WrapError(KindInternal, err, "failed to save metadata for collection %q", meta.Name)
	}
	return nil
}

// ListCollectionMetas loads the metadata of every collection on disk, sorted
// by name.
func (c *CollectionStorageEngine) ListCollectionMetas() ([]CollectionMeta, error) {
	entries, err := os.ReadDir(c.collectionsDir())
	if err != nil {
		return nil, WrapError(KindInternal, err, "failed to list collections")
	}

	metas := make([]CollectionMeta, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := c.LoadCollectionMeta(entry.Name())
		if err != nil {
			// A directory without metadata is not a collection; skip it.
			c.logger.Warnf("Skipping %s: %v", entry.Name(), err)
			continue
		}
		metas = append(metas, *meta)
	}

	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })

	return metas, nil
}

// RemoveCollection deletes the collection directory with all its documents.
func (c *CollectionStorageEngine) RemoveCollection(name string) error {
	if !c.CollectionExists(name) {
		return NotFoundf("collection %q not found", name)
	}

	// Drop cached documents first so a later collection of the same name
	// never sees stale entries.
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, name+"/") {
			c.cache.Remove(key)
		}
	}

	if err := os.RemoveAll(c.collectionDir(name)); err != nil {
		return WrapError(KindInternal, err, "failed to remove collection %q", name)
	}

	return nil
}

func (c *CollectionStorageEngine) DocumentExists(collection, id string) bool {
	if _, ok := c.cache.Get(c.cacheKey(collection, id)); ok {
		return true
	}
	return helpers.FileExists(c.documentPath(collection, id), c.logger)
}

// ReadDocument loads one document. The returned document is a copy; callers
// may mutate it freely.
func (c *CollectionStorageEngine) ReadDocument(collection, id string) (Document, error) {
	if doc, ok := c.cache.Get(c.cacheKey(collection, id)); ok {
		return CopyDocument(doc), nil
	}

	path := c.documentPath(collection, id)
	if !helpers.FileExists(path, c.logger) {
		return nil, NotFoundf("document %q not found in collection %q", id, collection)
	}

	var doc Document
	if err := helpers.ReadJSONFile(path, &doc); err != nil {
		return nil, WrapError(KindInternal, err, "failed to read document %q", id)
	}

	c.cache.Add(c.cacheKey(collection, id), CopyDocument(doc))

	return doc, nil
}

// WriteDocument persists one document as a pretty-printed JSON file named
// after its identifier.
func (c *CollectionStorageEngine) WriteDocument(collection string, doc Document) error {
	id := DocumentID(doc)
	if id == "" {
		return BadRequestf("document has no %s", IDField)
	}

	path := c.documentPath(collection, id)
	if err := helpers.WriteJSONFile(path, doc); err != nil {
		return WrapError(KindInternal, err, "failed to write document %q", id)
	}

	c.cache.Add(c.cacheKey(collection, id), CopyDocument(doc))

	return nil
}

func (c *CollectionStorageEngine) DeleteDocument(collection, id string) error {
	c.cache.Remove(c.cacheKey(collection, id))

	path := c.documentPath(collection, id)
	if !helpers.FileExists(path, c.logger) {
		return NotFoundf("document %q not found in collection %q", id, collection)
	}

	if err := os.Remove(path); err != nil {
		return WrapError(KindInternal, err, "failed to delete document %q", id)
	}

	return nil
}

// ListDocuments loads every document of a collection, sorted by identifier
// so scans are deterministic.
func (c *CollectionStorageEngine) ListDocuments(collection string) ([]Document, error) {
	if !c.CollectionExists(collection) {
		return nil, NotFoundf("collection %q not found", collection)
	}

	entries, err := os.ReadDir(c.collectionDir(collection))
	if err != nil {
		return nil, WrapError(KindInternal, err, "failed to list documents in %q", collection)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == metadataFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := c.ReadDocument(collection, id)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, nil
}

// CountDocuments counts the document files of a collection.
func (c *CollectionStorageEngine) CountDocuments(collection string) (int, error) {
	if !c.CollectionExists(collection) {
		return 0, NotFoundf("collection %q not found", collection)
	}

	entries, err := os.ReadDir(c.collectionDir(collection))
	if err != nil {
		return 0, WrapError(KindInternal, err, "failed to count documents in %q", collection)
	}

	count := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == metadataFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		count++
	}

	return count, nil
}
