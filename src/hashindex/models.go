package hashindex

import (
	"sort"
	"time"
)

// KeyEncodingJSONV1 names the canonical value-key encoding used by this
// version of the index format. The encoding is recorded in every index file
// so rebuilds stay deterministic across versions.
const KeyEncodingJSONV1 = "json/v1"

// HashIndex is a per-(collection, field) inverted map from canonical
// value-key to the sorted list of document identifiers holding that value.
type HashIndex struct {
	CollectionName string              `json:"collectionName"`
	Field          string              `json:"field"`
	KeyEncoding    string              `json:"keyEncoding"`
	Created        time.Time           `json:"created"`
	Updated        time.Time           `json:"updated"`
	Index          map[string][]string `json:"index"`
}

// insertID adds id to a bucket, keeping the bucket sorted. Inserting an id
// that is already present is a no-op.
func insertID(ids []string, id string) []string {
	pos := sort.SearchStrings(ids, id)
	if pos < len(ids) && ids[pos] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	return ids
}

// removeID removes id from a bucket. The second return is true if the id was
// present.
func removeID(ids []string, id string) ([]string, bool) {
	pos := sort.SearchStrings(ids, id)
	if pos >= len(ids) || ids[pos] != id {
		return ids, false
	}
	return append(ids[:pos], ids[pos+1:]...), true
}

// removeDocument strips id from every bucket of the index, dropping buckets
// that become empty.
func (idx *HashIndex) removeDocument(id string) bool {
	changed := false
	for key, ids := range idx.Index {
		ids, removed := removeID(ids, id)
		if !removed {
			continue
		}
		changed = true
		if len(ids) == 0 {
			delete(idx.Index, key)
		} else {
			idx.Index[key] = ids
		}
	}
	return changed
}
