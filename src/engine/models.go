package engine

import "time"

// IDField is the reserved document identifier field.
const IDField = "_id"

// Document is a JSON object with a unique string identifier under "_id".
type Document = map[string]interface{}

// DatabaseInfo is the single database record persisted as db_info.json.
type DatabaseInfo struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Created     time.Time `json:"created"`
	Collections []string  `json:"collections"`
}

// CollectionMeta is the per-collection metadata record.
type CollectionMeta struct {
	Name          string    `json:"name"`
	Created       time.Time `json:"created"`
	DocumentCount int       `json:"documentCount"`
}

// DocumentID returns the identifier of a document, or "" if it carries none.
func DocumentID(doc Document) string {
	id, _ := doc[IDField].(string)
	return id
}
