// Package persist provides the storage backends for the entity-resolution
// cache. The cache table is persisted as a single document mapping
// "{entity_type}_{entity_id}" keys to name/timestamp records, loaded wholesale
// at startup and rewritten wholesale after every mutation.
package persist

import "time"

// Record is one persisted cache entry.
//
// Outcome is empty in documents written by older deployments; the cache
// classifies those from the name's sentinel prefix at load time.
type Record struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Outcome   string    `json:"outcome,omitempty"`
}

// Document is the serialized form of the whole cache table.
type Document map[string]Record

// Store loads and saves the cache document. Implementations are not required
// to be safe for concurrent use; the cache serialises all access.
type Store interface {
	// Load reads the whole document. A missing backing file or empty table
	// yields an empty document and a nil error; corrupt content yields an
	// error, which the cache treats as an empty table.
	Load() (Document, error)

	// Save replaces the persisted document with doc.
	Save(doc Document) error

	// Close releases any resources held by the store.
	Close() error
}
