package store

import (
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
)

// PersistentStore opens the shared bbolt database backing the resilience
// layer's intervention queue and the conversation engine's state tables.
// Each consumer manages its own buckets and secondary indices on the shared
// *bolt.DB rather than routing through one typed schema here. The embedding
// cache's Tier 2 (cache.Store) follows the same pattern in its own bbolt
// file.
type PersistentStore struct {
	db *bolt.DB
}

// OpenPersistentStore opens (or creates) the bbolt file at path.
func OpenPersistentStore(path string) (*PersistentStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, ragcore.NewError(ragcore.KindPersistence, "creating persistent store directory", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "opening persistent store", err)
	}
	return &PersistentStore{db: db}, nil
}

// DB returns the shared *bolt.DB for consumers that own their buckets.
func (p *PersistentStore) DB() *bolt.DB { return p.db }

// Close closes the underlying bbolt database.
func (p *PersistentStore) Close() error { return p.db.Close() }
