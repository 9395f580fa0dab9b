package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
)

var (
	bucketEntries    = []byte("embedding_entries")
	bucketByAccess   = []byte("embedding_by_access")   // access-count(big-endian) + key -> nil
	bucketByAccessed = []byte("embedding_by_accessed") // last-accessed(unix nano) + key -> nil
	bucketByDoc      = []byte("embedding_by_doc")      // doc-id + "\x00" + key -> nil
)

// Store is the durable Tier 2 embedding cache. Every write updates three
// secondary indices in the same transaction so warm-up and stats queries
// never need a full bucket scan.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if absent) the bbolt file at path and ensures
// all buckets exist.
func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "opening bbolt cache store", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketByAccess, bucketByAccessed, bucketByDoc} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, ragcore.NewError(ragcore.KindPersistence, "initializing bbolt cache buckets", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(raw []byte) (Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func accessIndexKey(count int, cacheKey string) []byte {
	buf := make([]byte, 8+len(cacheKey))
	binary.BigEndian.PutUint64(buf, uint64(count))
	copy(buf[8:], cacheKey)
	return buf
}

func accessedIndexKey(t time.Time, cacheKey string) []byte {
	buf := make([]byte, 8+len(cacheKey))
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	copy(buf[8:], cacheKey)
	return buf
}

func docIndexKey(docID, cacheKey string) []byte {
	return append(append([]byte(docID), 0x00), []byte(cacheKey)...)
}

// Get reads one entry and bumps its access bookkeeping in the same
// transaction, so Tier 2 stats stay consistent with what T1 promoted.
func (s *Store) Get(key string) (Entry, bool, error) {
	var out Entry
	var found bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		e, err := decodeEntry(raw)
		if err != nil {
			return err
		}
		removeIndices(tx, e)
		e.LastAccessed = time.Now()
		e.AccessCount++
		encoded, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), encoded); err != nil {
			return err
		}
		putIndices(tx, e)
		out, found = e, true
		return nil
	})
	if err != nil {
		return Entry{}, false, ragcore.NewError(ragcore.KindPersistence, "reading cache entry", err)
	}
	return out, found, nil
}

// Put writes an entry write-through and refreshes its secondary indices.
func (s *Store) Put(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.LastAccessed.IsZero() {
		e.LastAccessed = e.CreatedAt
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEntries)
		if raw := b.Get([]byte(e.Key)); raw != nil {
			if old, derr := decodeEntry(raw); derr == nil {
				removeIndices(tx, old)
			}
		}
		encoded, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(e.Key), encoded); err != nil {
			return err
		}
		putIndices(tx, e)
		return nil
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "writing cache entry", err)
	}
	return nil
}

func putIndices(tx *bolt.Tx, e Entry) {
	tx.Bucket(bucketByAccess).Put(accessIndexKey(e.AccessCount, e.Key), nil)
	tx.Bucket(bucketByAccessed).Put(accessedIndexKey(e.LastAccessed, e.Key), nil)
	if e.DocID != "" {
		tx.Bucket(bucketByDoc).Put(docIndexKey(e.DocID, e.Key), nil)
	}
}

func removeIndices(tx *bolt.Tx, e Entry) {
	tx.Bucket(bucketByAccess).Delete(accessIndexKey(e.AccessCount, e.Key))
	tx.Bucket(bucketByAccessed).Delete(accessedIndexKey(e.LastAccessed, e.Key))
	if e.DocID != "" {
		tx.Bucket(bucketByDoc).Delete(docIndexKey(e.DocID, e.Key))
	}
}

// MostAccessed returns up to limit entries with access-count >= threshold,
// ordered by access-count descending then last-accessed descending — the
// general warm-up query (§4.4).
func (s *Store) MostAccessed(threshold, limit int) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByAccess).Cursor()
		entries := tx.Bucket(bucketEntries)
		for k, _ := c.Last(); k != nil && len(out) < limit*4; k, _ = c.Prev() {
			count := int(binary.BigEndian.Uint64(k[:8]))
			if count < threshold {
				break
			}
			cacheKey := string(k[8:])
			raw := entries.Get([]byte(cacheKey))
			if raw == nil {
				continue
			}
			e, err := decodeEntry(raw)
			if err != nil {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "querying most-accessed entries", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AccessCount != out[j].AccessCount {
			return out[i].AccessCount > out[j].AccessCount
		}
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ByDocument returns up to limit entries for docID, by the doc-id index.
func (s *Store) ByDocument(docID string, limit int) ([]Entry, error) {
	var out []Entry
	prefix := append([]byte(docID), 0x00)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByDoc).Cursor()
		entries := tx.Bucket(bucketEntries)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix) && len(out) < limit; k, _ = c.Next() {
			cacheKey := string(k[len(prefix):])
			raw := entries.Get([]byte(cacheKey))
			if raw == nil {
				continue
			}
			e, err := decodeEntry(raw)
			if err != nil {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, fmt.Sprintf("querying entries for doc %q", docID), err)
	}
	return out, nil
}
