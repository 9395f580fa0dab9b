package conversation

import (
	"bytes"
	"encoding/gob"

	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
)

var (
	bucketStates      = []byte("conversation_states")
	bucketRelevance   = []byte("message_relevance")    // convID + "\x00" + messageID -> gob
	bucketTopics      = []byte("topics")                // convID + "\x00" + topicID -> gob
	bucketSummaries   = []byte("summaries")             // convID + "\x00" + summaryID -> gob
	bucketTransitions = []byte("topic_transitions")     // convID + "\x00" + transitionID -> gob
	bucketMetrics     = []byte("memory_metrics")        // convID -> gob
	bucketArchives    = []byte("conversation_archives") // convID -> gob
)

// store is the bbolt-backed persistence layer for every conversation
// entity, one bucket per §6 persisted-layout table, all sharing one
// *bolt.DB — the same handle resilience.InterventionQueue can be given.
type store struct {
	db *bolt.DB
}

func newStore(db *bolt.DB) (*store, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketStates, bucketRelevance, bucketTopics, bucketSummaries,
			bucketTransitions, bucketMetrics, bucketArchives} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "initializing conversation buckets", err)
	}
	return &store{db: db}, nil
}

func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func scopedKey(convID, id string) []byte {
	return append(append([]byte(convID), 0x00), []byte(id)...)
}

func (s *store) saveState(state ConversationState) error {
	encoded, err := encodeValue(state)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding conversation state", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStates).Put([]byte(state.ConversationID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving conversation state", err)
	}
	return nil
}

func (s *store) loadState(convID string) (ConversationState, bool, error) {
	var out ConversationState
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketStates).Get([]byte(convID))
		if raw == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return ConversationState{}, false, ragcore.NewError(ragcore.KindPersistence, "loading conversation state", err)
	}
	return out, found, nil
}

func (s *store) saveRelevance(convID string, r MessageRelevance) error {
	encoded, err := encodeValue(r)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding message relevance", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelevance).Put(scopedKey(convID, r.MessageID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving message relevance", err)
	}
	return nil
}

func (s *store) listRelevances(convID string) ([]MessageRelevance, error) {
	var out []MessageRelevance
	prefix := append([]byte(convID), 0x00)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRelevance).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var r MessageRelevance
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&r); err != nil {
				continue
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "listing message relevances", err)
	}
	return out, nil
}

func (s *store) saveTopic(convID string, t ConversationTopic) error {
	encoded, err := encodeValue(t)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding topic", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTopics).Put(scopedKey(convID, t.ID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving topic", err)
	}
	return nil
}

func (s *store) listTopics(convID string) ([]ConversationTopic, error) {
	var out []ConversationTopic
	prefix := append([]byte(convID), 0x00)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTopics).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var t ConversationTopic
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&t); err != nil {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "listing topics", err)
	}
	return out, nil
}

func (s *store) saveSummary(summary ConversationSummary) error {
	encoded, err := encodeValue(summary)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding summary", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSummaries).Put(scopedKey(summary.ConversationID, summary.ID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving summary", err)
	}
	return nil
}

func (s *store) listSummaries(convID string) ([]ConversationSummary, error) {
	var out []ConversationSummary
	prefix := append([]byte(convID), 0x00)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSummaries).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var sm ConversationSummary
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&sm); err != nil {
				continue
			}
			out = append(out, sm)
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "listing summaries", err)
	}
	return out, nil
}

func (s *store) saveTransition(t TopicTransition) error {
	encoded, err := encodeValue(t)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding topic transition", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTransitions).Put(scopedKey(t.ConversationID, t.ID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving topic transition", err)
	}
	return nil
}

func (s *store) countTransitions(convID string) (int, error) {
	count := 0
	prefix := append([]byte(convID), 0x00)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTransitions).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, ragcore.NewError(ragcore.KindPersistence, "counting topic transitions", err)
	}
	return count, nil
}

func (s *store) saveMetrics(m MemoryMetrics) error {
	encoded, err := encodeValue(m)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding memory metrics", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put([]byte(m.ConversationID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving memory metrics", err)
	}
	return nil
}

func (s *store) loadMetrics(convID string) (MemoryMetrics, bool, error) {
	var out MemoryMetrics
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMetrics).Get([]byte(convID))
		if raw == nil {
			return nil
		}
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&out); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return MemoryMetrics{}, false, ragcore.NewError(ragcore.KindPersistence, "loading memory metrics", err)
	}
	return out, found, nil
}

func (s *store) saveArchive(a ConversationArchive) error {
	encoded, err := encodeValue(a)
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "encoding conversation archive", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArchives).Put([]byte(a.ConversationID), encoded)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "saving conversation archive", err)
	}
	return nil
}
