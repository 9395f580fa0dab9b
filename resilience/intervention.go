package resilience

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
)

var (
	bucketInterventions       = []byte("intervention_tasks")
	bucketInterventionsByRank = []byte("intervention_by_rank") // priority-rank + created-at + id -> nil
	bucketFailureEvents       = []byte("intervention_failure_events") // timestamp+id -> kind, for escalation-threshold counting
)

// escalationWindow is the rolling window over which a kind's recent
// failures are counted, grounded on the original source's
// _get_recent_failures_by_type(hours=24).
const escalationWindow = 24 * time.Hour

// escalationThreshold is the number of same-kind failures required within
// escalationWindow before a non-critical kind actually escalates to an
// InterventionTask, carried over from the original source's per-error-code
// escalation_threshold table (TOOL_INIT_ERROR, FILE_ACCESS_ERROR, etc).
// Kinds absent from this table default to a threshold of 1, i.e. they
// escalate on first occurrence just like before this table existed.
var escalationThreshold = map[ragcore.ErrorKind]int{
	ragcore.KindToolInit:            1,
	ragcore.KindUnsupportedKind:     1,
	ragcore.KindFileAccess:          3,
	ragcore.KindProviderTransient:   2,
	ragcore.KindProviderQuotaOrAuth: 2,
	ragcore.KindTimeout:             2,
}

func thresholdFor(kind ragcore.ErrorKind) int {
	if t, ok := escalationThreshold[kind]; ok {
		return t
	}
	return 1
}

// alwaysEscalates reports whether kind bypasses the rate-window check and
// always generates an InterventionTask, per FallbackExhausted/CircuitOpen's
// critical standing.
func alwaysEscalates(kind ragcore.ErrorKind) bool {
	return kind == ragcore.KindFallbackExhausted || kind == ragcore.KindCircuitOpen
}

// InterventionQueue is the durable manual-intervention task queue, grounded
// on the original source's ErrorInterventionManager but persisted to bbolt
// instead of one JSON file per task. It shares its *bolt.DB with the rest of
// the persistent store rather than opening its own file.
type InterventionQueue struct {
	db *bolt.DB
}

// NewInterventionQueue ensures the queue's buckets exist on db and returns a
// queue backed by it.
func NewInterventionQueue(db *bolt.DB) (*InterventionQueue, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketInterventions, bucketInterventionsByRank, bucketFailureEvents} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "initializing intervention buckets", err)
	}
	return &InterventionQueue{db: db}, nil
}

func rankKey(task InterventionTask) []byte {
	buf := make([]byte, 4+8+len(task.ID))
	binary.BigEndian.PutUint32(buf, uint32(priorityRank(task.Priority)))
	binary.BigEndian.PutUint64(buf[4:], uint64(task.CreatedAt.UnixNano()))
	copy(buf[12:], task.ID)
	return buf
}

func encodeTask(t InterventionTask) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTask(raw []byte) (InterventionTask, error) {
	var t InterventionTask
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&t); err != nil {
		return InterventionTask{}, err
	}
	return t, nil
}

// Enqueue records a failure and, if it warrants human review, persists an
// InterventionTask for it. FallbackExhausted and CircuitOpen always
// escalate; every other kind only escalates once its escalation-threshold
// count of same-kind failures has occurred within escalationWindow. A
// failure that doesn't (yet) cross its threshold still returns a zero
// InterventionTask and a nil error — it was recorded, not ignored.
func (q *InterventionQueue) Enqueue(requestID, documentPath string, failureErr error) (InterventionTask, error) {
	kind, _ := ragcore.KindOf(failureErr)
	now := time.Now()

	if err := q.recordFailureEvent(kind, now); err != nil {
		return InterventionTask{}, err
	}

	if !alwaysEscalates(kind) {
		count, err := q.recentFailureCount(kind, now)
		if err != nil {
			return InterventionTask{}, err
		}
		if threshold := thresholdFor(kind); count < threshold {
			slog.Warn("resilience: failure below escalation threshold, no intervention task created",
				"request_id", requestID, "kind", kind, "document", documentPath, "count", count, "threshold", threshold)
			return InterventionTask{}, nil
		}
	}

	task := InterventionTask{
		ID:           uuid.New().String(),
		RequestID:    requestID,
		DocumentPath: documentPath,
		ErrorKind:    kind,
		ErrorMessage: failureErr.Error(),
		Priority:     priorityForKind(kind),
		Status:       StatusPendingReview,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := q.store(task); err != nil {
		return InterventionTask{}, err
	}
	slog.Error("resilience: manual intervention required",
		"request_id", requestID, "priority", task.Priority, "kind", kind, "document", documentPath, "error", failureErr)
	return task, nil
}

// recordFailureEvent appends a (kind, timestamp) marker used purely for
// escalation-threshold counting; it is independent of whether an
// InterventionTask ends up being created for this occurrence.
func (q *InterventionQueue) recordFailureEvent(kind ragcore.ErrorKind, now time.Time) error {
	key := make([]byte, 8+16)
	binary.BigEndian.PutUint64(key, uint64(now.UnixNano()))
	id := uuid.New()
	copy(key[8:], id[:])

	err := q.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailureEvents).Put(key, []byte(kind))
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "recording failure event", err)
	}
	return nil
}

// recentFailureCount returns how many failures of kind were recorded within
// escalationWindow of now, opportunistically pruning markers that have aged
// out of the window in the same pass.
func (q *InterventionQueue) recentFailureCount(kind ragcore.ErrorKind, now time.Time) (int, error) {
	cutoffKey := make([]byte, 8)
	binary.BigEndian.PutUint64(cutoffKey, uint64(now.Add(-escalationWindow).UnixNano()))

	count := 0
	var stale [][]byte
	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailureEvents)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if bytes.Compare(k[:8], cutoffKey) < 0 {
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if ragcore.ErrorKind(v) == kind {
				count++
			}
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, ragcore.NewError(ragcore.KindPersistence, "counting recent failures", err)
	}
	return count, nil
}

func (q *InterventionQueue) store(task InterventionTask) error {
	err := q.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketInterventions)
		if raw := entries.Get([]byte(task.ID)); raw != nil {
			if old, derr := decodeTask(raw); derr == nil {
				tx.Bucket(bucketInterventionsByRank).Delete(rankKey(old))
			}
		}
		encoded, err := encodeTask(task)
		if err != nil {
			return err
		}
		if err := entries.Put([]byte(task.ID), encoded); err != nil {
			return err
		}
		return tx.Bucket(bucketInterventionsByRank).Put(rankKey(task), nil)
	})
	if err != nil {
		return ragcore.NewError(ragcore.KindPersistence, "storing intervention task", err)
	}
	return nil
}

// Active returns every task not yet resolved/cancelled, ordered by priority
// then creation time — the original source's get_active_tasks ordering.
func (q *InterventionQueue) Active(priority InterventionPriority) ([]InterventionTask, error) {
	var out []InterventionTask
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInterventionsByRank).Cursor()
		entries := tx.Bucket(bucketInterventions)
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			id := string(k[12:])
			raw := entries.Get([]byte(id))
			if raw == nil {
				continue
			}
			t, err := decodeTask(raw)
			if err != nil {
				continue
			}
			if t.Status == StatusResolved || t.Status == StatusCancelled {
				continue
			}
			if priority != "" && t.Priority != priority {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, ragcore.NewError(ragcore.KindPersistence, "listing intervention tasks", err)
	}
	return out, nil
}

// Get returns one task by ID.
func (q *InterventionQueue) Get(id string) (InterventionTask, bool, error) {
	var out InterventionTask
	var found bool
	err := q.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketInterventions).Get([]byte(id))
		if raw == nil {
			return nil
		}
		t, err := decodeTask(raw)
		if err != nil {
			return err
		}
		out, found = t, true
		return nil
	})
	if err != nil {
		return InterventionTask{}, false, ragcore.NewError(ragcore.KindPersistence, "reading intervention task", err)
	}
	return out, found, nil
}

// UpdateStatus transitions a task's status, optionally assigning it and
// recording resolution notes. Resolving or cancelling stamps ResolutionTime.
func (q *InterventionQueue) UpdateStatus(id string, status InterventionStatus, assignedTo, resolutionNotes string) error {
	t, found, err := q.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return ragcore.NewError(ragcore.KindPersistence, fmt.Sprintf("intervention task %q not found", id), nil)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if assignedTo != "" {
		t.AssignedTo = assignedTo
	}
	if resolutionNotes != "" {
		t.ResolutionNotes = resolutionNotes
	}
	if status == StatusResolved || status == StatusCancelled {
		t.ResolutionTime = t.UpdatedAt
	}
	return q.store(t)
}

// Escalate bumps a task one priority tier and appends an escalation note,
// mirroring the original source's escalate_task priority ladder.
func (q *InterventionQueue) Escalate(id, reason string) error {
	t, found, err := q.Get(id)
	if err != nil {
		return err
	}
	if !found {
		return ragcore.NewError(ragcore.KindPersistence, fmt.Sprintf("intervention task %q not found", id), nil)
	}
	switch t.Priority {
	case PriorityLow:
		t.Priority = PriorityMedium
	case PriorityMedium:
		t.Priority = PriorityHigh
	case PriorityHigh:
		t.Priority = PriorityCritical
	}
	t.EscalationCount++
	t.Status = StatusEscalated
	t.UpdatedAt = time.Now()
	t.ResolutionNotes += fmt.Sprintf("\n[escalation %d] %s: %s", t.EscalationCount, t.UpdatedAt.Format(time.RFC3339), reason)
	slog.Warn("resilience: intervention task escalated", "id", id, "priority", t.Priority, "reason", reason)
	return q.store(t)
}

// Prune deletes resolved/cancelled tasks older than maxAge, the periodic
// sweep referenced by the resilience layer's graceful-degradation design.
func (q *InterventionQueue) Prune(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	var stale []InterventionTask
	err := q.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketInterventions).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			t, err := decodeTask(v)
			if err != nil {
				continue
			}
			if (t.Status == StatusResolved || t.Status == StatusCancelled) && t.UpdatedAt.Before(cutoff) {
				stale = append(stale, t)
			}
		}
		return nil
	})
	if err != nil {
		return 0, ragcore.NewError(ragcore.KindPersistence, "scanning intervention tasks for pruning", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}
	err = q.db.Update(func(tx *bolt.Tx) error {
		for _, t := range stale {
			tx.Bucket(bucketInterventions).Delete([]byte(t.ID))
			tx.Bucket(bucketInterventionsByRank).Delete(rankKey(t))
		}
		return nil
	})
	if err != nil {
		return 0, ragcore.NewError(ragcore.KindPersistence, "pruning intervention tasks", err)
	}
	slog.Info("resilience: pruned stale intervention tasks", "count", len(stale), "max_age", maxAge)
	return len(stale), nil
}

// Statistics summarizes the active queue, grounded on the original source's
// get_intervention_statistics.
type Statistics struct {
	ActiveTasks          int
	PriorityDistribution map[InterventionPriority]int
	OldestTaskAge        time.Duration
}

func (q *InterventionQueue) Statistics() (Statistics, error) {
	tasks, err := q.Active("")
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		ActiveTasks:          len(tasks),
		PriorityDistribution: make(map[InterventionPriority]int),
	}
	now := time.Now()
	for _, t := range tasks {
		stats.PriorityDistribution[t.Priority]++
		if age := now.Sub(t.CreatedAt); age > stats.OldestTaskAge {
			stats.OldestTaskAge = age
		}
	}
	return stats, nil
}
