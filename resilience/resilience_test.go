package resilience

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
)

func testConfig() Config {
	return Config{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Millisecond,
		SuccessThreshold: 2,
		Timeout:          50 * time.Millisecond,
		RollingWindow:    time.Second,
	}
}

func TestCircuitBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := NewCircuitBreaker("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }

	_ = b.Execute(context.Background(), failing)
	if b.State() != "closed" {
		t.Fatalf("expected closed after 1/2 failures, got %s", b.State())
	}
	_ = b.Execute(context.Background(), failing)
	if b.State() != "open" {
		t.Fatalf("expected open after 2/2 failures, got %s", b.State())
	}
}

func TestCircuitBreakerFailsFastWhenOpen(t *testing.T) {
	b := NewCircuitBreaker("svc", testConfig())
	failing := func(ctx context.Context) error { return errors.New("boom") }
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)

	called := false
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatal("expected op not to be invoked while breaker is open")
	}
	kind, ok := ragcore.KindOf(err)
	if !ok || kind != ragcore.KindCircuitOpen {
		t.Fatalf("expected KindCircuitOpen, got %v (%v)", kind, err)
	}
}

func TestCircuitBreakerRecoversThroughHalfOpenToClosed(t *testing.T) {
	cfg := testConfig()
	b := NewCircuitBreaker("svc", cfg)
	failing := func(ctx context.Context) error { return errors.New("boom") }
	succeeding := func(ctx context.Context) error { return nil }

	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	if b.State() != "open" {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	if err := b.Execute(context.Background(), succeeding); err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if b.State() != "half-open" {
		t.Fatalf("expected half-open after first probe success, got %s", b.State())
	}

	if err := b.Execute(context.Background(), succeeding); err != nil {
		t.Fatalf("expected second probe to succeed, got %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed after success_threshold consecutive successes, got %s", b.State())
	}
}

func TestCircuitBreakerHalfOpenReopensOnSingleFailure(t *testing.T) {
	cfg := testConfig()
	b := NewCircuitBreaker("svc", cfg)
	failing := func(ctx context.Context) error { return errors.New("boom") }
	succeeding := func(ctx context.Context) error { return nil }

	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	time.Sleep(cfg.RecoveryTimeout + 10*time.Millisecond)

	_ = b.Execute(context.Background(), succeeding) // enters half-open
	if b.State() != "half-open" {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	_ = b.Execute(context.Background(), failing)
	if b.State() != "open" {
		t.Fatalf("expected a single half-open failure to reopen the breaker, got %s", b.State())
	}
}

func TestCircuitBreakerClosedSuccessDecrementsFailureCount(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 3
	b := NewCircuitBreaker("svc", cfg)
	failing := func(ctx context.Context) error { return errors.New("boom") }
	succeeding := func(ctx context.Context) error { return nil }

	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	if got := b.Snapshot().FailureCount; got != 2 {
		t.Fatalf("expected failure count 2, got %d", got)
	}

	_ = b.Execute(context.Background(), succeeding)
	if got := b.Snapshot().FailureCount; got != 1 {
		t.Fatalf("expected success to decrement failure count to 1, got %d", got)
	}
	if b.State() != "closed" {
		t.Fatalf("expected still closed, got %s", b.State())
	}
}

func TestCircuitBreakerTimeoutCountsAsFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	b := NewCircuitBreaker("svc", cfg)

	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := b.Execute(context.Background(), slow)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	kind, ok := ragcore.KindOf(err)
	if !ok || kind != ragcore.KindTimeout {
		t.Fatalf("expected KindTimeout, got %v (%v)", kind, err)
	}
	if got := b.Snapshot().FailureCount; got != 1 {
		t.Fatalf("expected timeout to register as a failure, got count %d", got)
	}
}

func TestRetryStopsOnNonRetryableKind(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 5, Delay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return ragcore.NewError(ragcore.KindConfiguration, "bad config", nil)
	})
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable kind, got %d", attempts)
	}
	kind, ok := ragcore.KindOf(err)
	if !ok || kind != ragcore.KindConfiguration {
		t.Fatalf("expected KindConfiguration preserved, got %v", kind)
	}
}

func TestRetryExhaustsAttemptsThenReportsFailure(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		return ragcore.NewError(ragcore.KindProviderTransient, "rate limited", nil)
	})
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if err == nil {
		t.Fatal("expected failure after exhausting attempts")
	}
}

func TestRetrySucceedsWithoutExhausting(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return ragcore.NewError(ragcore.KindProviderTransient, "flaky", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", attempts)
	}
}

func openTestQueue(t *testing.T) *InterventionQueue {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "intervene.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("opening bbolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	q, err := NewInterventionQueue(db)
	if err != nil {
		t.Fatalf("creating intervention queue: %v", err)
	}
	return q
}

func TestInterventionQueueEnqueueDerivesPriorityFromKind(t *testing.T) {
	q := openTestQueue(t)

	cases := []struct {
		kind ragcore.ErrorKind
		want InterventionPriority
	}{
		{ragcore.KindTimeout, PriorityMedium},
		{ragcore.KindCircuitOpen, PriorityLow},
		{ragcore.KindToolInit, PriorityHigh},
		{ragcore.KindConfiguration, PriorityCritical},
		{ragcore.KindFallbackExhausted, PriorityCritical},
	}
	for _, c := range cases {
		var task InterventionTask
		var err error
		// Enqueue up to the kind's escalation threshold so every case
		// actually produces a task, regardless of whether that kind
		// escalates on first occurrence or only after repeated failures.
		for i := 0; i < thresholdFor(c.kind); i++ {
			task, err = q.Enqueue("req-1", "/docs/a.pdf", ragcore.NewError(c.kind, "failed", nil))
			if err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}
		if task.Priority != c.want {
			t.Errorf("kind %s: expected priority %s, got %s", c.kind, c.want, task.Priority)
		}
	}
}

func TestInterventionQueueActiveOrdersByPriorityThenAge(t *testing.T) {
	q := openTestQueue(t)
	_, _ = q.Enqueue("req-low", "/a.pdf", ragcore.NewError(ragcore.KindCircuitOpen, "x", nil))
	_, _ = q.Enqueue("req-critical", "/b.pdf", ragcore.NewError(ragcore.KindConfiguration, "x", nil))
	_, _ = q.Enqueue("req-high", "/c.pdf", ragcore.NewError(ragcore.KindToolInit, "x", nil))

	active, err := q.Active("")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 3 {
		t.Fatalf("expected 3 active tasks, got %d", len(active))
	}
	if active[0].Priority != PriorityCritical || active[1].Priority != PriorityHigh || active[2].Priority != PriorityLow {
		t.Fatalf("expected critical, high, low order, got %v, %v, %v", active[0].Priority, active[1].Priority, active[2].Priority)
	}
}

func TestInterventionQueueUpdateStatusRemovesFromActive(t *testing.T) {
	q := openTestQueue(t)
	task, _ := q.Enqueue("req-1", "/a.pdf", ragcore.NewError(ragcore.KindToolInit, "x", nil))

	if err := q.UpdateStatus(task.ID, StatusResolved, "", "fixed upstream"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	active, _ := q.Active("")
	if len(active) != 0 {
		t.Fatalf("expected resolved task to drop out of Active, got %d", len(active))
	}

	got, found, err := q.Get(task.ID)
	if err != nil || !found {
		t.Fatalf("expected resolved task to remain gettable, found=%v err=%v", found, err)
	}
	if got.Status != StatusResolved || got.ResolutionNotes != "fixed upstream" || got.ResolutionTime.IsZero() {
		t.Fatalf("expected resolved task with notes and stamped resolution time, got %+v", got)
	}
}

func TestInterventionQueueEscalateBumpsPriority(t *testing.T) {
	q := openTestQueue(t)
	task, _ := q.Enqueue("req-1", "/a.pdf", ragcore.NewError(ragcore.KindCircuitOpen, "x", nil))
	if task.Priority != PriorityLow {
		t.Fatalf("expected low priority seed, got %s", task.Priority)
	}

	if err := q.Escalate(task.ID, "customer waiting"); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	got, _, _ := q.Get(task.ID)
	if got.Priority != PriorityMedium {
		t.Fatalf("expected escalation to bump low -> medium, got %s", got.Priority)
	}
	if got.EscalationCount != 1 || got.Status != StatusEscalated {
		t.Fatalf("expected escalation count 1 and status escalated, got %+v", got)
	}
}

func TestInterventionQueuePruneRemovesOldResolvedOnly(t *testing.T) {
	q := openTestQueue(t)
	task, _ := q.Enqueue("req-1", "/a.pdf", ragcore.NewError(ragcore.KindToolInit, "x", nil))
	_ = q.UpdateStatus(task.ID, StatusResolved, "", "")

	stillOpen, _ := q.Enqueue("req-2", "/b.pdf", ragcore.NewError(ragcore.KindCircuitOpen, "x", nil))

	n, err := q.Prune(0) // everything resolved is now older than "now"
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned task, got %d", n)
	}

	if _, found, _ := q.Get(task.ID); found {
		t.Fatal("expected resolved task to be pruned")
	}
	if _, found, _ := q.Get(stillOpen.ID); !found {
		t.Fatal("expected still-open task to survive pruning")
	}
}

func TestInterventionQueueEnqueueAlwaysEscalatesCriticalKinds(t *testing.T) {
	q := openTestQueue(t)
	for _, kind := range []ragcore.ErrorKind{ragcore.KindFallbackExhausted, ragcore.KindCircuitOpen} {
		task, err := q.Enqueue("req-1", "/a.pdf", ragcore.NewError(kind, "x", nil))
		if err != nil {
			t.Fatalf("enqueue %s: %v", kind, err)
		}
		if task.ID == "" {
			t.Fatalf("expected kind %s to escalate on first occurrence, got empty task", kind)
		}
	}
}

func TestInterventionQueueEnqueueGatesNonCriticalKindsByThreshold(t *testing.T) {
	q := openTestQueue(t)

	// KindTimeout's escalation threshold is 2: the first occurrence within
	// the rolling window must not create a task.
	first, err := q.Enqueue("req-1", "/a.pdf", ragcore.NewError(ragcore.KindTimeout, "slow", nil))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if first.ID != "" {
		t.Fatalf("expected first timeout below threshold to produce no task, got %+v", first)
	}
	if active, _ := q.Active(""); len(active) != 0 {
		t.Fatalf("expected no active tasks yet, got %d", len(active))
	}

	// The second occurrence crosses the threshold and escalates.
	second, err := q.Enqueue("req-2", "/a.pdf", ragcore.NewError(ragcore.KindTimeout, "slow again", nil))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if second.ID == "" {
		t.Fatal("expected second timeout to cross the escalation threshold and create a task")
	}
	if second.Priority != PriorityMedium {
		t.Fatalf("expected medium priority, got %s", second.Priority)
	}
	active, err := q.Active("")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly 1 active task after crossing threshold, got %d", len(active))
	}
}

func TestManagerGetReusesBreakerByName(t *testing.T) {
	m := NewManager(testConfig())
	a := m.Get("embedding")
	b := m.Get("embedding")
	if a != b {
		t.Fatal("expected the same breaker instance for the same name")
	}
	c := m.Get("generation")
	if a == c {
		t.Fatal("expected distinct breakers for distinct names")
	}
}
