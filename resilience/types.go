// Package resilience wraps outbound capability calls (embedding, generation,
// persistent-store writes) with a circuit breaker, timeout, and retry, and
// routes exhausted failures into a durable manual-intervention queue.
package resilience

import (
	"time"

	"github.com/ragcore/ragcore"
)

// Config configures one named circuit breaker, grounded on the original
// source's CircuitBreakerConfig.
type Config struct {
	FailureThreshold int           // failures within RollingWindow before opening
	RecoveryTimeout  time.Duration // time in open before probing half-open
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // per-call timeout
	RollingWindow    time.Duration // window over which FailureThreshold is counted
}

// DefaultConfig mirrors the original's CircuitBreakerConfig defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		Timeout:          120 * time.Second,
		RollingWindow:    300 * time.Second,
	}
}

// RetryConfig configures the caller-side retry performed before a failure is
// ever reported to a circuit breaker.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryConfig mirrors the embedding provider's default retry/delay
// knobs (embedding-retry-attempts, provider-request-delay-ms).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: 500 * time.Millisecond}
}

// InterventionPriority ranks a manual-intervention task for triage ordering.
type InterventionPriority string

const (
	PriorityCritical InterventionPriority = "critical"
	PriorityHigh     InterventionPriority = "high"
	PriorityMedium   InterventionPriority = "medium"
	PriorityLow      InterventionPriority = "low"
)

// priorityRank orders priorities for sorting (lower sorts first).
func priorityRank(p InterventionPriority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// InterventionStatus is the lifecycle state of an InterventionTask.
type InterventionStatus string

const (
	StatusPendingReview InterventionStatus = "pending_review"
	StatusInProgress    InterventionStatus = "in_progress"
	StatusResolved      InterventionStatus = "resolved"
	StatusEscalated     InterventionStatus = "escalated"
	StatusCancelled     InterventionStatus = "cancelled"
)

// InterventionTask is a durable record of a failure that exhausted retries
// and circuit-breaker protection and now requires human review, grounded on
// the original source's InterventionTask/ErrorReport.
type InterventionTask struct {
	ID              string
	RequestID       string
	DocumentPath    string
	ErrorKind       ragcore.ErrorKind
	ErrorMessage    string
	Priority        InterventionPriority
	Status          InterventionStatus
	AssignedTo      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolutionNotes string
	ResolutionTime  time.Time
	EscalationCount int
}

// priorityForKind derives an InterventionPriority from a CoreError taxonomy
// kind. Unlike the original's string-pattern classify_error, the taxonomy is
// already typed so the mapping is direct.
func priorityForKind(kind ragcore.ErrorKind) InterventionPriority {
	switch kind {
	case ragcore.KindConfiguration, ragcore.KindFallbackExhausted:
		return PriorityCritical
	case ragcore.KindToolInit, ragcore.KindProviderTransient, ragcore.KindProviderQuotaOrAuth:
		return PriorityHigh
	case ragcore.KindTimeout:
		return PriorityMedium
	case ragcore.KindCircuitOpen:
		return PriorityLow
	default:
		return PriorityLow
	}
}
