package resilience

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"

	"github.com/ragcore/ragcore"
)

// nonRetryableKind reports whether a failure kind can never succeed on
// retry, mirroring cagent's fallback layer treating 4xx/auth errors as
// immediately non-retryable rather than burning attempts on them.
func nonRetryableKind(kind ragcore.ErrorKind) bool {
	switch kind {
	case ragcore.KindConfiguration, ragcore.KindUnsupportedKind, ragcore.KindFileAccess, ragcore.KindProviderQuotaOrAuth:
		return true
	default:
		return false
	}
}

// Retry runs op up to cfg.MaxAttempts times, spaced by cfg.Delay, and is the
// caller's responsibility: the embedding provider calls this before ever
// reporting failure to a circuit breaker. A non-retryable failure kind stops
// immediately instead of burning the remaining attempts.
func Retry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		opErr := op(ctx)
		if opErr == nil {
			return struct{}{}, nil
		}
		if kind, ok := ragcore.KindOf(opErr); ok && nonRetryableKind(kind) {
			return struct{}{}, backoff.Permanent(opErr)
		}
		return struct{}{}, opErr
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Delay)),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err == nil {
		return nil
	}

	if kind, ok := ragcore.KindOf(err); ok {
		return ragcore.NewError(kind, fmt.Sprintf("exhausted %d retry attempt(s)", attempts), err)
	}
	return ragcore.NewError(ragcore.KindProviderTransient, fmt.Sprintf("exhausted %d retry attempt(s)", attempts), err)
}
