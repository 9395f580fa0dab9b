package llm

import (
	"context"

	"github.com/ragcore/ragcore"
	"github.com/ragcore/ragcore/resilience"
)

// TaskType hints how an embedding will be used, mirroring providers (e.g.
// Gemini's task_type parameter) that bias the resulting vector differently
// for a stored document versus a search query.
type TaskType string

const (
	TaskDocument TaskType = "document"
	TaskQuery    TaskType = "query"
)

// EmbeddingProvider is the capability the embedding cache and conversation
// engine depend on. It must be idempotent per (content, modelID) and
// retries transient transport errors itself before ever failing — callers
// never see a retryable error, only KindFallbackExhausted once retries and
// the circuit breaker are both spent.
type EmbeddingProvider interface {
	Embed(ctx context.Context, content, modelID string, taskType TaskType) ([]float32, error)
}

// GenerationProvider is the capability used for summaries and reasoning
// completions. Cancellable via ctx.
type GenerationProvider interface {
	Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error)
}

// GenerationConfig parameterizes a single Generate call.
type GenerationConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ResilientEmbedder adapts a Provider's batch Embed into the single-content
// EmbeddingProvider capability. It runs resilience.Retry inside the circuit
// breaker's call, so the breaker only ever observes the outcome after
// retries are exhausted, and hands the failure to the durable intervention
// queue when both give out rather than discarding it; the queue creates an
// InterventionTask according to its escalation rules.
type ResilientEmbedder struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
	queue    *resilience.InterventionQueue
}

// NewResilientEmbedder builds a ResilientEmbedder. queue may be nil, in
// which case exhausted failures are returned without being enqueued.
func NewResilientEmbedder(provider Provider, breaker *resilience.CircuitBreaker, retryCfg resilience.RetryConfig, queue *resilience.InterventionQueue) *ResilientEmbedder {
	return &ResilientEmbedder{provider: provider, breaker: breaker, retryCfg: retryCfg, queue: queue}
}

func (r *ResilientEmbedder) Embed(ctx context.Context, content, modelID string, taskType TaskType) ([]float32, error) {
	var vector []float32
	op := func(ctx context.Context) error {
		vectors, err := r.provider.Embed(ctx, []string{content})
		if err != nil {
			return ragcore.NewError(ragcore.KindProviderTransient, "embedding request failed", err)
		}
		if len(vectors) == 0 {
			return ragcore.NewError(ragcore.KindProviderTransient, "embedding response was empty", nil)
		}
		vector = vectors[0]
		return nil
	}

	breakerErr := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, r.retryCfg, op)
	})
	if breakerErr == nil {
		return vector, nil
	}
	return nil, r.fallback(modelID, breakerErr)
}

// ResilientGenerator adapts a Provider's Chat into the GenerationProvider
// capability with the same retry-then-breaker-then-intervention discipline
// as ResilientEmbedder.
type ResilientGenerator struct {
	provider Provider
	breaker  *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
	queue    *resilience.InterventionQueue
}

// NewResilientGenerator builds a ResilientGenerator. queue may be nil.
func NewResilientGenerator(provider Provider, breaker *resilience.CircuitBreaker, retryCfg resilience.RetryConfig, queue *resilience.InterventionQueue) *ResilientGenerator {
	return &ResilientGenerator{provider: provider, breaker: breaker, retryCfg: retryCfg, queue: queue}
}

func (r *ResilientGenerator) Generate(ctx context.Context, prompt string, cfg GenerationConfig) (string, error) {
	var text string
	op := func(ctx context.Context) error {
		resp, err := r.provider.Chat(ctx, ChatRequest{
			Model:       cfg.Model,
			Messages:    []Message{{Role: "user", Content: prompt}},
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
		if err != nil {
			return ragcore.NewError(ragcore.KindProviderTransient, "generation request failed", err)
		}
		text = resp.Content
		return nil
	}

	breakerErr := r.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, r.retryCfg, op)
	})
	if breakerErr == nil {
		return text, nil
	}
	return "", r.fallback(cfg.Model, breakerErr)
}

func (r *ResilientEmbedder) fallback(subject string, cause error) error {
	var taskID string
	if r.queue != nil {
		task, err := r.queue.Enqueue("", subject, cause)
		if err != nil {
			return ragcore.NewError(ragcore.KindFallbackExhausted, "embedding failed and could not enqueue intervention", err)
		}
		taskID = task.ID
	}
	out := ragcore.NewError(ragcore.KindFallbackExhausted, "embedding exhausted retries and circuit breaker", cause)
	out.Detail = taskID
	return out
}

func (r *ResilientGenerator) fallback(subject string, cause error) error {
	var taskID string
	if r.queue != nil {
		task, err := r.queue.Enqueue("", subject, cause)
		if err != nil {
			return ragcore.NewError(ragcore.KindFallbackExhausted, "generation failed and could not enqueue intervention", err)
		}
		taskID = task.ID
	}
	out := ragcore.NewError(ragcore.KindFallbackExhausted, "generation exhausted retries and circuit breaker", cause)
	out.Detail = taskID
	return out
}
