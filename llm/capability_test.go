package llm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
	"github.com/ragcore/ragcore/resilience"
)

type stubProvider struct {
	embedErr   error
	embedCalls int
	vectors    [][]float32

	chatErr   error
	chatCalls int
	chatResp  *ChatResponse
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.chatCalls++
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	return s.chatResp, nil
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.embedCalls++
	if s.embedErr != nil {
		return nil, s.embedErr
	}
	return s.vectors, nil
}

func testBreakerConfig() resilience.Config {
	cfg := resilience.DefaultConfig()
	cfg.FailureThreshold = 100
	cfg.Timeout = time.Second
	return cfg
}

func TestResilientEmbedderSucceedsOnFirstAttempt(t *testing.T) {
	stub := &stubProvider{vectors: [][]float32{{1, 2, 3}}}
	embedder := NewResilientEmbedder(stub, resilience.NewCircuitBreaker("embed", testBreakerConfig()),
		resilience.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, nil)

	vec, err := embedder.Embed(context.Background(), "hello", "model-a", TaskDocument)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %v", vec)
	}
	if stub.embedCalls != 1 {
		t.Fatalf("expected 1 provider call, got %d", stub.embedCalls)
	}
}

func TestResilientEmbedderRetriesThenSucceeds(t *testing.T) {
	calls := 0
	provider := &countingEmbedProvider{
		fn: func() ([][]float32, error) {
			calls++
			if calls < 2 {
				return nil, errors.New("transient")
			}
			return [][]float32{{1}}, nil
		},
	}
	embedder := NewResilientEmbedder(provider, resilience.NewCircuitBreaker("embed", testBreakerConfig()),
		resilience.RetryConfig{MaxAttempts: 3, Delay: time.Millisecond}, nil)

	_, err := embedder.Embed(context.Background(), "hello", "model-a", TaskQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestResilientEmbedderFallsBackAndEnqueuesAfterExhaustion(t *testing.T) {
	stub := &stubProvider{embedErr: errors.New("down")}
	db, err := bolt.Open(filepath.Join(t.TempDir(), "intervene.db"), 0o600, nil)
	if err != nil {
		t.Fatalf("opening bolt db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	queue, err := resilience.NewInterventionQueue(db)
	if err != nil {
		t.Fatalf("NewInterventionQueue: %v", err)
	}

	embedder := NewResilientEmbedder(stub, resilience.NewCircuitBreaker("embed", testBreakerConfig()),
		resilience.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}, queue)

	_, err = embedder.Embed(context.Background(), "hello", "model-a", TaskDocument)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	kind, ok := ragcore.KindOf(err)
	if !ok || kind != ragcore.KindFallbackExhausted {
		t.Fatalf("expected KindFallbackExhausted, got %v (%v)", kind, err)
	}
	if stub.embedCalls != 2 {
		t.Fatalf("expected 2 attempts (MaxAttempts), got %d", stub.embedCalls)
	}
}

func TestResilientGeneratorSucceeds(t *testing.T) {
	stub := &stubProvider{chatResp: &ChatResponse{Content: "an answer"}}
	gen := NewResilientGenerator(stub, resilience.NewCircuitBreaker("gen", testBreakerConfig()),
		resilience.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}, nil)

	text, err := gen.Generate(context.Background(), "summarize this", GenerationConfig{Model: "m"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "an answer" {
		t.Fatalf("expected %q, got %q", "an answer", text)
	}
}

func TestResilientGeneratorFallsBackWithoutQueue(t *testing.T) {
	stub := &stubProvider{chatErr: errors.New("down")}
	gen := NewResilientGenerator(stub, resilience.NewCircuitBreaker("gen", testBreakerConfig()),
		resilience.RetryConfig{MaxAttempts: 1, Delay: time.Millisecond}, nil)

	_, err := gen.Generate(context.Background(), "summarize this", GenerationConfig{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	kind, ok := ragcore.KindOf(err)
	if !ok || kind != ragcore.KindFallbackExhausted {
		t.Fatalf("expected KindFallbackExhausted, got %v (%v)", kind, err)
	}
}

// countingEmbedProvider lets a test vary the Embed result across calls.
type countingEmbedProvider struct {
	fn func() ([][]float32, error)
}

func (c *countingEmbedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (c *countingEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return c.fn()
}
