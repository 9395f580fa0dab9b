package ragcore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ragcore/ragcore/cache"
	"github.com/ragcore/ragcore/chunker"
	"github.com/ragcore/ragcore/conversation"
	"github.com/ragcore/ragcore/extract"
	"github.com/ragcore/ragcore/llm"
	"github.com/ragcore/ragcore/optimizer"
	"github.com/ragcore/ragcore/resilience"
	"github.com/ragcore/ragcore/selector"
	"github.com/ragcore/ragcore/store"
)

// fakeProvider is a canned llm.Provider: it routes Chat by sniffing the
// prompt so analyze/chat/summary calls each get a distinct, recognizable
// reply, and Embed returns one fixed-dimension vector per input text.
type fakeProvider struct {
	chatCalls  int
	embedCalls int
	embedErr   error
}

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.chatCalls++
	prompt := ""
	if len(req.Messages) > 0 {
		prompt = req.Messages[0].Content
	}
	switch {
	case strings.Contains(prompt, "topical tags"):
		return &llm.ChatResponse{Content: "motors, voltage, safety"}, nil
	case strings.Contains(prompt, "one-paragraph summary"):
		return &llm.ChatResponse{Content: "This document describes motor operation."}, nil
	default:
		return &llm.ChatResponse{Content: "The motor runs at 5kW rated power."}, nil
	}
}

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 2, 3, 4}
	}
	return vectors, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeProvider) {
	t.Helper()
	dir := t.TempDir()

	docs, err := store.New(filepath.Join(dir, "docs.db"), 4)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { docs.Close() })

	pstore, err := store.OpenPersistentStore(filepath.Join(dir, "state.bbolt"))
	if err != nil {
		t.Fatalf("OpenPersistentStore: %v", err)
	}
	t.Cleanup(func() { pstore.Close() })

	cacheStore, err := cache.OpenStore(filepath.Join(dir, "cache.bbolt"))
	if err != nil {
		t.Fatalf("cache.OpenStore: %v", err)
	}
	t.Cleanup(func() { cacheStore.Close() })

	intervene, err := resilience.NewInterventionQueue(pstore.DB())
	if err != nil {
		t.Fatalf("NewInterventionQueue: %v", err)
	}

	provider := &fakeProvider{}
	breakerCfg := resilience.DefaultConfig()
	breakerCfg.FailureThreshold = 100
	breakerCfg.Timeout = 5 * time.Second
	breakers := resilience.NewManager(breakerCfg)
	retryCfg := resilience.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond}

	embedder := llm.NewResilientEmbedder(provider, breakers.Get("embedding"), retryCfg, intervene)
	generator := llm.NewResilientGenerator(provider, breakers.Get("generation"), retryCfg, intervene)

	convCfg := conversation.DefaultConfig()
	convEngine, err := conversation.New(pstore.DB(), &embeddingAdapter{embedder: embedder, modelID: "test-embed"}, convCfg)
	if err != nil {
		t.Fatalf("conversation.New: %v", err)
	}

	e := &Engine{
		cfg:       testConfig(),
		docs:      docs,
		catalog:   store.NewSQLiteCatalog(docs),
		pstore:    pstore,
		extractor: extract.NewRegistry(),
		chunks:    chunker.New(),
		optimizer: optimizer.New(optimizer.DefaultConfig()),
		selector:  selector.New(5),

		cacheStore: cacheStore,
		embedCache: cache.New(cache.DefaultConfig(), cacheStore),
		batcher:    cache.NewBatcher(cache.DefaultBatcherConfig()),

		breakers:  breakers,
		retryCfg:  retryCfg,
		intervene: intervene,

		embedder:  embedder,
		generator: generator,

		conversation: convEngine,
	}
	return e, provider
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Embedding.Model = "test-embed"
	cfg.Chat.Model = "test-chat"
	return cfg
}

func writeTempDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp doc: %v", err)
	}
	return path
}

func TestProcessSucceedsAndEmbeds(t *testing.T) {
	e, provider := newTestEngine(t)
	path := writeTempDoc(t, t.TempDir(), "motor.txt",
		"The motor operates at 5kW rated power. The voltage supply is 230V AC. Safety requirements follow ISO 13849.")

	result, err := e.Process(context.Background(), []string{path}, ProcessOptions{GenerateEmbeddings: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("expected 1 success 0 failures, got %+v", result)
	}
	if result.TotalChunks == 0 {
		t.Fatal("expected at least one chunk")
	}
	if result.TotalEmbeddings != result.TotalChunks {
		t.Fatalf("expected every chunk embedded, got %d embeddings for %d chunks", result.TotalEmbeddings, result.TotalChunks)
	}
	if provider.embedCalls == 0 {
		t.Fatal("expected the embedding provider to be called")
	}
}

func TestProcessFailsOnMissingFile(t *testing.T) {
	e, _ := newTestEngine(t)
	result, err := e.Process(context.Background(), []string{filepath.Join(t.TempDir(), "missing.txt")}, ProcessOptions{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Failed != 1 || result.Successful != 0 {
		t.Fatalf("expected 1 failure, got %+v", result)
	}
}

func TestProcessGroupsMultipleKindsConcurrently(t *testing.T) {
	e, _ := newTestEngine(t)
	dir := t.TempDir()
	paths := []string{
		writeTempDoc(t, dir, "a.txt", "Alpha document about motors and safety requirements for operation."),
		writeTempDoc(t, dir, "b.txt", "Beta document about voltage supply specifications and ratings."),
		writeTempDoc(t, dir, "c.md", "# Gamma\n\nMarkdown document about thermal limits and cooling."),
	}

	result, err := e.Process(context.Background(), paths, ProcessOptions{MaxConcurrentBatches: 2})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Successful != 3 {
		t.Fatalf("expected 3 successes, got %+v", result)
	}
}

func TestChatRecordsTurnsAndReturnsSources(t *testing.T) {
	e, _ := newTestEngine(t)
	dir := t.TempDir()
	path := writeTempDoc(t, dir, "motor.txt",
		"The motor operates at 5kW rated power. The voltage supply is 230V AC. Safety requirements follow ISO 13849.")
	if _, err := e.Process(context.Background(), []string{path}, ProcessOptions{GenerateEmbeddings: true}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	result, err := e.Chat(context.Background(), ChatRequest{
		Message:        "What is the rated power of the motor?",
		IncludeSources: true,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.ConversationID == "" {
		t.Fatal("expected a generated conversation id")
	}
	if result.Reply == "" {
		t.Fatal("expected a non-empty reply")
	}
	if len(result.AgentSteps) == 0 {
		t.Fatal("expected recorded agent steps")
	}
}

func TestChatReusesSuppliedConversationID(t *testing.T) {
	e, _ := newTestEngine(t)
	convID := "conv-123"
	result, err := e.Chat(context.Background(), ChatRequest{ConversationID: convID, Message: "hello"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.ConversationID != convID {
		t.Fatalf("expected conversation id %q, got %q", convID, result.ConversationID)
	}
}

func TestAnalyzeDocumentParsesTagsAndSummary(t *testing.T) {
	e, _ := newTestEngine(t)
	path := writeTempDoc(t, t.TempDir(), "motor.txt", "The motor operates at 5kW rated power.")

	result, err := e.AnalyzeDocument(context.Background(), path, 5, true)
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if len(result.Tags) != 3 {
		t.Fatalf("expected 3 tags, got %v", result.Tags)
	}
	if result.Summary == "" {
		t.Fatal("expected a non-empty summary")
	}
}

func TestAnalyzeDocumentSkipsSummaryWhenNotRequested(t *testing.T) {
	e, _ := newTestEngine(t)
	path := writeTempDoc(t, t.TempDir(), "motor.txt", "The motor operates at 5kW rated power.")

	result, err := e.AnalyzeDocument(context.Background(), path, 5, false)
	if err != nil {
		t.Fatalf("AnalyzeDocument: %v", err)
	}
	if result.Summary != "" {
		t.Fatalf("expected no summary, got %q", result.Summary)
	}
}

func TestCacheWarmAndStats(t *testing.T) {
	e, _ := newTestEngine(t)
	path := writeTempDoc(t, t.TempDir(), "motor.txt", "The motor operates at 5kW rated power and runs safely.")
	if _, err := e.Process(context.Background(), []string{path}, ProcessOptions{GenerateEmbeddings: true}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	n, err := e.CacheWarm(context.Background(), nil)
	if err != nil {
		t.Fatalf("CacheWarm: %v", err)
	}
	_ = n

	stats := e.CacheStats()
	if stats.Tier1Entries == 0 {
		t.Fatal("expected non-zero Tier 1 occupancy after processing")
	}
}

func TestCircuitBreakerStatesAndReset(t *testing.T) {
	e, _ := newTestEngine(t)
	states := e.CircuitBreakerStates()
	if len(states) == 0 {
		t.Fatal("expected at least the embedding/generation breakers to exist")
	}
	e.ResetCircuitBreakers()
}

func TestProcessPropagatesEmbeddingFailureOnDocumentResult(t *testing.T) {
	e, provider := newTestEngine(t)
	provider.embedErr = errors.New("provider down")
	path := writeTempDoc(t, t.TempDir(), "motor.txt", "The motor operates at 5kW rated power and runs safely for hours.")

	result, err := e.Process(context.Background(), []string{path}, ProcessOptions{GenerateEmbeddings: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Successful != 0 || result.Failed != 1 {
		t.Fatalf("expected the document to fail once embedding errors, got %+v", result)
	}
}
