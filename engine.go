package ragcore

import (
	"context"

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

// Engine is the composition root: it wires every subsystem (extraction,
// chunking, optimization, the embedding cache, the relevance selector, the
// conversation memory engine, and the resilience layer around both LLM
// providers) into the operations process/analyze/chat expose.
type Engine struct {
	cfg Config

	docs    *store.DocumentStore
	catalog store.DocumentCatalog
	pstore  *store.PersistentStore

	extractor *extract.Registry
	chunks    *chunker.Chunker
	optimizer *optimizer.Optimizer
	selector  *selector.Selector

	cacheStore *cache.Store
	embedCache *cache.Cache
	batcher    *cache.Batcher

	breakers  *resilience.Manager
	retryCfg  resilience.RetryConfig
	intervene *resilience.InterventionQueue

	embedder  *llm.ResilientEmbedder
	generator *llm.ResilientGenerator

	conversation *conversation.Engine
}

// New validates cfg, then wires a full Engine from it: it opens the SQLite
// document/vector store, the shared bbolt persistent store, the Tier 2
// embedding cache (in its own bbolt file), the intervention queue, both LLM
// providers behind their resilient adapters, and the conversation memory
// engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbPath := cfg.resolveDBPath()
	docs, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, err
	}

	bboltPath := cfg.resolveBboltPath()
	pstore, err := store.OpenPersistentStore(bboltPath)
	if err != nil {
		docs.Close()
		return nil, err
	}

	cacheStore, err := cache.OpenStore(bboltPath + ".cache")
	if err != nil {
		docs.Close()
		pstore.Close()
		return nil, err
	}

	intervene, err := resilience.NewInterventionQueue(pstore.DB())
	if err != nil {
		docs.Close()
		pstore.Close()
		cacheStore.Close()
		return nil, err
	}

	chatProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		docs.Close()
		pstore.Close()
		cacheStore.Close()
		return nil, NewError(KindToolInit, "constructing chat provider", err)
	}

	embedProvider, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		docs.Close()
		pstore.Close()
		cacheStore.Close()
		return nil, NewError(KindToolInit, "constructing embedding provider", err)
	}

	breakerCfg := resilience.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  secondsToDuration(cfg.Breaker.RecoveryTimeoutSeconds),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          secondsToDuration(cfg.Breaker.TimeoutSeconds),
		RollingWindow:    secondsToDuration(cfg.Breaker.RollingWindowSeconds),
	}
	breakers := resilience.NewManager(breakerCfg)
	retryCfg := resilience.RetryConfig{
		MaxAttempts: cfg.Resilience.EmbeddingRetryAttempts,
		Delay:       millisToDuration(cfg.Resilience.ProviderRequestDelayMs),
	}

	embedder := llm.NewResilientEmbedder(embedProvider, breakers.Get("embedding"), retryCfg, intervene)
	generator := llm.NewResilientGenerator(chatProvider, breakers.Get("generation"), retryCfg, intervene)

	convCfg := conversation.DefaultConfig()
	convCfg.MaxContextTokens = cfg.Conversation.MaxContextTokens
	convCfg.RelevanceDecayFactor = cfg.Conversation.RelevanceDecayFactor
	convCfg.SummaryThreshold = cfg.Conversation.SummaryThreshold
	convCfg.TopicSimilarityThreshold = cfg.Conversation.TopicSimilarityThreshold
	convCfg.MaxConversationLength = cfg.Conversation.MaxConversationLength
	convCfg.PruningThreshold = cfg.Conversation.PruningThreshold
	convCfg.TemporalDecayHalfLife = hoursToDuration(cfg.Conversation.TemporalDecayHours)
	convCfg.DecayKind = conversation.DecayKind(cfg.Conversation.DecayKind)

	convEngine, err := conversation.New(pstore.DB(), &embeddingAdapter{embedder: embedder, modelID: cfg.Embedding.Model}, convCfg)
	if err != nil {
		docs.Close()
		pstore.Close()
		cacheStore.Close()
		return nil, err
	}

	cacheCfg := cache.Config{
		Strategy:         cache.StrategyKind(cfg.Cache.Tier1Strategy),
		Tier1Capacity:    cfg.Cache.Tier1Capacity,
		DefaultTTL:       secondsToDuration(cfg.Cache.Tier1TTLSeconds),
		PopularThreshold: cfg.Cache.PopularThreshold,
	}

	e := &Engine{
		cfg:     cfg,
		docs:    docs,
		catalog: store.NewSQLiteCatalog(docs),
		pstore:  pstore,

		extractor: extract.NewRegistry(),
		chunks:    chunker.New(),
		optimizer: optimizer.New(optimizer.Config{
			Strategy:                optimizer.Strategy(cfg.Optimizer.DefaultStrategy),
			MemoryPressureThreshold: cfg.Optimizer.MemoryPressureThreshold,
			ChunkCacheSize:          cfg.Optimizer.CacheSize,
			MaxConcurrentChunks:     cfg.Optimizer.ConcurrencyLimit,
		}),
		selector: selector.New(cfg.Selector.MaxResults),

		cacheStore: cacheStore,
		embedCache: cache.New(cacheCfg, cacheStore),
		batcher:    cache.NewBatcher(cache.DefaultBatcherConfig()),

		breakers:  breakers,
		retryCfg:  retryCfg,
		intervene: intervene,

		embedder:  embedder,
		generator: generator,

		conversation: convEngine,
	}
	return e, nil
}

// Close releases every durable resource the Engine opened.
func (e *Engine) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(e.docs.Close())
	record(e.cacheStore.Close())
	record(e.pstore.Close())
	return firstErr
}

// embeddingAdapter bridges llm.ResilientEmbedder's (content, modelID,
// taskType) capability to conversation.Embedder's single-argument seam, so
// the conversation package never needs to import llm.
type embeddingAdapter struct {
	embedder *llm.ResilientEmbedder
	modelID  string
}

func (a *embeddingAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.embedder.Embed(ctx, text, a.modelID, llm.TaskQuery)
}
