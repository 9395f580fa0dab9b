package ragcore

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all configuration for the ragcore engine. The options that
// applyEnvOverrides lists are environment-overridable with prefix RAG_ (see
// LoadConfig); the other fields come from DefaultConfig or a JSON file.
type Config struct {
	// DBPath is the full path to the SQLite embedding/vector database file.
	// If empty, defaults to ~/.ragcore/<DBName>.db
	DBPath string `json:"db_path"`
	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name"`
	// StorageDir controls where the database is created when DBPath is not
	// set. "home" (default) uses ~/.ragcore/, "local" uses the cwd.
	StorageDir string `json:"storage_dir"`
	// BboltPath is the path to the bbolt database backing the conversation
	// tables and the intervention task queue. The embedding cache's Tier 2
	// store uses its own bbolt file at this path plus ".cache".
	BboltPath string `json:"bbolt_path"`

	// LLM providers
	Chat      LLMConfig `json:"chat"`
	Embedding LLMConfig `json:"embedding"`

	Chunking     ChunkingConfig     `json:"chunking"`
	Optimizer    OptimizerConfig    `json:"optimizer"`
	Cache        CacheConfig        `json:"cache"`
	Selector     SelectorConfig     `json:"selector"`
	Conversation ConversationConfig `json:"conversation"`
	Breaker      BreakerConfig      `json:"breaker"`
	Resilience   ResilienceConfig   `json:"resilience"`

	// EmbeddingDim is the vector dimension; must match the embedding model.
	EmbeddingDim int `json:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// ChunkingConfig controls the Smart Chunker's defaults (§4.2). Per-kind
// target sizes and overlap ratios are fixed by the chunker package itself;
// these are the cross-cutting knobs.
type ChunkingConfig struct {
	MaxChunkSize      int     `json:"max_chunk_size"`
	ChunkOverlapRatio float64 `json:"chunk_overlap_ratio"`
	DefaultStrategy   string  `json:"default_strategy"` // fixed|semantic|adaptive|hybrid
}

// OptimizerConfig controls the Chunk Optimizer (§4.3).
type OptimizerConfig struct {
	DefaultStrategy        string  `json:"default_strategy"` // speed|memory|balanced
	MemoryPressureThreshold float64 `json:"memory_pressure_threshold"`
	CacheSize              int     `json:"cache_size"`
	ConcurrencyLimit       int     `json:"concurrency_limit"`
}

// CacheConfig controls the embedding cache + batcher (§4.4).
type CacheConfig struct {
	Tier1Strategy      string `json:"tier1_strategy"` // lru|ttl|hybrid
	Tier1Capacity      int    `json:"tier1_capacity"`
	Tier1TTLSeconds    int    `json:"tier1_ttl_seconds"`
	MaxBatchSize       int    `json:"max_batch_size"`
	MaxConcurrentBatches int  `json:"max_concurrent_batches"`
	PopularThreshold   int    `json:"popular_threshold"`
	EmbeddingTimeoutSeconds int `json:"embedding_timeout_seconds"`
}

// SelectorConfig controls the Relevance Selector (§4.5). Weights must sum
// to 1.0 ± 0.01.
type SelectorConfig struct {
	MaxResults         int     `json:"max_results"`
	TagWeight          float64 `json:"tag_weight"`
	SemanticWeight     float64 `json:"semantic_weight"`
	ContentWeight      float64 `json:"content_weight"`
	StructuralWeight   float64 `json:"structural_weight"`
	FreshnessWeight    float64 `json:"freshness_weight"`
}

// ConversationConfig controls the Conversation Memory Engine (§4.6).
type ConversationConfig struct {
	MaxContextTokens         int     `json:"max_context_tokens"`
	RelevanceDecayFactor     float64 `json:"relevance_decay_factor"` // [0.1, 1.0]
	TemporalDecayHours       float64 `json:"temporal_decay_hours"`
	SummaryThreshold         int     `json:"summary_threshold"` // >= 5
	TopicSimilarityThreshold float64 `json:"topic_similarity_threshold"`
	MaxConversationLength    int     `json:"max_conversation_length"`
	PruningThreshold         float64 `json:"pruning_threshold"` // (0.5, 1]
	DecayKind                string  `json:"decay_kind"`        // temporal|positional|combined
}

// BreakerConfig controls the circuit breaker (§4.7).
type BreakerConfig struct {
	FailureThreshold    int `json:"failure_threshold"`
	RecoveryTimeoutSeconds int `json:"recovery_timeout_seconds"`
	SuccessThreshold    int `json:"success_threshold"`
	TimeoutSeconds      int `json:"timeout_seconds"`
	RollingWindowSeconds int `json:"rolling_window_seconds"`
}

// ResilienceConfig controls retry discipline and intervention task sweeps.
type ResilienceConfig struct {
	ProviderRequestDelayMs   int `json:"provider_request_delay_ms"`
	EmbeddingRetryAttempts   int `json:"embedding_retry_attempts"`
	InterventionTaskMaxAgeHours int `json:"intervention_task_max_age_hours"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
func DefaultConfig() Config {
	return Config{
		DBName:     "ragcore",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Chunking: ChunkingConfig{
			MaxChunkSize:      512,
			ChunkOverlapRatio: 0.15,
			DefaultStrategy:   "adaptive",
		},
		Optimizer: OptimizerConfig{
			DefaultStrategy:         "balanced",
			MemoryPressureThreshold: 0.8,
			CacheSize:               1000,
			ConcurrencyLimit:        8,
		},
		Cache: CacheConfig{
			Tier1Strategy:           "hybrid",
			Tier1Capacity:           2000,
			Tier1TTLSeconds:         3600,
			MaxBatchSize:            50,
			MaxConcurrentBatches:    3,
			PopularThreshold:        5,
			EmbeddingTimeoutSeconds: 30,
		},
		Selector: SelectorConfig{
			MaxResults:       5,
			TagWeight:        0.4,
			SemanticWeight:   0.3,
			ContentWeight:    0.15,
			StructuralWeight: 0.1,
			FreshnessWeight:  0.05,
		},
		Conversation: ConversationConfig{
			MaxContextTokens:         8000,
			RelevanceDecayFactor:     0.95,
			TemporalDecayHours:       24,
			SummaryThreshold:         10,
			TopicSimilarityThreshold: 0.75,
			MaxConversationLength:    500,
			PruningThreshold:         0.8,
			DecayKind:                "combined",
		},
		Breaker: BreakerConfig{
			FailureThreshold:       5,
			RecoveryTimeoutSeconds: 60,
			SuccessThreshold:       3,
			TimeoutSeconds:         120,
			RollingWindowSeconds:   300,
		},
		Resilience: ResilienceConfig{
			ProviderRequestDelayMs:      500,
			EmbeddingRetryAttempts:      3,
			InterventionTaskMaxAgeHours: 24 * 30,
		},
		EmbeddingDim: 768,
	}
}

// Validate enforces the invariants §6 requires at load time: the selector
// weight-sum invariant and the documented ranges. A violation is a
// Configuration error and MUST abort the process at load time.
func (c *Config) Validate() error {
	sum := c.Selector.TagWeight + c.Selector.SemanticWeight + c.Selector.ContentWeight +
		c.Selector.StructuralWeight + c.Selector.FreshnessWeight
	if math.Abs(sum-1.0) > 0.01 {
		return NewError(KindConfiguration, fmt.Sprintf("selector weights sum to %.4f, want 1.0 ± 0.01", sum), nil)
	}
	if c.Conversation.RelevanceDecayFactor < 0.1 || c.Conversation.RelevanceDecayFactor > 1.0 {
		return NewError(KindConfiguration, "relevance_decay_factor must be in [0.1, 1.0]", nil)
	}
	if c.Conversation.SummaryThreshold < 5 {
		return NewError(KindConfiguration, "summary_threshold must be >= 5", nil)
	}
	if c.Conversation.PruningThreshold <= 0.5 || c.Conversation.PruningThreshold > 1.0 {
		return NewError(KindConfiguration, "pruning_threshold must be in (0.5, 1]", nil)
	}
	if c.Chunking.ChunkOverlapRatio < 0 || c.Chunking.ChunkOverlapRatio > 1 {
		return NewError(KindConfiguration, "chunk_overlap_ratio must be in [0, 1]", nil)
	}
	return nil
}

// resolveDBPath computes the final sqlite database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	name := c.DBName
	if name == "" {
		name = "ragcore"
	}
	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".ragcore", name+".db")
	}
}

// resolveBboltPath computes the final bbolt database path.
func (c *Config) resolveBboltPath() string {
	if c.BboltPath != "" {
		return c.BboltPath
	}
	name := c.DBName
	if name == "" {
		name = "ragcore"
	}
	switch c.StorageDir {
	case "local", "cwd":
		return name + ".bbolt"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".bbolt"
		}
		return filepath.Join(home, ".ragcore", name+".bbolt")
	}
}

// applyEnvOverrides overlays well-known RAG_* environment variables onto cfg,
// mirroring the teacher's GOREASON_* override block in cmd/server/main.go.
func applyEnvOverrides(cfg *Config) {
	strVal := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	intVal := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	floatVal := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	strVal("RAG_DB_PATH", &cfg.DBPath)
	strVal("RAG_BBOLT_PATH", &cfg.BboltPath)
	strVal("RAG_CHAT_PROVIDER", &cfg.Chat.Provider)
	strVal("RAG_CHAT_MODEL", &cfg.Chat.Model)
	strVal("RAG_CHAT_BASE_URL", &cfg.Chat.BaseURL)
	strVal("RAG_CHAT_API_KEY", &cfg.Chat.APIKey)
	strVal("RAG_EMBED_PROVIDER", &cfg.Embedding.Provider)
	strVal("RAG_EMBED_MODEL", &cfg.Embedding.Model)
	strVal("RAG_EMBED_BASE_URL", &cfg.Embedding.BaseURL)
	strVal("RAG_EMBED_API_KEY", &cfg.Embedding.APIKey)

	intVal("RAG_MAX_CONTEXT_TOKENS", &cfg.Conversation.MaxContextTokens)
	floatVal("RAG_RELEVANCE_DECAY_FACTOR", &cfg.Conversation.RelevanceDecayFactor)
	floatVal("RAG_TEMPORAL_DECAY_HOURS", &cfg.Conversation.TemporalDecayHours)
	intVal("RAG_SUMMARY_THRESHOLD", &cfg.Conversation.SummaryThreshold)
	floatVal("RAG_TOPIC_SIMILARITY_THRESHOLD", &cfg.Conversation.TopicSimilarityThreshold)
	intVal("RAG_MAX_CONVERSATION_LENGTH", &cfg.Conversation.MaxConversationLength)

	intVal("RAG_MAX_CHUNK_SIZE", &cfg.Chunking.MaxChunkSize)
	floatVal("RAG_CHUNK_OVERLAP_RATIO", &cfg.Chunking.ChunkOverlapRatio)

	intVal("RAG_MAX_BATCH_SIZE", &cfg.Cache.MaxBatchSize)
	intVal("RAG_MAX_CONCURRENT_BATCHES", &cfg.Cache.MaxConcurrentBatches)

	floatVal("RAG_MEMORY_PRESSURE_THRESHOLD", &cfg.Optimizer.MemoryPressureThreshold)

	floatVal("RAG_TAG_WEIGHT", &cfg.Selector.TagWeight)
	floatVal("RAG_SEMANTIC_WEIGHT", &cfg.Selector.SemanticWeight)
	floatVal("RAG_CONTENT_WEIGHT", &cfg.Selector.ContentWeight)
	floatVal("RAG_STRUCTURAL_WEIGHT", &cfg.Selector.StructuralWeight)
	floatVal("RAG_FRESHNESS_WEIGHT", &cfg.Selector.FreshnessWeight)

	intVal("RAG_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	intVal("RAG_RECOVERY_TIMEOUT_SECONDS", &cfg.Breaker.RecoveryTimeoutSeconds)
	intVal("RAG_SUCCESS_THRESHOLD", &cfg.Breaker.SuccessThreshold)
	intVal("RAG_TIMEOUT_SECONDS", &cfg.Breaker.TimeoutSeconds)
	intVal("RAG_ROLLING_WINDOW_SECONDS", &cfg.Breaker.RollingWindowSeconds)

	intVal("RAG_PROVIDER_REQUEST_DELAY_MS", &cfg.Resilience.ProviderRequestDelayMs)
	intVal("RAG_EMBEDDING_RETRY_ATTEMPTS", &cfg.Resilience.EmbeddingRetryAttempts)
	intVal("RAG_INTERVENTION_TASK_MAX_AGE_HOURS", &cfg.Resilience.InterventionTaskMaxAgeHours)

	// Well-known provider key fallbacks, same idiom as the teacher.
	if cfg.Chat.APIKey == "" {
		switch cfg.Chat.Provider {
		case "openai":
			cfg.Chat.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Chat.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		switch cfg.Embedding.Provider {
		case "openai":
			cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Embedding.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
}

// LoadConfig returns DefaultConfig with environment overrides applied, then
// validates it. Configuration errors at load time abort the process (§7).
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
