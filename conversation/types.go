// Package conversation implements the conversation memory engine: relevance
// decay, topic tracking, summarization, pruning, and archival for a
// multi-turn conversation bounded by a token budget.
package conversation

import "time"

// DecayKind selects which relevance-decay formula a pruning pass applies.
type DecayKind string

const (
	DecayTemporal   DecayKind = "temporal"
	DecayPositional DecayKind = "positional"
	DecayCombined   DecayKind = "combined"
)

// TopicChangeKind classifies a TopicTransition event.
type TopicChangeKind string

const (
	TopicGradual TopicChangeKind = "gradual"
	TopicAbrupt  TopicChangeKind = "abrupt"
	TopicReturn  TopicChangeKind = "return"
	TopicNew     TopicChangeKind = "new"
)

// MemoryPriority governs whether a message can be pruned to archive.
type MemoryPriority string

const (
	PriorityCritical MemoryPriority = "critical"
	PriorityHigh     MemoryPriority = "high"
	PriorityMedium   MemoryPriority = "medium"
	PriorityLow      MemoryPriority = "low"
	PriorityArchive  MemoryPriority = "archive"
)

// Role distinguishes user-authored messages, which default to high
// priority, from everything else.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn handed to the engine; Embedding is optional and, if
// nil, the engine requests one from its Embedder.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Embedding []float32
}

// Config mirrors the original's ConversationMemoryConfig.
type Config struct {
	MaxContextTokens        int
	RelevanceDecayFactor    float64 // positional decay multiplier, [0.1, 1.0]
	SummaryThreshold        int     // messages between summarization triggers
	TopicSimilarityThreshold float64
	MemoryCompressionRatio  float64
	TemporalDecayHalfLife   time.Duration
	MaxConversationLength   int // messages before archival
	PruningThreshold        float64 // fraction of MaxContextTokens that triggers pruning, (0.5, 1]
	DecayKind               DecayKind
}

// DefaultConfig mirrors the original's field defaults.
func DefaultConfig() Config {
	return Config{
		MaxContextTokens:         32000,
		RelevanceDecayFactor:     0.95,
		SummaryThreshold:         20,
		TopicSimilarityThreshold: 0.7,
		MemoryCompressionRatio:   0.3,
		TemporalDecayHalfLife:    24 * time.Hour,
		MaxConversationLength:    1000,
		PruningThreshold:         0.8,
		DecayKind:                DecayCombined,
	}
}

// ContextWindow tracks the bounded active/archived message sets.
type ContextWindow struct {
	ActiveMessageIDs   []string
	ArchivedMessageIDs []string
	ActiveSummaryIDs   []string
	CurrentTokens      int
	MaxTokens          int
	PruningThreshold   float64
	LastPrunedAt       time.Time
	CompressionCount   int
}

// ConversationState is the top-level per-conversation record.
type ConversationState struct {
	ConversationID  string
	CurrentTopicID  string
	PreviousTopicID string
	TopicHistory    []string
	MessageCount    int
	TurnCount       int
	SessionStart    time.Time
	LastActivity    time.Time
	ContextWindow   ContextWindow
	Config          Config
	Archived        bool
	ArchiveReason   string
}

// MessageRelevance tracks one message's decaying relevance score.
type MessageRelevance struct {
	MessageID       string
	BaseRelevance   float64
	CurrentRelevance float64
	DecayFactor     float64
	TokenCount      int
	LastUpdated     time.Time
	TopicRelevance  map[string]float64
	Priority        MemoryPriority
	AccessCount     int
	LastAccessed    time.Time
}

// ConversationTopic is a tracked topic cluster.
type ConversationTopic struct {
	ID              string
	Name            string
	Keywords        []string // multiset: duplicates carry frequency weight
	RelevanceScore  float64
	ConfidenceScore float64
	FirstMention    time.Time
	LastMention     time.Time
	MessageCount    int
	Embedding       []float32
	ParentTopicID   string
	SubtopicIDs     []string
}

// ConversationSummary covers a contiguous run of messages at some granularity.
type ConversationSummary struct {
	ID                 string
	ConversationID     string
	Kind               string // "periodic", "topic", "session"
	Content            string
	KeyPoints          []string
	CoveredMessageIDs  []string
	CoveredTopicIDs    []string
	CompressionRatio   float64
	TokenCount         int
	OriginalTokenCount int
	RelevanceScore     float64
	CreatedAt          time.Time
}

// TopicTransition is an append-only log entry for a topic change event.
type TopicTransition struct {
	ID               string
	ConversationID   string
	FromTopicID      string
	ToTopicID        string
	Kind             TopicChangeKind
	MessageID        string
	Confidence       float64
	SimilarityScore  float64
	BridgingContext  string
	CreatedAt        time.Time
}

// ConversationArchive is written once, at archival time, and never mutated.
type ConversationArchive struct {
	ConversationID     string
	ArchiveID          string
	Reason             string
	FinalMessageCount  int
	FinalTopicCount    int
	SummaryIDsRetained []string
	ArchivedAt         time.Time
}

// MemoryMetrics summarizes one conversation's memory-system health.
type MemoryMetrics struct {
	ConversationID    string
	TotalMessages     int
	ActiveMessages    int
	ArchivedMessages  int
	TotalSummaries    int
	CompressionRatio  float64
	AvgRelevanceScore float64
	TopicsIdentified  int
	TopicTransitions  int
	MemoryEfficiency  float64
	ProcessingTimeMS  float64
	LastUpdated       time.Time
}

// RelevantContext is the result of a relevant-context query.
type RelevantContext struct {
	MessageIDs   []string
	Topics       []ConversationTopic
	Summaries    []ConversationSummary
	CurrentTopic string
}
