package conversation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/ragcore/ragcore"
)

// Engine is the conversation memory engine: it tracks active and archived
// messages, decaying relevance, topic clusters, summaries, and triggers
// pruning/summarization/archival as a conversation grows, grounded on the
// original source's ConversationMemoryManager.
type Engine struct {
	store    *store
	embedder Embedder
	cfg      Config
}

// New builds an Engine backed by db (a shared *bolt.DB, the same handle
// resilience.InterventionQueue is given) and embedder.
func New(db *bolt.DB, embedder Embedder, cfg Config) (*Engine, error) {
	s, err := newStore(db)
	if err != nil {
		return nil, err
	}
	return &Engine{store: s, embedder: embedder, cfg: cfg}, nil
}

func (e *Engine) getOrCreateState(convID string) (ConversationState, error) {
	state, found, err := e.store.loadState(convID)
	if err != nil {
		return ConversationState{}, err
	}
	if found {
		return state, nil
	}
	now := time.Now()
	state = ConversationState{
		ConversationID: convID,
		SessionStart:   now,
		LastActivity:   now,
		Config:         e.cfg,
		ContextWindow: ContextWindow{
			MaxTokens:        e.cfg.MaxContextTokens,
			PruningThreshold: e.cfg.PruningThreshold,
		},
	}
	return state, nil
}

// AddMessage runs the per-message lifecycle: relevance assignment, active
// window append, topic matching, and conditional pruning/summarization.
func (e *Engine) AddMessage(ctx context.Context, convID string, msg Message) (MessageRelevance, error) {
	state, err := e.getOrCreateState(convID)
	if err != nil {
		return MessageRelevance{}, err
	}
	if state.Archived {
		return MessageRelevance{}, ragcore.NewError(ragcore.KindConversationArchived,
			"conversation "+convID+" is archived", nil)
	}

	priority := PriorityMedium
	if msg.Role == RoleUser {
		priority = PriorityHigh
	}
	tokens := estimateTokens(msg.Content)
	now := time.Now()

	relevance := MessageRelevance{
		MessageID:        msg.ID,
		BaseRelevance:    1.0,
		CurrentRelevance: 1.0,
		DecayFactor:      1.0,
		TokenCount:       tokens,
		LastUpdated:      now,
		TopicRelevance:   map[string]float64{},
		Priority:         priority,
		LastAccessed:     now,
	}

	state.ContextWindow.ActiveMessageIDs = append(state.ContextWindow.ActiveMessageIDs, msg.ID)
	state.ContextWindow.CurrentTokens += tokens
	state.MessageCount++
	state.TurnCount++
	state.LastActivity = now

	if err := e.assignTopic(ctx, &state, &relevance, msg); err != nil {
		return MessageRelevance{}, err
	}

	if err := e.store.saveRelevance(convID, relevance); err != nil {
		return MessageRelevance{}, err
	}

	if float64(state.ContextWindow.CurrentTokens) > float64(state.ContextWindow.MaxTokens)*state.Config.PruningThreshold {
		if err := e.prune(convID, &state); err != nil {
			return MessageRelevance{}, err
		}
	}

	if state.Config.SummaryThreshold > 0 && state.MessageCount%state.Config.SummaryThreshold == 0 {
		if err := e.summarize(convID, &state); err != nil {
			return MessageRelevance{}, err
		}
	}

	if state.MessageCount > state.Config.MaxConversationLength {
		if err := e.archive(convID, &state, "max conversation length exceeded"); err != nil {
			return MessageRelevance{}, err
		}
	}

	if err := e.store.saveState(state); err != nil {
		return MessageRelevance{}, err
	}
	if err := e.recomputeMetrics(convID, state); err != nil {
		return MessageRelevance{}, err
	}

	return relevance, nil
}

// assignTopic extracts keywords, requests an embedding, and either merges
// msg into an existing topic cluster or creates a new one, recording a
// TopicTransition either way.
func (e *Engine) assignTopic(ctx context.Context, state *ConversationState, relevance *MessageRelevance, msg Message) error {
	keywords := extractKeywords(msg.Content)
	if len(keywords) == 0 {
		return nil
	}

	embedding := msg.Embedding
	if embedding == nil && e.embedder != nil {
		emb, err := e.embedder.Embed(ctx, msg.Content)
		if err != nil {
			return ragcore.NewError(ragcore.KindProviderTransient, "embedding message for topic match", err)
		}
		embedding = emb
	}
	if embedding == nil {
		return nil
	}

	topics, err := e.store.listTopics(state.ConversationID)
	if err != nil {
		return err
	}

	now := time.Now()
	match, similarity, ok := findSimilarTopic(embedding, topics, state.Config.TopicSimilarityThreshold)

	var topic ConversationTopic
	var transition TopicTransition
	if ok {
		topic = match
		topic.Keywords = append(topic.Keywords, keywords...)
		topic.LastMention = now
		topic.MessageCount++
		topic.RelevanceScore = math.Min(1.0, topic.RelevanceScore+0.05)
		topic.ConfidenceScore = similarity

		kind := TopicGradual
		if topic.ID == state.PreviousTopicID && topic.ID != state.CurrentTopicID {
			kind = TopicReturn
		}
		transition = TopicTransition{
			ID:              uuid.New().String(),
			ConversationID:  state.ConversationID,
			FromTopicID:     state.CurrentTopicID,
			ToTopicID:       topic.ID,
			Kind:            kind,
			MessageID:       msg.ID,
			Confidence:      similarity,
			SimilarityScore: similarity,
			CreatedAt:       now,
		}
	} else {
		topic = ConversationTopic{
			ID:              uuid.New().String(),
			Name:            topicName(keywords),
			Keywords:        keywords,
			RelevanceScore:  1.0,
			ConfidenceScore: 1.0,
			FirstMention:    now,
			LastMention:     now,
			MessageCount:    1,
			Embedding:       embedding,
		}
		transition = TopicTransition{
			ID:             uuid.New().String(),
			ConversationID: state.ConversationID,
			FromTopicID:    state.CurrentTopicID,
			ToTopicID:      topic.ID,
			Kind:           TopicNew,
			MessageID:      msg.ID,
			Confidence:     1.0,
			CreatedAt:      now,
		}
	}

	if err := e.store.saveTopic(state.ConversationID, topic); err != nil {
		return err
	}
	if err := e.store.saveTransition(transition); err != nil {
		return err
	}

	relevance.TopicRelevance[topic.ID] = topic.RelevanceScore
	if topic.ID != state.CurrentTopicID {
		state.PreviousTopicID = state.CurrentTopicID
		state.CurrentTopicID = topic.ID
		state.TopicHistory = append(state.TopicHistory, topic.ID)
	}
	return nil
}

// decayFactor returns the multiplier a pruning pass applies to a message's
// current relevance, per the conversation's configured DecayKind.
func decayFactor(cfg Config, lastUpdated time.Time, now time.Time) float64 {
	temporal := func() float64 {
		halfLifeHours := cfg.TemporalDecayHalfLife.Hours()
		if halfLifeHours <= 0 {
			return 1.0
		}
		deltaHours := now.Sub(lastUpdated).Hours()
		return math.Exp(-deltaHours / halfLifeHours)
	}
	switch cfg.DecayKind {
	case DecayTemporal:
		return temporal()
	case DecayPositional:
		return cfg.RelevanceDecayFactor
	case DecayCombined:
		return temporal() * cfg.RelevanceDecayFactor
	default:
		return 1.0
	}
}

// prune applies relevance decay, then moves the lowest-relevance,
// non-critical/high-priority active messages to the archive until
// current-tokens falls to 70% of max-tokens.
func (e *Engine) prune(convID string, state *ConversationState) error {
	relevances, err := e.store.listRelevances(convID)
	if err != nil {
		return err
	}
	byID := make(map[string]MessageRelevance, len(relevances))
	for _, r := range relevances {
		byID[r.MessageID] = r
	}

	now := time.Now()
	var active []MessageRelevance
	for _, id := range state.ContextWindow.ActiveMessageIDs {
		r, ok := byID[id]
		if !ok {
			continue
		}
		factor := decayFactor(state.Config, r.LastUpdated, now)
		r.CurrentRelevance *= factor
		r.DecayFactor = factor
		r.LastUpdated = now
		if err := e.store.saveRelevance(convID, r); err != nil {
			return err
		}
		active = append(active, r)
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CurrentRelevance < active[j].CurrentRelevance
	})

	target := int(float64(state.ContextWindow.MaxTokens) * 0.7)
	archivedNow := make([]string, 0)
	tokens := state.ContextWindow.CurrentTokens

	for _, r := range active {
		if tokens <= target {
			break
		}
		if r.Priority == PriorityCritical || r.Priority == PriorityHigh {
			continue
		}
		archivedNow = append(archivedNow, r.MessageID)
		tokens -= r.TokenCount
	}
	archivedSet := make(map[string]bool, len(archivedNow))
	for _, id := range archivedNow {
		archivedSet[id] = true
	}
	remainingActive := make([]string, 0, len(state.ContextWindow.ActiveMessageIDs))
	for _, id := range state.ContextWindow.ActiveMessageIDs {
		if !archivedSet[id] {
			remainingActive = append(remainingActive, id)
		}
	}

	state.ContextWindow.ActiveMessageIDs = remainingActive
	state.ContextWindow.ArchivedMessageIDs = append(state.ContextWindow.ArchivedMessageIDs, archivedNow...)
	state.ContextWindow.CurrentTokens = tokens
	state.ContextWindow.LastPrunedAt = now
	state.ContextWindow.CompressionCount++
	return nil
}

// summarize produces a ConversationSummary covering the last
// SummaryThreshold active messages, skipping if those messages are already
// covered by an existing summary (idempotent across duplicate triggers).
func (e *Engine) summarize(convID string, state *ConversationState) error {
	n := state.Config.SummaryThreshold
	active := state.ContextWindow.ActiveMessageIDs
	if len(active) > n {
		active = active[len(active)-n:]
	}
	if len(active) == 0 {
		return nil
	}

	existing, err := e.store.listSummaries(convID)
	if err != nil {
		return err
	}
	covered := make(map[string]bool)
	for _, s := range existing {
		for _, id := range s.CoveredMessageIDs {
			covered[id] = true
		}
	}
	allCovered := true
	for _, id := range active {
		if !covered[id] {
			allCovered = false
			break
		}
	}
	if allCovered {
		return nil
	}

	relevances, err := e.store.listRelevances(convID)
	if err != nil {
		return err
	}
	byID := make(map[string]MessageRelevance, len(relevances))
	for _, r := range relevances {
		byID[r.MessageID] = r
	}
	originalTokens := 0
	for _, id := range active {
		originalTokens += byID[id].TokenCount
	}
	summaryTokens := int(math.Ceil(float64(originalTokens) * state.Config.MemoryCompressionRatio))

	summary := ConversationSummary{
		ID:                 uuid.New().String(),
		ConversationID:      convID,
		Kind:               "periodic",
		Content:            "",
		CoveredMessageIDs:  append([]string{}, active...),
		CoveredTopicIDs:    append([]string{}, state.TopicHistory...),
		CompressionRatio:   state.Config.MemoryCompressionRatio,
		TokenCount:         summaryTokens,
		OriginalTokenCount: originalTokens,
		RelevanceScore:     1.0,
		CreatedAt:          time.Now(),
	}
	if err := e.store.saveSummary(summary); err != nil {
		return err
	}

	state.ContextWindow.ActiveSummaryIDs = append(state.ContextWindow.ActiveSummaryIDs, summary.ID)
	state.ContextWindow.CurrentTokens += summaryTokens
	return nil
}

// archive marks state as archived and writes a ConversationArchive record.
// Further AddMessage calls on this conversation fail with KindConversationArchived.
func (e *Engine) archive(convID string, state *ConversationState, reason string) error {
	topics, err := e.store.listTopics(convID)
	if err != nil {
		return err
	}
	record := ConversationArchive{
		ConversationID:     convID,
		ArchiveID:          uuid.New().String(),
		Reason:             reason,
		FinalMessageCount:  state.MessageCount,
		FinalTopicCount:    len(topics),
		SummaryIDsRetained: append([]string{}, state.ContextWindow.ActiveSummaryIDs...),
		ArchivedAt:         time.Now(),
	}
	if err := e.store.saveArchive(record); err != nil {
		return err
	}
	state.Archived = true
	state.ArchiveReason = reason
	return nil
}

// RelevantContext returns the top active messages by current relevance
// bounded by maxTokens, similar topics, and recent summaries for a query.
func (e *Engine) RelevantContext(ctx context.Context, convID, query string, maxTokens int) (RelevantContext, error) {
	state, found, err := e.store.loadState(convID)
	if err != nil {
		return RelevantContext{}, err
	}
	if !found {
		return RelevantContext{}, nil
	}

	relevances, err := e.store.listRelevances(convID)
	if err != nil {
		return RelevantContext{}, err
	}
	activeSet := make(map[string]bool, len(state.ContextWindow.ActiveMessageIDs))
	for _, id := range state.ContextWindow.ActiveMessageIDs {
		activeSet[id] = true
	}
	var active []MessageRelevance
	for _, r := range relevances {
		if activeSet[r.MessageID] {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].CurrentRelevance > active[j].CurrentRelevance
	})

	var messageIDs []string
	budget := maxTokens
	for _, r := range active {
		if budget <= 0 {
			break
		}
		messageIDs = append(messageIDs, r.MessageID)
		budget -= r.TokenCount
	}

	var topicMatches []ConversationTopic
	if e.embedder != nil {
		if queryEmbedding, embErr := e.embedder.Embed(ctx, query); embErr == nil {
			topics, err := e.store.listTopics(convID)
			if err != nil {
				return RelevantContext{}, err
			}
			sort.SliceStable(topics, func(i, j int) bool {
				return cosineSimilarity(queryEmbedding, topics[i].Embedding) >
					cosineSimilarity(queryEmbedding, topics[j].Embedding)
			})
			for _, t := range topics {
				if len(topicMatches) >= 5 {
					break
				}
				if cosineSimilarity(queryEmbedding, t.Embedding) >= 0.5 {
					topicMatches = append(topicMatches, t)
				}
			}
		}
	}

	summaries, err := e.store.listSummaries(convID)
	if err != nil {
		return RelevantContext{}, err
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if len(summaries) > 3 {
		summaries = summaries[:3]
	}

	return RelevantContext{
		MessageIDs:   messageIDs,
		Topics:       topicMatches,
		Summaries:    summaries,
		CurrentTopic: state.CurrentTopicID,
	}, nil
}

// recomputeMetrics rebuilds and persists MemoryMetrics for convID, run at
// the end of every AddMessage pass.
func (e *Engine) recomputeMetrics(convID string, state ConversationState) error {
	relevances, err := e.store.listRelevances(convID)
	if err != nil {
		return err
	}
	topics, err := e.store.listTopics(convID)
	if err != nil {
		return err
	}
	summaries, err := e.store.listSummaries(convID)
	if err != nil {
		return err
	}
	transitionCount, err := e.store.countTransitions(convID)
	if err != nil {
		return err
	}

	var sumRelevance float64
	for _, r := range relevances {
		sumRelevance += r.CurrentRelevance
	}
	avgRelevance := 0.0
	if len(relevances) > 0 {
		avgRelevance = sumRelevance / float64(len(relevances))
	}

	efficiency := 1.0
	if state.ContextWindow.MaxTokens > 0 {
		efficiency = 1.0 - float64(state.ContextWindow.CurrentTokens)/float64(state.ContextWindow.MaxTokens)
		if efficiency < 0 {
			efficiency = 0
		}
	}

	metrics := MemoryMetrics{
		ConversationID:    convID,
		TotalMessages:     state.MessageCount,
		ActiveMessages:    len(state.ContextWindow.ActiveMessageIDs),
		ArchivedMessages:  len(state.ContextWindow.ArchivedMessageIDs),
		TotalSummaries:    len(summaries),
		CompressionRatio:  state.Config.MemoryCompressionRatio,
		AvgRelevanceScore: avgRelevance,
		TopicsIdentified:  len(topics),
		TopicTransitions:  transitionCount,
		MemoryEfficiency:  efficiency,
		LastUpdated:       time.Now(),
	}
	return e.store.saveMetrics(metrics)
}
