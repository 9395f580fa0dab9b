package ragcore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ragcore/ragcore/conversation"
	"github.com/ragcore/ragcore/llm"
	"github.com/ragcore/ragcore/store"
)

// ChatRequest is one turn of a conversation. ConversationID is generated
// when empty, starting a new conversation.
type ChatRequest struct {
	ConversationID string
	Message        string
	DocPaths       []string
	IncludeSources bool
	MaxDocs        int
}

// Source is one retrieved chunk backing a chat reply.
type Source struct {
	Path    string
	Heading string
	Content string
	Score   float64
}

// ChatResult is the reply plus the context that produced it. Partial is set
// when embedding, retrieval, or generation failed partway through the turn
// and Reply is a best-effort answer rather than a fully-grounded one; when
// set, InterventionTaskID names the manual-review task recorded for the
// failure, if one was created (kinds below their escalation threshold
// leave it empty).
type ChatResult struct {
	ConversationID     string
	Reply              string
	Sources            []Source
	AgentSteps         []string
	ElapsedTime        time.Duration
	Suggestions        []string
	Partial            bool
	InterventionTaskID string
}

// Chat answers one conversational turn: it records the user message in the
// conversation memory engine, retrieves relevant chunks (optionally scoped
// to DocPaths) via the vector store, asks the generation provider for a
// reply grounded in that context, and records the assistant's reply back
// into the conversation.
func (e *Engine) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	start := time.Now()
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	var steps []string
	steps = append(steps, "recording user message")
	if _, err := e.conversation.AddMessage(ctx, convID, conversation.Message{
		ID:      uuid.NewString(),
		Role:    conversation.RoleUser,
		Content: req.Message,
	}); err != nil {
		return nil, err
	}

	maxDocs := req.MaxDocs
	if maxDocs <= 0 {
		maxDocs = e.cfg.Selector.MaxResults
	}

	// partial and taskID are set by any of the embed/search/generate
	// failure paths below; an exhausted embed or generate call already
	// routed itself through the resilient provider's own intervention
	// queue (llm.ResilientEmbedder/ResilientGenerator), so its task id is
	// read off the error rather than enqueued a second time here. A
	// retrieval-store failure has no such lower layer, so Chat enqueues it
	// directly.
	var partial bool
	var taskID string

	var queryVector []float32
	steps = append(steps, "embedding query")
	queryVector, err := e.embedder.Embed(ctx, req.Message, e.cfg.Embedding.Model, llm.TaskQuery)
	if err != nil {
		partial = true
		taskID = DetailOf(err)
		steps = append(steps, "query embedding failed, falling back to keyword search")
	}

	var vecResults []store.RetrievalResult
	steps = append(steps, "retrieving relevant chunks")
	if err == nil {
		vecResults, err = e.docs.VectorSearch(ctx, queryVector, maxDocs*4)
		if err != nil {
			partial = true
			if taskID == "" {
				taskID = e.escalate(convID, err)
			}
			steps = append(steps, "vector search failed, falling back to keyword search")
			vecResults = nil
		}
	}
	ftsResults, ftsErr := e.docs.FTSSearch(ctx, sanitizeFTSQuery(req.Message), maxDocs*4)
	if ftsErr != nil {
		// Full-text search is a relevance boost, not a hard dependency: fall
		// back to vector-only ranking rather than failing the whole turn.
		ftsResults = nil
	}
	results := fuseRRF(vecResults, ftsResults, 0.7, 0.3, maxDocs*4)
	results = rankByTagRelevance(e.selector, req.Message, results)
	results = filterByDocPaths(results, req.DocPaths)
	if len(results) > maxDocs {
		results = results[:maxDocs]
	}

	steps = append(steps, "recalling conversation context")
	relevant, err := e.conversation.RelevantContext(ctx, convID, req.Message, e.cfg.Conversation.MaxContextTokens/4)
	if err != nil {
		return nil, err
	}

	prompt := buildChatPrompt(req.Message, results, relevant)
	steps = append(steps, "generating reply")
	reply, genErr := e.generator.Generate(ctx, prompt, llm.GenerationConfig{
		Model:       e.cfg.Chat.Model,
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if genErr != nil {
		partial = true
		if taskID == "" {
			taskID = DetailOf(genErr)
		}
		steps = append(steps, "generation failed, returning retrieved context without a synthesized answer")
		reply = bestEffortReply(results)
	}

	if reply != "" {
		if _, err := e.conversation.AddMessage(ctx, convID, conversation.Message{
			ID:      uuid.NewString(),
			Role:    conversation.RoleAssistant,
			Content: reply,
		}); err != nil {
			return nil, err
		}
	}

	out := &ChatResult{
		ConversationID:      convID,
		Reply:               reply,
		AgentSteps:          steps,
		ElapsedTime:         time.Since(start),
		Partial:             partial,
		InterventionTaskID:  taskID,
	}
	if req.IncludeSources {
		answerWords := significantWords(req.Message + " " + reply)
		for _, r := range results {
			content := extractSnippet(r.Content, answerWords)
			if content == "" {
				content = r.Content
			}
			out.Sources = append(out.Sources, Source{Path: r.Path, Heading: r.Heading, Content: content, Score: r.Score})
		}
	}
	for _, t := range relevant.Topics {
		out.Suggestions = append(out.Suggestions, t.Name)
	}
	return out, nil
}

// escalate routes a retrieval-layer failure to the manual-intervention
// queue directly, for failures (like a vector-store error) that have no
// resilient-provider layer to enqueue them on their own. Returns the
// created task's id, or "" if the failure didn't cross its kind's
// escalation threshold or the queue isn't configured.
func (e *Engine) escalate(requestID string, failure error) string {
	if e.intervene == nil {
		return ""
	}
	task, err := e.intervene.Enqueue(requestID, "", failure)
	if err != nil {
		slog.Error("chat: failed to enqueue intervention task", "request_id", requestID, "error", err)
		return ""
	}
	return task.ID
}

// bestEffortReply composes a reply directly from retrieved context when the
// generation provider is unavailable, rather than leaving the turn with no
// answer at all.
func bestEffortReply(results []store.RetrievalResult) string {
	if len(results) == 0 {
		return "I couldn't generate a response right now, and no relevant context was found. This has been flagged for review."
	}
	var b strings.Builder
	b.WriteString("I couldn't generate a synthesized response right now, but here is the most relevant context found:\n\n")
	for i, r := range results {
		if i >= 3 {
			break
		}
		b.WriteString(fmt.Sprintf("[%s] %s\n", r.Path, r.Content))
	}
	return b.String()
}

func filterByDocPaths(results []store.RetrievalResult, paths []string) []store.RetrievalResult {
	if len(paths) == 0 {
		return results
	}
	allowed := make(map[string]bool, len(paths))
	for _, p := range paths {
		allowed[p] = true
	}
	out := results[:0]
	for _, r := range results {
		if allowed[r.Path] {
			out = append(out, r)
		}
	}
	return out
}

func buildChatPrompt(message string, results []store.RetrievalResult, ctxWindow conversation.RelevantContext) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. Cite sources by path when relevant.\n\n")
	if ctxWindow.CurrentTopic != "" {
		b.WriteString(fmt.Sprintf("Conversation topic: %s\n\n", ctxWindow.CurrentTopic))
	}
	b.WriteString("Context:\n")
	for _, r := range results {
		b.WriteString(fmt.Sprintf("[%s] %s\n", r.Path, r.Content))
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(message)
	return b.String()
}
