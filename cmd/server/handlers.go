package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ragcore/ragcore"
	"github.com/ragcore/ragcore/chunker"
)

type handler struct {
	engine *ragcore.Engine
}

func newHandler(e *ragcore.Engine) *handler {
	return &handler{engine: e}
}

// POST /documents/analyze
func (h *handler) handleAnalyzeDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Path            string `json:"path"`
		MaxTags         int    `json:"max_tags,omitempty"`
		GenerateSummary bool   `json:"generate_summary,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	result, err := h.engine.AnalyzeDocument(ctx, req.Path, req.MaxTags, req.GenerateSummary)
	if err != nil {
		writeEngineError(w, "analyze failed", "path", req.Path, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /documents/process
func (h *handler) handleProcessBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Paths                []string `json:"paths"`
		Strategy             string   `json:"strategy,omitempty"`
		GenerateEmbeddings   bool     `json:"generate_embeddings,omitempty"`
		MaxConcurrentBatches int      `json:"max_concurrent_batches,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths is required")
		return
	}

	result, err := h.engine.Process(ctx, req.Paths, ragcore.ProcessOptions{
		Strategy:             chunker.Strategy(req.Strategy),
		GenerateEmbeddings:   req.GenerateEmbeddings,
		MaxConcurrentBatches: req.MaxConcurrentBatches,
	})
	if err != nil {
		writeEngineError(w, "process failed", "count", len(req.Paths), err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /chat
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		ConversationID string   `json:"conversation_id,omitempty"`
		Message        string   `json:"message"`
		DocPaths       []string `json:"doc_paths,omitempty"`
		IncludeSources bool     `json:"include_sources,omitempty"`
		MaxDocs        int      `json:"max_docs,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := h.engine.Chat(ctx, ragcore.ChatRequest{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		DocPaths:       req.DocPaths,
		IncludeSources: req.IncludeSources,
		MaxDocs:        req.MaxDocs,
	})
	if err != nil {
		// Chat only returns an error here for failures it can't produce any
		// kind of answer for (e.g. it couldn't even record the turn);
		// partial failures (embed/search/generate) come back as a 200 with
		// result.Partial set and result.InterventionTaskID naming the task,
		// if one was created.
		writeEngineError(w, "chat failed", "conversation_id", req.ConversationID, err)
		return
	}
	if result.Partial {
		slog.Warn("chat: returning partial result", "conversation_id", result.ConversationID, "intervention_task_id", result.InterventionTaskID)
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /cache/warm
func (h *handler) handleCacheWarm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		Paths []string `json:"paths,omitempty"`
	}
	// An empty or absent body falls back to the global warm-up of the
	// most-accessed cached entries.
	_ = json.NewDecoder(r.Body).Decode(&req)

	n, err := h.engine.CacheWarm(ctx, req.Paths)
	if err != nil {
		writeEngineError(w, "cache warm failed", "count", len(req.Paths), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"warmed": n})
}

// GET /cache/stats
func (h *handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.CacheStats())
}

// GET /circuit-breakers
func (h *handler) handleCircuitBreakerStates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"breakers": h.engine.CircuitBreakerStates(),
	})
}

// POST /circuit-breakers/reset
func (h *handler) handleResetCircuitBreakers(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetCircuitBreakers()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps err's ragcore.ErrorKind to an HTTP status, logs it
// with the given context fields, and writes the JSON error body.
func writeEngineError(w http.ResponseWriter, msg string, logKey string, logVal interface{}, err error) {
	status := statusForErr(err)
	writeError(w, status, msg)
	slog.Error(msg, logKey, logVal, "error", err)
}

func statusForErr(err error) int {
	kind, ok := ragcore.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case ragcore.KindFileAccess, ragcore.KindUnsupportedKind:
		return http.StatusBadRequest
	case ragcore.KindDecodeFailed:
		return http.StatusUnprocessableEntity
	case ragcore.KindCircuitOpen, ragcore.KindProviderTransient, ragcore.KindFallbackExhausted:
		return http.StatusServiceUnavailable
	case ragcore.KindProviderQuotaOrAuth:
		return http.StatusBadGateway
	case ragcore.KindTimeout:
		return http.StatusGatewayTimeout
	case ragcore.KindCancelled:
		return http.StatusRequestTimeout
	case ragcore.KindConversationArchived:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
