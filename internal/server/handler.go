package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arqlabs/cascade/internal/cache"
	"github.com/arqlabs/cascade/internal/dispatch"
	"github.com/arqlabs/cascade/internal/metrics"
	"github.com/arqlabs/cascade/internal/store"
	"github.com/arqlabs/cascade/internal/tokenizer"
	"github.com/arqlabs/cascade/internal/tracing"
)

// Handler is the main HTTP handler for the dispatch API. It routes
// generation and search tasks to their dispatchers, consults the cache,
// records metrics, and persists audit records.
type Handler struct {
	generation  *dispatch.Dispatcher
	search      *dispatch.Dispatcher
	cache       *cache.Cache
	store       *store.Store
	collector   *metrics.Collector
	tokenizer   *tokenizer.Tokenizer
	logger      zerolog.Logger
	maxBodySize int64
}

// NewHandler creates a Handler. search may be nil, in which case search
// tasks run against the generation dispatcher. cache, store, collector,
// and tokenizer are each optional; a nil value disables that concern.
func NewHandler(
	generation *dispatch.Dispatcher,
	search *dispatch.Dispatcher,
	c *cache.Cache,
	st *store.Store,
	collector *metrics.Collector,
	tok *tokenizer.Tokenizer,
	logger zerolog.Logger,
	maxBodySize int64,
) *Handler {
	return &Handler{
		generation:  generation,
		search:      search,
		cache:       c,
		store:       st,
		collector:   collector,
		tokenizer:   tok,
		logger:      logger,
		maxBodySize: maxBodySize,
	}
}

// dispatcherFor selects the dispatcher responsible for a category.
func (h *Handler) dispatcherFor(category dispatch.Category) *dispatch.Dispatcher {
	if category == dispatch.CategorySearch && h.search != nil {
		return h.search
	}
	return h.generation
}

// dispatchRequest is the JSON body accepted by POST /v1/dispatch.
type dispatchRequest struct {
	Category    string  `json:"category"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	ResultCount int     `json:"result_count,omitempty"`
}

// dispatchResponse is the JSON body returned by POST /v1/dispatch.
type dispatchResponse struct {
	ID        string             `json:"id"`
	Category  string             `json:"category"`
	Provider  string             `json:"provider,omitempty"`
	Output    string             `json:"output"`
	Degraded  bool               `json:"degraded"`
	Cancelled bool               `json:"cancelled,omitempty"`
	Cached    bool               `json:"cached"`
	Attempts  []dispatch.Attempt `json:"attempts,omitempty"`
	ElapsedMs int64              `json:"elapsed_ms"`
}

// HandleDispatch runs one task through the fallback chain and returns the
// result. The endpoint never returns a provider error to the caller: the
// worst case is a degraded canned answer.
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	if h.collector != nil {
		h.collector.IncrementActive()
		defer h.collector.DecrementActive()
	}

	if h.maxBodySize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer r.Body.Close()

	var req dispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	category := dispatch.Category(req.Category)
	if req.Category == "" {
		category = dispatch.CategoryGeneric
	}
	if !category.Valid() {
		writeJSONError(w, http.StatusBadRequest, "unknown category "+strconv.Quote(req.Category))
		return
	}
	if req.Prompt == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}

	task := &dispatch.Task{
		Category:    category,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		ResultCount: req.ResultCount,
	}

	logger := h.logger.With().
		Str("category", string(category)).
		Logger()

	ctx, span := tracing.StartDispatchSpan(ctx, string(category))
	defer span.End()

	// Cache lookup before touching any provider.
	if h.cache != nil {
		if entry := h.cache.Get(task); entry != nil {
			if h.collector != nil {
				h.collector.RecordCacheHit()
				h.collector.Record(false, false, 0, time.Since(startTime))
			}
			id := uuid.New().String()
			tracing.SetTaskAttributes(ctx, id, string(category))
			tracing.SetResultAttributes(ctx, entry.Provider, false, false, true, 0)
			logger.Info().Str("dispatch_id", id).Str("provider", entry.Provider).Msg("returning cached result")
			h.persistDispatch(&store.Dispatch{
				ID:        id,
				Timestamp: startTime.UTC().Format(time.RFC3339),
				Category:  string(category),
				Provider:  entry.Provider,
				LatencyMs: time.Since(startTime).Milliseconds(),
				CacheHit:  true,
			})
			writeJSON(w, http.StatusOK, &dispatchResponse{
				ID:        id,
				Category:  string(category),
				Provider:  entry.Provider,
				Output:    entry.Output,
				Cached:    true,
				ElapsedMs: time.Since(startTime).Milliseconds(),
			})
			return
		}
		if cache.Cacheable(task) && h.collector != nil {
			h.collector.RecordCacheMiss()
		}
	}

	result, err := h.dispatcherFor(category).Execute(ctx, task)
	if err != nil && result == nil {
		// Only a nil task reaches here, which the validation above rules out.
		logger.Error().Err(err).Msg("dispatch failed")
		writeJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	attempts := len(result.Attempts)
	if !result.Degraded {
		attempts++ // the successful attempt
	}

	tracing.SetTaskAttributes(ctx, result.ID, string(category))
	tracing.SetResultAttributes(ctx, result.Provider, result.Degraded, result.Cancelled, false, attempts)

	var promptTokens, outputTokens int
	if h.tokenizer != nil {
		promptTokens = h.tokenizer.CountTokens("", task.Prompt)
		outputTokens = h.tokenizer.CountTokens("", result.Output)
	}

	if h.collector != nil {
		h.collector.Record(result.Degraded, result.Cancelled, attempts, result.Elapsed)
		h.collector.RecordTokens(promptTokens, outputTokens)
	}

	if h.cache != nil {
		h.cache.Put(task, result)
	}

	var lastError string
	for _, a := range result.Attempts {
		if a.Error != "" {
			lastError = a.Error
		}
	}
	h.persistDispatch(&store.Dispatch{
		ID:           result.ID,
		Timestamp:    startTime.UTC().Format(time.RFC3339),
		Category:     string(category),
		Provider:     result.Provider,
		Degraded:     result.Degraded,
		Cancelled:    result.Cancelled,
		Attempts:     attempts,
		PromptTokens: int64(promptTokens),
		OutputTokens: int64(outputTokens),
		LatencyMs:    result.Elapsed.Milliseconds(),
		ErrorMessage: lastError,
	})
	h.persistProviderHealth(category)

	logger.Info().
		Str("dispatch_id", result.ID).
		Str("provider", result.Provider).
		Bool("degraded", result.Degraded).
		Int("attempts", attempts).
		Dur("elapsed", result.Elapsed).
		Msg("dispatch completed")

	writeJSON(w, http.StatusOK, &dispatchResponse{
		ID:        result.ID,
		Category:  string(category),
		Provider:  result.Provider,
		Output:    result.Output,
		Degraded:  result.Degraded,
		Cancelled: result.Cancelled,
		Attempts:  result.Attempts,
		ElapsedMs: result.Elapsed.Milliseconds(),
	})
}

// persistDispatch writes an audit record, logging rather than failing the
// request when the store is unavailable.
func (h *Handler) persistDispatch(d *store.Dispatch) {
	if h.store == nil {
		return
	}
	if err := h.store.InsertDispatch(d); err != nil {
		h.logger.Warn().Err(err).Str("dispatch_id", d.ID).Msg("persisting dispatch record failed")
	}
}

// persistProviderHealth mirrors the registry state for the category's
// dispatcher into the provider_health table.
func (h *Handler) persistProviderHealth(category dispatch.Category) {
	if h.store == nil {
		return
	}
	for _, st := range h.dispatcherFor(category).Registry().Snapshot() {
		err := h.store.UpsertProviderHealth(&store.ProviderHealth{
			Name:                st.Name,
			Available:           st.Available,
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastError:           st.LastError,
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("provider", st.Name).Msg("persisting provider health failed")
		}
	}
}

// HandleProviders returns the current state of every registered provider,
// grouped by registry.
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	resp := map[string][]dispatch.ProviderState{
		"generation": h.generation.Registry().Snapshot(),
	}
	if h.search != nil {
		resp["search"] = h.search.Registry().Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleProviderReset clears a provider's failure counter and re-enables
// it. Reset is the only way a disabled provider comes back.
func (h *Handler) HandleProviderReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	found := h.generation.Registry().Reset(name)
	if h.search != nil && h.search.Registry().Reset(name) {
		found = true
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, "unknown provider "+strconv.Quote(name))
		return
	}

	h.logger.Info().Str("provider", name).Msg("provider reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "provider": name})
}

// HandleStats returns live counters plus 24h aggregates from storage.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}

	if h.collector != nil {
		resp["live"] = h.collector.Stats()
	}

	if h.store != nil {
		since := time.Now().Add(-24 * time.Hour)
		if stats, err := h.store.GetDispatchStats(since); err == nil {
			resp["last_24h"] = stats
		}
		if counts, err := h.store.GetProviderCounts(since); err == nil {
			resp["providers_24h"] = counts
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleHistory returns a page of past dispatches, newest first.
// Query params: limit (default 50, max 500) and offset.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "history storage not configured")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		offset = n
	}

	records, err := h.store.ListDispatches(limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("listing dispatches failed")
		writeJSONError(w, http.StatusInternalServerError, "listing dispatches failed")
		return
	}

	type historyEntry struct {
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Category  string `json:"category"`
		Provider  string `json:"provider,omitempty"`
		Degraded  bool   `json:"degraded"`
		Cancelled bool   `json:"cancelled,omitempty"`
		Attempts  int    `json:"attempts"`
		LatencyMs int64  `json:"latency_ms"`
		CacheHit  bool   `json:"cache_hit"`
		Error     string `json:"error,omitempty"`
	}
	entries := make([]historyEntry, 0, len(records))
	for _, d := range records {
		entries = append(entries, historyEntry{
			ID:        d.ID,
			Timestamp: d.Timestamp,
			Category:  d.Category,
			Provider:  d.Provider,
			Degraded:  d.Degraded,
			Cancelled: d.Cancelled,
			Attempts:  d.Attempts,
			LatencyMs: d.LatencyMs,
			CacheHit:  d.CacheHit,
			Error:     d.ErrorMessage,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dispatches": entries,
		"limit":      limit,
		"offset":     offset,
	})
}

// HandleHealth returns a simple JSON health check response.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// HandleReady reports readiness: storage must answer and at least one
// provider must be registered.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	if h.generation.Registry().Len() == 0 {
		writeJSONError(w, http.StatusServiceUnavailable, "no providers registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

// writeJSONError writes a JSON error response with the given status code
// and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "dispatch_error",
		},
	}
	data, _ := json.Marshal(resp)
	_, _ = w.Write(data)
}
