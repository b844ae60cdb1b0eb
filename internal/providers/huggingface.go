package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arqlabs/cascade/internal/dispatch"
)

// DefaultHuggingFaceBaseURL is the serverless inference API root.
const DefaultHuggingFaceBaseURL = "https://api-inference.huggingface.co/models/"

// hfMaxNewTokens caps the generation budget for hosted models.
const hfMaxNewTokens = 1024

// HuggingFace is a generation provider for the hosted inference API. A
// single logical provider rotates through several hosted models: a 503
// means the model is still loading, so the next model in the ring is tried
// within the same invocation. The ring position survives across
// invocations so a model that answered keeps being preferred.
type HuggingFace struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	timeout time.Duration
	client  *http.Client
	logger  zerolog.Logger

	mu  sync.Mutex
	idx int // ring position of the last model that answered
}

var _ dispatch.Invoker = (*HuggingFace)(nil)

// NewHuggingFace creates a HuggingFace provider rotating over the given
// models. An empty baseURL uses DefaultHuggingFaceBaseURL.
func NewHuggingFace(name, baseURL, apiKey string, models []string, timeout time.Duration, logger zerolog.Logger) *HuggingFace {
	if baseURL == "" {
		baseURL = DefaultHuggingFaceBaseURL
	}
	return &HuggingFace{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		timeout: timeoutOrDefault(timeout),
		client:  newHTTPClient(),
		logger:  logger.With().Str("provider", name).Logger(),
	}
}

// Name implements dispatch.Invoker.
func (h *HuggingFace) Name() string { return h.name }

type hfRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		MaxNewTokens int     `json:"max_new_tokens"`
		Temperature  float64 `json:"temperature"`
	} `json:"parameters"`
}

// Invoke implements dispatch.Invoker. Each hosted model gets one shot per
// invocation; only when every model in the ring fails does the invocation
// count as a provider failure.
func (h *HuggingFace) Invoke(ctx context.Context, task *dispatch.Task) (string, error) {
	if len(h.models) == 0 {
		return "", fmt.Errorf("%s: no models configured", h.name)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reqBody hfRequest
	reqBody.Inputs = task.Prompt
	maxTokens := task.MaxTokens
	if maxTokens <= 0 || maxTokens > hfMaxNewTokens {
		maxTokens = hfMaxNewTokens
	}
	reqBody.Parameters.MaxNewTokens = maxTokens
	reqBody.Parameters.Temperature = task.Temperature

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%s: encoding request: %w", h.name, err)
	}

	h.mu.Lock()
	start := h.idx
	h.mu.Unlock()

	var lastErr error
	for i := 0; i < len(h.models); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		pos := (start + i) % len(h.models)
		model := h.models[pos]

		text, err := h.callModel(ctx, model, payload)
		if err != nil {
			lastErr = err
			h.logger.Warn().Err(err).Str("model", model).Msg("hosted model failed, rotating")
			continue
		}

		h.mu.Lock()
		h.idx = pos
		h.mu.Unlock()
		return text, nil
	}

	return "", fmt.Errorf("%s: all hosted models failed: %w", h.name, lastErr)
}

// callModel performs a single inference call against one hosted model.
func (h *HuggingFace) callModel(ctx context.Context, model string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+model, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return "", fmt.Errorf("model %s is loading (503)", model)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model %s returned status %d: %s", model, resp.StatusCode, truncateBody(body, 200))
	}

	var parsed []struct {
		GeneratedText string `json:"generated_text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed) == 0 || parsed[0].GeneratedText == "" {
		return "", fmt.Errorf("model %s returned no generated text", model)
	}
	return parsed[0].GeneratedText, nil
}
