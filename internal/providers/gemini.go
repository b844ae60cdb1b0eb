package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arqlabs/cascade/internal/dispatch"
)

// DefaultGeminiBaseURL is the Google Generative Language API root.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// geminiMaxOutputTokens caps the output budget forwarded to the API.
const geminiMaxOutputTokens = 8192

// Gemini is a generation provider for Google's generateContent endpoint.
type Gemini struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	retry   RetryPolicy
	client  *http.Client
	logger  zerolog.Logger
}

var _ dispatch.Invoker = (*Gemini)(nil)

// NewGemini creates a Gemini provider. An empty baseURL uses
// DefaultGeminiBaseURL.
func NewGemini(name, baseURL, apiKey, model string, timeout time.Duration, retry RetryPolicy, logger zerolog.Logger) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &Gemini{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		timeout: timeoutOrDefault(timeout),
		retry:   retry,
		client:  newHTTPClient(),
		logger:  logger.With().Str("provider", name).Logger(),
	}
}

// Name implements dispatch.Invoker.
func (g *Gemini) Name() string { return g.name }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Invoke implements dispatch.Invoker. It posts the task prompt to
// generateContent and concatenates the first candidate's text parts.
func (g *Gemini) Invoke(ctx context.Context, task *dispatch.Task) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var reqBody geminiRequest
	reqBody.Contents = []geminiContent{{Parts: []geminiPart{{Text: task.Prompt}}}}
	reqBody.GenerationConfig.Temperature = task.Temperature
	maxTokens := task.MaxTokens
	if maxTokens <= 0 || maxTokens > geminiMaxOutputTokens {
		maxTokens = geminiMaxOutputTokens
	}
	reqBody.GenerationConfig.MaxOutputTokens = maxTokens

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%s: encoding request: %w", g.name, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	body, err := doWithRetry(ctx, g.client, g.retry, g.logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", g.apiKey)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.name, err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decoding response: %w", g.name, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%s: upstream error: %s", g.name, parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%s: response contained no candidates", g.name)
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}
