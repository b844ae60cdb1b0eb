package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/arqlabs/cascade/internal/dispatch"
)

// systemPrompt frames every generation request. Structured categories ask
// the model to answer in the exact shape the prompt describes.
const systemPrompt = "You are a senior market-analysis specialist. Answer in the exact format the prompt requests."

// chatMaxTokensCap is the largest completion budget forwarded upstream.
const chatMaxTokensCap = 4096

// ChatCompletion is a generation provider speaking the OpenAI
// chat-completions wire format. It serves both OpenAI itself and
// API-compatible vendors such as Groq, differing only in base URL and
// model name.
type ChatCompletion struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	retry   RetryPolicy
	client  *http.Client
	logger  zerolog.Logger
}

var _ dispatch.Invoker = (*ChatCompletion)(nil)

// NewChatCompletion creates a chat-completions provider. baseURL is the
// API root without the /v1 path (e.g. "https://api.groq.com/openai").
func NewChatCompletion(name, baseURL, apiKey, model string, timeout time.Duration, retry RetryPolicy, logger zerolog.Logger) *ChatCompletion {
	return &ChatCompletion{
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
func (c *ChatCompletion) Name() string { return c.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke implements dispatch.Invoker. It posts the task prompt to the
// chat-completions endpoint and returns the first choice's content.
func (c *ChatCompletion) Invoke(ctx context.Context, task *dispatch.Task) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	maxTokens := task.MaxTokens
	if maxTokens <= 0 || maxTokens > chatMaxTokensCap {
		maxTokens = chatMaxTokensCap
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: task.Prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: task.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%s: encoding request: %w", c.name, err)
	}

	body, err := doWithRetry(ctx, c.client, c.retry, c.logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", c.name, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decoding response: %w", c.name, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%s: upstream error: %s", c.name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: response contained no choices", c.name)
	}
	return parsed.Choices[0].Message.Content, nil
}
