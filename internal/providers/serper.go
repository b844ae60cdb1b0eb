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

// DefaultSerperBaseURL is the Serper search API root.
const DefaultSerperBaseURL = "https://google.serper.dev"

// defaultResultCount is used when a search task does not say how many
// results it wants.
const defaultResultCount = 10

// Serper is a web-search provider. It normalises the upstream payload into
// a stable JSON shape so callers are not coupled to the vendor format.
type Serper struct {
	name    string
	baseURL string
	apiKey  string
	timeout time.Duration
	retry   RetryPolicy
	client  *http.Client
	logger  zerolog.Logger
}

var _ dispatch.Invoker = (*Serper)(nil)

// NewSerper creates a Serper provider. An empty baseURL uses
// DefaultSerperBaseURL.
func NewSerper(name, baseURL, apiKey string, timeout time.Duration, retry RetryPolicy, logger zerolog.Logger) *Serper {
	if baseURL == "" {
		baseURL = DefaultSerperBaseURL
	}
	return &Serper{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeoutOrDefault(timeout),
		retry:   retry,
		client:  newHTTPClient(),
		logger:  logger.With().Str("provider", name).Logger(),
	}
}

// Name implements dispatch.Invoker.
func (s *Serper) Name() string { return s.name }

// SearchResult is one normalised organic result.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchOutput is the normalised search response shape.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Invoke implements dispatch.Invoker. It runs the task prompt as a search
// query and returns the normalised result set as JSON.
func (s *Serper) Invoke(ctx context.Context, task *dispatch.Task) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count := task.ResultCount
	if count <= 0 {
		count = defaultResultCount
	}

	payload, err := json.Marshal(map[string]interface{}{
		"q":   task.Prompt,
		"num": count,
	})
	if err != nil {
		return "", fmt.Errorf("%s: encoding request: %w", s.name, err)
	}

	body, err := doWithRetry(ctx, s.client, s.retry, s.logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", s.apiKey)
		return req, nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}

	var parsed serperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s: decoding response: %w", s.name, err)
	}
	if len(parsed.Organic) == 0 {
		return "", fmt.Errorf("%s: search returned no organic results", s.name)
	}

	out := SearchOutput{Query: task.Prompt, Results: make([]SearchResult, 0, len(parsed.Organic))}
	for i, r := range parsed.Organic {
		if i >= count {
			break
		}
		out.Results = append(out.Results, SearchResult{Title: r.Title, Link: r.Link, Snippet: r.Snippet})
	}

	normalised, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("%s: encoding results: %w", s.name, err)
	}
	return string(normalised), nil
}
