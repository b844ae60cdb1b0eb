// Package providers contains the concrete upstream backends that implement
// the dispatch.Invoker capability: LLM generation APIs (Gemini and
// OpenAI-compatible endpoints, Hugging Face inference) and a Serper-style
// web-search API. Each provider applies its own per-call timeout and a
// bounded retry policy; exhausting retries surfaces as a single failure to
// the fallback dispatcher.
package providers

import (
	"net"
	"net/http"
	"time"
)

// defaultTimeout is applied when a provider is constructed with a zero
// timeout.
const defaultTimeout = 30 * time.Second

// newHTTPClient builds a pooled HTTP client for upstream calls. The
// overall deadline comes from the per-invocation context rather than the
// client, so one client can serve calls with different timeouts.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
