package providers

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/arqlabs/cascade/internal/tracing"
)

// RetryPolicy bounds retry behaviour for a single provider invocation.
// Retry exhaustion surfaces as one failure to the dispatcher; the retries
// themselves are invisible to the fallback chain.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a provider is constructed with a zero
// policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    30 * time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

// retryableStatus reports whether the HTTP status indicates a transient
// error that may succeed on retry.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// backoffDelay computes the delay before the given attempt using
// exponential backoff with full jitter, clamped to [0, maxDelay].
func backoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay > 0 {
		delay = time.Duration(rand.Int63n(int64(delay)))
	}
	return delay
}

// sleepCtx sleeps for d, returning early with ctx.Err() if the context
// ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// retryAfter parses a Retry-After header as either seconds or an
// HTTP-date. It returns 0 when absent or unparsable.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// maxResponseBytes caps how much of an upstream response body is read.
const maxResponseBytes = 10 << 20 // 10 MB

// doWithRetry executes the request produced by build until it gets a
// 2xx response, a non-retryable error status, or the policy is exhausted.
// build must return a fresh request on every call since bodies are
// consumed per attempt. On success it returns the response body.
func doWithRetry(ctx context.Context, client *http.Client, policy RetryPolicy, logger zerolog.Logger, build func() (*http.Request, error)) ([]byte, error) {
	policy = policy.normalized()

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoffDelay(attempt-1, policy.BaseDelay, policy.MaxDelay)); err != nil {
				return nil, err
			}
		}

		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		tracing.InjectHeaders(ctx, req)
		spanCtx, span := tracing.StartUpstreamSpan(ctx, req.URL.String(), req.URL.Host)

		resp, err := client.Do(req.WithContext(spanCtx))
		if err != nil {
			tracing.RecordError(spanCtx, err)
			span.End()
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("upstream request error, retrying")
			continue
		}

		if retryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			ra := retryAfter(resp)
			_ = resp.Body.Close()
			tracing.RecordError(spanCtx, lastErr)
			span.End()
			logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("retryable upstream status")
			if ra > 0 {
				if err := sleepCtx(ctx, ra); err != nil {
					return nil, err
				}
			}
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		span.End()
		if err != nil {
			lastErr = fmt.Errorf("reading upstream response: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Non-transient error status: no point retrying.
			return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, truncateBody(body, 200))
		}
		return body, nil
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// truncateBody trims an error body for inclusion in an error message.
func truncateBody(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
