// Package retry wraps an llm.Client with exponential-backoff retry, the
// same shape the teacher's resilience package used against its richer
// streaming client, trimmed to this package's single Complete call.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"codeforge/pkg/agent/llm"
	"codeforge/pkg/logx"
)

// Config controls backoff timing.
type Config struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultConfig matches the teacher's defaults: 3 retries, 100ms initial
// delay, 2x backoff, capped at 10s.
var DefaultConfig = Config{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
}

// Middleware builds an llm.Middleware that retries transient failures
// (timeouts, connection errors, rate limits, 5xx) with jittered
// exponential backoff, and gives up immediately on errors classified as
// non-retryable (4xx other than 429).
func Middleware(cfg Config, log *logx.Logger) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				var lastErr error
				for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
					if attempt > 0 {
						delay := backoff(cfg, attempt)
						select {
						case <-ctx.Done():
							return llm.CompletionResponse{}, ctx.Err()
						case <-time.After(delay):
						}
					}

					resp, err := next.Complete(ctx, req)
					if err == nil {
						return resp, nil
					}
					lastErr = err

					if !shouldRetry(err) {
						break
					}
					if log != nil {
						log.Debug("llm retry: attempt %d failed: %v", attempt, err)
					}
				}
				return llm.CompletionResponse{}, lastErr
			},
			next.GetModelName,
		)
	}
}

func shouldRetry(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "temporary"),
		strings.Contains(msg, "rate"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"):
		return true
	default:
		return false
	}
}

func backoff(cfg Config, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := time.Duration(float64(delay) * 0.1 * (rand.Float64()*2 - 1))
	delay += jitter
	if delay < 0 {
		delay = cfg.InitialDelay
	}
	return delay
}
