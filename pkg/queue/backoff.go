package queue

import (
	"math"
	"time"
)

// RetryConfig mirrors the shape of the agent middleware's retry policy
// (MaxRetries/InitialDelay/MaxDelay/BackoffFactor), adapted to the queue
// substrate's own numbers: 3 retries, 2 s initial backoff. MaxAttempts is
// the number of retries allowed after the original delivery.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig is the substrate-wide default: 3 retries after the
// original delivery, the first after a 2 s delay, doubling each retry,
// capped at 30 s.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   3,
	InitialDelay:  2 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateDelay returns the backoff delay before the given attempt number
// (1-indexed; attempt 1 is the original delivery and has no delay).
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt-2)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}
