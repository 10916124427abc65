// Package queue binds the orchestration core's abstract queue substrate
// (named FIFO-with-retry queues between pipeline stages) to Redis, grounded
// on the pipelined sorted-set idioms used elsewhere in the example corpus
// for sliding-window rate limiting. The same pattern backs two distinct
// uses here: a delayed-retry scheduler (see Retry) and the per-queue
// dequeue throughput cap (see allowDequeue).
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"codeforge/pkg/logx"
)

var log = logx.NewLogger("queue")

// ErrClosed describes a queue whose broker connection has been released by
// Close. No operation in this package returns it.
var ErrClosed = fmt.Errorf("queue: broker connection closed")

// brokerURL is set once by Configure and read by every lazily-created
// Queue; it is deliberately not read at package init so tests can start the
// broker after the package is imported.
var (
	brokerURL   string
	brokerMu    sync.RWMutex
	retryConfig = DefaultRetryConfig
)

// Configure sets the Redis connection string used by every queue opened
// after this call. It does not itself open a connection — that happens
// lazily on first Get, per the lazy-initialization requirement.
func Configure(redisURL string) {
	brokerMu.Lock()
	defer brokerMu.Unlock()
	brokerURL = redisURL
}

// ConfigureRetry overrides the substrate-wide retry policy. Exposed for
// tests that want a faster backoff than the 2 s production default.
func ConfigureRetry(cfg RetryConfig) {
	brokerMu.Lock()
	defer brokerMu.Unlock()
	retryConfig = cfg
}

// Queue is one named FIFO-with-retry queue bound to a stage.
type Queue struct {
	name   string
	client *redis.Client
	retry  RetryConfig
}

var (
	instances   = map[string]*Queue{}
	instancesMu sync.Mutex
)

// Get returns the named queue, opening its broker connection on first
// access and caching the instance in the process-wide map thereafter.
// Subsequent calls with the same name return the cached instance.
func Get(name string) (*Queue, error) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if q, ok := instances[name]; ok {
		return q, nil
	}

	brokerMu.RLock()
	url := brokerURL
	retry := retryConfig
	brokerMu.RUnlock()
	if url == "" {
		return nil, fmt.Errorf("queue: Configure must be called before first use of queue %q", name)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("queue: parse broker url: %w", err)
	}

	q := &Queue{name: name, client: redis.NewClient(opts), retry: retry}
	instances[name] = q
	log.Info("queue %s: broker connection opened", name)
	return q, nil
}

// ResetInstances clears the process-wide instance map without closing
// connections: lets a test restart the broker, or lifecycle's Stop finish a
// shutdown, and have the next Get return a fresh instance rather than a
// stale cached one.
func ResetInstances() {
	instancesMu.Lock()
	defer instancesMu.Unlock()
	instances = map[string]*Queue{}
}

func (q *Queue) readyKey() string   { return fmt.Sprintf("codeforge:queue:%s:ready", q.name) }
func (q *Queue) delayedKey() string { return fmt.Sprintf("codeforge:queue:%s:delayed", q.name) }
func (q *Queue) failedKey() string  { return fmt.Sprintf("codeforge:queue:%s:failed", q.name) }
func (q *Queue) doneKey() string    { return fmt.Sprintf("codeforge:queue:%s:done", q.name) }
func (q *Queue) rateKey() string    { return fmt.Sprintf("codeforge:queue:%s:ratelimit", q.name) }
func (q *Queue) dedupKey(id string) string {
	return fmt.Sprintf("codeforge:queue:%s:dedup:%s", q.name, id)
}

// dequeueRateLimit caps how many dequeue attempts a single queue admits per
// second, independent of how many worker goroutines are polling it
// concurrently. An admitted attempt counts even when the ready list turns
// out to be empty.
const dequeueRateLimit = 10

// dequeueRateWindow is the sliding window the limit above applies over.
const dequeueRateWindow = time.Second

// rateLimitBackoff is how long Dequeue waits before telling the caller
// nothing was ready when the rate limiter, not an empty ready list, is what
// blocked the pop — short enough that a worker's poll loop doesn't stall
// noticeably once the window opens back up.
const rateLimitBackoff = 100 * time.Millisecond

// allowDequeue reports whether this queue is under its per-second dequeue
// budget, recording this attempt against the window in the same pipeline
// that checks it. The sliding window is a Redis sorted set keyed by
// nanosecond timestamp: expired entries are evicted, the remaining count is
// read, and this attempt is recorded, all in one round trip so concurrent
// pollers can't race past the limit between a read and a write. A refused
// attempt is removed from the window again, so pollers backing off do not
// keep the window full.
func (q *Queue) allowDequeue(ctx context.Context) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-dequeueRateWindow).UnixNano()

	member := now.UnixNano()
	pipe := q.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, q.rateKey(), "0", fmt.Sprintf("%d", windowStart))
	count := pipe.ZCard(ctx, q.rateKey())
	pipe.ZAdd(ctx, q.rateKey(), redis.Z{Score: float64(member), Member: member})
	pipe.Expire(ctx, q.rateKey(), dequeueRateWindow+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("queue %s: rate limit check: %w", q.name, err)
	}

	if count.Val() >= dequeueRateLimit {
		if err := q.client.ZRem(ctx, q.rateKey(), member).Err(); err != nil {
			return false, fmt.Errorf("queue %s: rate limit release: %w", q.name, err)
		}
		return false, nil
	}
	return true, nil
}

// dedupTTL bounds how long an enqueue dedup marker is honored; long enough
// to cover a crash-and-restart re-enqueue, short enough not to leak memory
// across the queue's lifetime.
const dedupTTL = 24 * time.Hour

// Enqueue pushes msg onto the ready list, unless a message with the same id
// is still waiting on this queue (enqueued within dedupTTL and not yet
// dequeued), in which case the call is a no-op — the idempotency-on-enqueue
// guarantee.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	set, err := q.client.SetNX(ctx, q.dedupKey(msg.ID), 1, dedupTTL).Result()
	if err != nil {
		return fmt.Errorf("queue %s: dedup check: %w", q.name, err)
	}
	if !set {
		log.Debug("queue %s: enqueue of %s collapsed by dedup key", q.name, msg.ID)
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue %s: marshal message: %w", q.name, err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), body).Err(); err != nil {
		return fmt.Errorf("queue %s: push: %w", q.name, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next ready message. ok == false with
// a nil error means the timeout elapsed with nothing ready, which is also
// what callers see when a message was waiting but the queue's per-second
// dequeue budget was already spent — Dequeue does not pop in that case, so
// the message is still on the ready list for the next poll.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	allowed, err := q.allowDequeue(ctx)
	if err != nil {
		return Message{}, false, err
	}
	if !allowed {
		select {
		case <-ctx.Done():
			return Message{}, false, ctx.Err()
		case <-time.After(rateLimitBackoff):
		}
		return Message{}, false, nil
	}

	res, err := q.client.BRPop(ctx, timeout, q.readyKey()).Result()
	if err == redis.Nil {
		return Message{}, false, nil
	}
	if err != nil {
		return Message{}, false, fmt.Errorf("queue %s: dequeue: %w", q.name, err)
	}

	// BRPop returns [key, value]; the payload is res[1].
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return Message{}, false, fmt.Errorf("queue %s: unmarshal message: %w", q.name, err)
	}
	// The message has left the ready list, so its dedup marker has nothing
	// left to collapse into; clearing it lets a later stage send the same job
	// back to this queue (the review-rejection loop re-enters coding this way).
	if err := q.client.Del(ctx, q.dedupKey(msg.ID)).Err(); err != nil {
		log.Warn("queue %s: clear dedup key for %s: %v", q.name, msg.ID, err)
	}
	return msg, true, nil
}

// Retry schedules msg for redelivery under the substrate's backoff policy,
// or moves it to the failed pool once attempts are exhausted. It returns
// true if the message will be retried, false if it was exhausted.
func (q *Queue) Retry(ctx context.Context, msg Message) (bool, error) {
	msg.Attempt++
	if msg.Attempt > q.retry.MaxAttempts {
		if err := q.moveToFailed(ctx, msg); err != nil {
			return false, err
		}
		return false, nil
	}

	// msg.Attempt counts retries (0 on the original delivery), while
	// CalculateDelay numbers deliveries with the original as 1.
	delay := q.retry.CalculateDelay(msg.Attempt + 1)
	dueAt := time.Now().Add(delay).UnixNano()

	body, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("queue %s: marshal retry: %w", q.name, err)
	}
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(dueAt), Member: body}).Err(); err != nil {
		return false, fmt.Errorf("queue %s: schedule retry: %w", q.name, err)
	}
	return true, nil
}

func (q *Queue) moveToFailed(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue %s: marshal failed message: %w", q.name, err)
	}
	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(time.Now().UnixNano()), Member: body})
	// Failed messages are retained 7 days; trim anything older on each insert.
	cutoff := time.Now().Add(-7 * 24 * time.Hour).UnixNano()
	pipe.ZRemRangeByScore(ctx, q.failedKey(), "0", fmt.Sprintf("%d", cutoff))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue %s: move to failed pool: %w", q.name, err)
	}
	return nil
}

// Complete records msg as done, trimming the retention pool to the last
// 1000 entries within 24 h, per the substrate's retention policy.
func (q *Queue) Complete(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue %s: marshal completed message: %w", q.name, err)
	}
	now := time.Now()
	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, q.doneKey(), redis.Z{Score: float64(now.UnixNano()), Member: body})
	pipe.ZRemRangeByScore(ctx, q.doneKey(), "0", fmt.Sprintf("%d", now.Add(-24*time.Hour).UnixNano()))
	pipe.ZRemRangeByRank(ctx, q.doneKey(), 0, -1001) // keep at most the most recent 1000
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue %s: record completion: %w", q.name, err)
	}
	return nil
}

// SweepDelayed moves every delayed message whose due time has elapsed back
// onto the ready list. Callers run this on an interval (see Sweeper).
func (q *Queue) SweepDelayed(ctx context.Context) (int, error) {
	now := fmt.Sprintf("%d", time.Now().UnixNano())
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "0", Max: now}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue %s: scan delayed: %w", q.name, err)
	}
	for _, member := range due {
		pipe := q.client.Pipeline()
		pipe.LPush(ctx, q.readyKey(), member)
		pipe.ZRem(ctx, q.delayedKey(), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("queue %s: requeue delayed: %w", q.name, err)
		}
	}
	return len(due), nil
}

// Depth reports the number of messages currently waiting on the ready list,
// for the metrics gauge a caller polls on an interval.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", q.name, err)
	}
	return n, nil
}

// Close releases this queue's broker connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
