package queue

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func setupTestBroker(t *testing.T) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.FlushDB(ctx)

	Configure("redis://localhost:6379/15")
	ConfigureRetry(RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, BackoffFactor: 2.0})
	ResetInstances()

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		ResetInstances()
	})
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	setupTestBroker(t)

	q, err := Get("planning")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := q.Enqueue(context.Background(), Message{ID: "job-1", Payload: []byte(`{"x":1}`)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg, ok, err := q.Dequeue(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if !ok {
		t.Fatal("expected a message, got none")
	}
	if msg.ID != "job-1" {
		t.Errorf("ID = %q, want job-1", msg.ID)
	}
}

func TestEnqueueDedupCollapsesDoubleEnqueue(t *testing.T) {
	setupTestBroker(t)

	q, err := Get("coding")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	msg := Message{ID: "job-2", Payload: []byte(`{}`)}
	if err := q.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := q.Enqueue(context.Background(), msg); err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	_, ok, err := q.Dequeue(context.Background(), time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first message, ok=%v err=%v", ok, err)
	}

	_, ok, err = q.Dequeue(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if ok {
		t.Error("expected no second message, double-enqueue was not collapsed")
	}
}

func TestRetryExhaustionMovesToFailedPool(t *testing.T) {
	setupTestBroker(t)

	q, err := Get("reviewing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	msg := Message{ID: "job-3", Payload: []byte(`{}`), Attempt: 3}
	retried, err := q.Retry(context.Background(), msg)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried {
		t.Error("expected attempts exhausted, got retried=true")
	}
}

func TestSweepDelayedRequeuesDueMessages(t *testing.T) {
	setupTestBroker(t)

	q, err := Get("pr-open")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	msg := Message{ID: "job-4", Payload: []byte(`{}`), Attempt: 0}
	retried, err := q.Retry(context.Background(), msg)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !retried {
		t.Fatal("expected message to be scheduled for retry")
	}

	time.Sleep(20 * time.Millisecond)

	n, err := q.SweepDelayed(context.Background())
	if err != nil {
		t.Fatalf("SweepDelayed: %v", err)
	}
	if n != 1 {
		t.Fatalf("SweepDelayed requeued %d messages, want 1", n)
	}

	_, ok, err := q.Dequeue(context.Background(), time.Second)
	if err != nil || !ok {
		t.Fatalf("expected requeued message, ok=%v err=%v", ok, err)
	}
}

func TestDequeueEnforcesPerQueueRateLimit(t *testing.T) {
	setupTestBroker(t)

	q, err := Get("coding")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	for i := 0; i < dequeueRateLimit+5; i++ {
		id := Message{ID: "job-burst", Payload: []byte(`{}`)}
		id.ID = id.ID + string(rune('a'+i))
		if err := q.Enqueue(context.Background(), id); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	allowed := 0
	for i := 0; i < dequeueRateLimit+5; i++ {
		_, ok, err := q.Dequeue(context.Background(), 10*time.Millisecond)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if ok {
			allowed++
		}
	}

	if allowed != dequeueRateLimit {
		t.Fatalf("allowed %d dequeues within the window, want %d", allowed, dequeueRateLimit)
	}
}
