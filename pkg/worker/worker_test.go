package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"

	"codeforge/pkg/agent"
	"codeforge/pkg/fsm"
	"codeforge/pkg/queue"
	"codeforge/pkg/storage"
	"codeforge/pkg/tenant"
)

func setupTestBroker(t *testing.T) {
	t.Helper()
	client := redisclient.NewClient(&redisclient.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	client.FlushDB(ctx)

	queue.Configure("redis://localhost:6379/15")
	queue.ConfigureRetry(queue.RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2.0})
	queue.ResetInstances()

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		queue.ResetInstances()
	})
}

type fakeForge struct{}

func (fakeForge) OpenPullRequest(_ context.Context, _ agent.JobContext, _ agent.CodeResult) (int, string, error) {
	return 42, "https://example.invalid/pr/42", nil
}

func setupTestStorage(t *testing.T) *storage.TenantClient {
	t.Helper()
	db, err := storage.Open(t.TempDir() + "/worker_test.db")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Conn().Close() })

	raw := storage.NewRawClient(db)
	if err := raw.CreatePlan(&storage.Plan{ID: storage.NewID(), Name: "test-plan"}); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	plan, err := raw.GetPlanByName("test-plan")
	if err != nil {
		t.Fatalf("GetPlanByName: %v", err)
	}
	tenantRow := &storage.Tenant{
		ID:                    storage.NewID(),
		GithubInstallationID:  1,
		GithubAccountLogin:    "tenant-a",
		InstallationStatus:    storage.InstallationActive,
		PlanID:                plan.ID,
	}
	if err := raw.CreateTenant(tenantRow); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}

	return storage.NewTenantClient(db)
}

func startWorkers(ctx context.Context, t *testing.T, client *storage.TenantClient, ag agent.IAgent) {
	t.Helper()
	stages := []string{queue.Planning, queue.Coding, queue.Reviewing, queue.PROpen}
	for _, stage := range stages {
		q, err := queue.Get(stage)
		if err != nil {
			t.Fatalf("queue.Get(%s): %v", stage, err)
		}
		w := New(stage, q, client, ag, fakeForge{}, nil, nil)
		go w.Run(ctx)
		t.Cleanup(w.Stop)
	}
}

func createTestJob(ctx context.Context, t *testing.T, client *storage.TenantClient, tenantID string) string {
	t.Helper()
	jobID := storage.NewID()
	if err := client.InsertJob(ctx, &storage.Job{ID: jobID, Status: string(fsm.Queued)}); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}

	q, err := queue.Get(queue.Planning)
	if err != nil {
		t.Fatalf("queue.Get(planning): %v", err)
	}
	payload := Payload{
		Type:      "queued",
		TenantID:  tenantID,
		IssueNum:  123,
		IssueTitl: "Test Issue",
		IssueBody: "fix the thing",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := q.Enqueue(ctx, queue.Message{ID: jobID, Payload: body}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return jobID
}

func TestFullPipelineHappyPath(t *testing.T) {
	setupTestBroker(t)
	client := setupTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startWorkers(ctx, t, client, agent.NewMockAgent())

	scoped := tenant.WithScope(ctx, tenant.Scope{TenantID: "tenant-a"})
	jobID := createTestJob(scoped, t, client, "tenant-a")

	deadline := time.Now().Add(30 * time.Second)
	var last fsm.State
	for time.Now().Before(deadline) {
		state, err := client.GetCurrentState(scoped, jobID)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		last = state
		if fsm.IsTerminal(state) {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if last != fsm.Completed {
		t.Fatalf("final state = %s, want %s", last, fsm.Completed)
	}

	transitions, err := client.ListTransitions(scoped, jobID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	seen := map[fsm.State]bool{}
	for _, tr := range transitions {
		seen[fsm.State(tr.ToStatus)] = true
	}
	for _, want := range []fsm.State{fsm.Planning, fsm.Coding, fsm.Reviewing, fsm.PROpen, fsm.Completed} {
		if !seen[want] {
			t.Errorf("transition history missing state %s", want)
		}
	}
}

func TestPipelinePlanningFailure(t *testing.T) {
	setupTestBroker(t)
	client := setupTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := agent.NewMockAgent()
	mock.FailPlanning = true
	startWorkers(ctx, t, client, mock)

	scoped := tenant.WithScope(ctx, tenant.Scope{TenantID: "tenant-a"})
	jobID := createTestJob(scoped, t, client, "tenant-a")

	deadline := time.Now().Add(10 * time.Second)
	var last fsm.State
	for time.Now().Before(deadline) {
		state, err := client.GetCurrentState(scoped, jobID)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		last = state
		if fsm.IsTerminal(state) {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if last != fsm.Failed {
		t.Fatalf("final state = %s, want %s", last, fsm.Failed)
	}

	job, err := client.GetJob(scoped, jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Metadata == "" || job.Metadata == "{}" {
		t.Error("expected errorDetails/failedAt recorded in metadata")
	}
}

func TestPipelineReviewRejectionLoopBounded(t *testing.T) {
	setupTestBroker(t)
	client := setupTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock := agent.NewMockAgent()
	mock.RejectReview = true
	startWorkers(ctx, t, client, mock)

	scoped := tenant.WithScope(ctx, tenant.Scope{TenantID: "tenant-a"})
	jobID := createTestJob(scoped, t, client, "tenant-a")

	deadline := time.Now().Add(15 * time.Second)
	var last fsm.State
	for time.Now().Before(deadline) {
		state, err := client.GetCurrentState(scoped, jobID)
		if err != nil {
			t.Fatalf("GetCurrentState: %v", err)
		}
		last = state
		if fsm.IsTerminal(state) {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	if last != fsm.Failed {
		t.Fatalf("final state = %s, want %s (rejection loop must terminate)", last, fsm.Failed)
	}

	transitions, err := client.ListTransitions(scoped, jobID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	rejections := 0
	for _, tr := range transitions {
		if tr.Event == string(fsm.ReviewRejected) {
			rejections++
		}
	}
	if rejections == 0 {
		t.Error("expected at least one REVIEWING -> CODING rejection transition")
	}
	if rejections > maxReviewAttempts {
		t.Errorf("rejection loop ran %d times, exceeding cap %d", rejections, maxReviewAttempts)
	}
}
