// Package worker runs the four stage consumers — planning, coding,
// reviewing, pr-open — that together drive a job through the state
// machine. Each worker owns the transition fired at the exit of its own
// stage. Apart from the planning worker, which fires START_PLANNING on
// entry, no worker transitions a job on entry; the predecessor worker
// already did that as its last step before enqueuing.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"codeforge/pkg/agent"
	"codeforge/pkg/fsm"
	"codeforge/pkg/limiter"
	"codeforge/pkg/logx"
	"codeforge/pkg/metrics"
	"codeforge/pkg/queue"
	"codeforge/pkg/storage"
	"codeforge/pkg/tenant"
)

// maxReviewAttempts bounds the reviewing->coding rejection loop. The
// pipeline escalates to FAILED with reasonReviewAttemptsExceeded rather
// than cycling indefinitely.
const maxReviewAttempts = 3

const reasonReviewAttemptsExceeded = "REVIEW_ATTEMPTS_EXCEEDED"

// Stage deadlines bound how long a worker waits on its agent call before
// treating the job as failed.
const (
	planningDeadline  = 15 * time.Minute
	codingDeadline    = 30 * time.Minute
	reviewingDeadline = 15 * time.Minute
	prOpenDeadline    = 5 * time.Minute
)

// concurrency is the number of messages a single worker processes in
// parallel, per queue.
const concurrency = 5

// Payload is the JSON envelope carried on every queue message. Workers
// populate only the fields relevant to their stage; unused fields travel
// as zero values.
type Payload struct {
	Type      string               `json:"type"`
	TenantID  string               `json:"tenant_id"`
	RepoID    string               `json:"repository_id"`
	IssueNum  int                  `json:"issue_number"`
	IssueTitl string               `json:"issue_title"`
	IssueBody string               `json:"issue_body"`
	IssueURL  string               `json:"issue_url"`
	Plan      *agent.PlanResult    `json:"plan,omitempty"`
	Code      *agent.CodeResult    `json:"code,omitempty"`
	Review    *agent.ReviewResult  `json:"review,omitempty"`
	Attempts  int                  `json:"attempts"`
}

// PRCollaborator is the external pull-request-opening boundary invoked by
// the pr-open worker. A production binding lives in pkg/forge.
type PRCollaborator interface {
	OpenPullRequest(ctx context.Context, jc agent.JobContext, code agent.CodeResult) (prNumber int, prURL string, err error)
}

// Worker consumes one queue's stage and drives a job's next transition.
type Worker struct {
	stage   string
	queue   *queue.Queue
	storage *storage.TenantClient
	agent   agent.IAgent
	forge   PRCollaborator
	budget  *limiter.Limiter
	metrics *metrics.PipelineRecorder
	log     *logx.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// New builds the worker for stage, reading from q and transitioning jobs
// via client. forge may be nil for every stage except pr-open. budget and
// rec are both optional (nil is a valid, fully-functional zero value): a
// nil budget skips quota enforcement and a nil rec skips metrics.
func New(stage string, q *queue.Queue, client *storage.TenantClient, ag agent.IAgent, forge PRCollaborator, budget *limiter.Limiter, rec *metrics.PipelineRecorder) *Worker {
	return &Worker{
		stage:   stage,
		queue:   q,
		storage: client,
		agent:   ag,
		forge:   forge,
		budget:  budget,
		metrics: rec,
		log:     logx.NewLogger("worker." + stage),
		stop:    make(chan struct{}),
	}
}

// Run starts concurrency parallel dequeue loops and blocks until ctx is
// cancelled or Stop is called, then waits for in-flight handlers to drain.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
	w.wg.Wait()
}

// Stop signals all loops to exit after their current handler completes.
func (w *Worker) Stop() {
	close(w.stop)
}

// Wait blocks until every loop goroutine has exited, i.e. until the
// worker's in-flight handlers have drained. Safe to call concurrently with
// Run, and from more than one caller.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		msg, ok, err := w.queue.Dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("dequeue: %v", err)
			continue
		}
		if !ok {
			continue
		}
		w.handle(ctx, msg)
	}
}

func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	var payload Payload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		w.log.Error("malformed payload for job %s: %v", msg.ID, err)
		return
	}

	scoped := tenant.WithScope(ctx, tenant.Scope{TenantID: payload.TenantID})
	if err := w.process(scoped, msg.ID, payload); err != nil {
		w.log.Error("stage %s failed for job %s: %v, retrying", w.stage, msg.ID, err)
		if retried, rerr := w.queue.Retry(ctx, msg); rerr != nil {
			w.log.Error("retry enqueue failed for job %s: %v", msg.ID, rerr)
		} else if !retried {
			w.log.Error("job %s exhausted retries on stage %s", msg.ID, w.stage)
		}
		return
	}
	if cerr := w.queue.Complete(ctx, msg); cerr != nil {
		w.log.Error("mark complete failed for job %s: %v", msg.ID, cerr)
	}
}

func (w *Worker) process(ctx context.Context, jobID string, payload Payload) error {
	current, err := w.storage.GetCurrentState(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if fsm.IsTerminal(current) {
		w.log.Debug("job %s already terminal (%s), abandoning stage %s", jobID, current, w.stage)
		return nil
	}

	jc := agent.JobContext{
		JobID:        jobID,
		TenantID:     payload.TenantID,
		RepositoryID: payload.RepoID,
		IssueNumber:  payload.IssueNum,
		IssueTitle:   payload.IssueTitl,
		IssueBody:    payload.IssueBody,
		IssueURL:     payload.IssueURL,
	}

	switch w.stage {
	case queue.Planning:
		return w.runPlanning(ctx, jobID, jc)
	case queue.Coding:
		return w.runCoding(ctx, jobID, jc, payload)
	case queue.Reviewing:
		return w.runReviewing(ctx, jobID, jc, payload)
	case queue.PROpen:
		return w.runPROpen(ctx, jobID, jc, payload)
	default:
		return fmt.Errorf("unknown stage %q", w.stage)
	}
}

func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// failedAtByEvent names the stage each failure event is fired from; failJob
// records it as metadata.failedAt.
var failedAtByEvent = map[fsm.Event]fsm.State{
	fsm.PlanFailed:   fsm.Planning,
	fsm.CodeFailed:   fsm.Coding,
	fsm.ReviewFailed: fsm.Reviewing,
	fsm.PRFailed:     fsm.PROpen,
}

func failJob(ctx context.Context, client *storage.TenantClient, jobID string, event fsm.Event, reason string) error {
	_, err := client.Transition(ctx, jobID, event, map[string]any{
		"errorDetails": reason,
		"failedAt":     string(failedAtByEvent[event]),
	})
	return err
}

// checkBudget enforces the tenant's monthly call quota before an agent call
// starts, and refuses the call once the tenant's recorded token usage is
// already past its token quota. A nil budget (no vault-backed plan wired in)
// always allows the call through.
func (w *Worker) checkBudget(tenantID string) error {
	if w.budget == nil {
		return nil
	}
	if err := w.budget.ReserveTokens(tenantID, 0); err != nil {
		return err
	}
	return w.budget.ReserveCall(tenantID)
}

// chargeTokens records actual token consumption from an agent call's result
// metadata against the tenant's monthly token quota and the tokens-total
// metric. It is charged after the call completes, since only the
// provider's response carries real usage; a call that pushes a tenant over
// quota is still allowed to complete, but the tenant's next checkBudget
// call will see the overage.
func (w *Worker) chargeTokens(tenantID string, meta map[string]any) {
	if meta == nil {
		return
	}
	model, _ := meta["model"].(string)
	promptTokens, _ := meta["prompt_tokens"].(int)
	completionTokens, _ := meta["completion_tokens"].(int)

	if w.metrics != nil {
		w.metrics.ObserveTokens(tenantID, model, promptTokens, completionTokens)
	}

	if w.budget == nil {
		return
	}
	used, ok := meta["tokens_used"].(int)
	if !ok || used == 0 {
		return
	}
	if err := w.budget.ReserveTokens(tenantID, int64(used)); err != nil {
		w.log.Warn("tenant %s: %v", tenantID, err)
		// The tokens are already spent; record them anyway so the overage
		// is what the next checkBudget sees.
		_ = w.budget.Adjust(tenantID, int64(used))
	}
}

// observe records a completed agent call's duration and outcome, and is a
// no-op when no recorder was wired in.
func (w *Worker) observe(tenantID, outcome string, started time.Time) {
	if w.metrics == nil {
		return
	}
	w.metrics.ObserveStage(w.stage, tenantID, outcome, time.Since(started))
}

// observeTransition records a completed state transition, and is a no-op
// when no recorder was wired in.
func (w *Worker) observeTransition(event fsm.Event, to fsm.State) {
	if w.metrics == nil {
		return
	}
	w.metrics.ObserveTransition(string(event), string(to))
}
