package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"codeforge/pkg/agent"
	"codeforge/pkg/fsm"
	"codeforge/pkg/queue"
)

// runPlanning owns the QUEUED -> PLANNING transition: it is the only
// stage worker that transitions on entry, because it is adjacent to the
// producer rather than to another worker's exit transition.
func (w *Worker) runPlanning(ctx context.Context, jobID string, jc agent.JobContext) error {
	if state, err := w.storage.Transition(ctx, jobID, fsm.StartPlanning, nil); err != nil {
		return fmt.Errorf("start planning: %w", err)
	} else {
		w.observeTransition(fsm.StartPlanning, state)
	}

	if err := w.checkBudget(jc.TenantID); err != nil {
		if ferr := failJob(ctx, w.storage, jobID, fsm.PlanFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}

	dctx, cancel := withDeadline(ctx, planningDeadline)
	defer cancel()

	started := time.Now()
	plan, err := w.agent.Plan(dctx, jc)
	if err != nil {
		w.observe(jc.TenantID, "error", started)
		if ferr := failJob(ctx, w.storage, jobID, fsm.PlanFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}
	w.observe(jc.TenantID, "success", started)
	w.chargeTokens(jc.TenantID, plan.Metadata)

	if state, err := w.storage.Transition(ctx, jobID, fsm.PlanSucceeded, nil); err != nil {
		return fmt.Errorf("plan succeeded transition: %w", err)
	} else {
		w.observeTransition(fsm.PlanSucceeded, state)
	}

	next := Payload{
		Type:      "planned",
		TenantID:  jc.TenantID,
		RepoID:    jc.RepositoryID,
		IssueNum:  jc.IssueNumber,
		IssueTitl: jc.IssueTitle,
		IssueBody: jc.IssueBody,
		IssueURL:  jc.IssueURL,
		Plan:      &plan,
		Attempts:  0,
	}
	return w.enqueueNext(ctx, queue.Coding, jobID, next)
}

// runCoding handles entry from either the planning worker or a review
// rejection; in both cases the job is already in CODING, so this worker
// does not transition on entry.
func (w *Worker) runCoding(ctx context.Context, jobID string, jc agent.JobContext, payload Payload) error {
	if payload.Plan == nil {
		return fmt.Errorf("coding stage: payload missing plan for job %s", jobID)
	}

	if err := w.checkBudget(jc.TenantID); err != nil {
		if ferr := failJob(ctx, w.storage, jobID, fsm.CodeFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}

	dctx, cancel := withDeadline(ctx, codingDeadline)
	defer cancel()

	started := time.Now()
	code, err := w.agent.Code(dctx, jc, *payload.Plan)
	if err != nil {
		w.observe(jc.TenantID, "error", started)
		if ferr := failJob(ctx, w.storage, jobID, fsm.CodeFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}
	w.observe(jc.TenantID, "success", started)
	w.chargeTokens(jc.TenantID, code.Metadata)

	if state, err := w.storage.Transition(ctx, jobID, fsm.CodeSucceeded, nil); err != nil {
		return fmt.Errorf("code succeeded transition: %w", err)
	} else {
		w.observeTransition(fsm.CodeSucceeded, state)
	}

	next := payload
	next.Type = "coded"
	next.Code = &code
	return w.enqueueNext(ctx, queue.Reviewing, jobID, next)
}

// runReviewing handles entry already in REVIEWING. A rejected review
// re-enters coding with attempts incremented; once attempts exceeds
// maxReviewAttempts the job fails with a distinct reason instead of
// looping indefinitely.
func (w *Worker) runReviewing(ctx context.Context, jobID string, jc agent.JobContext, payload Payload) error {
	if payload.Plan == nil || payload.Code == nil {
		return fmt.Errorf("reviewing stage: payload missing plan/code for job %s", jobID)
	}

	if err := w.checkBudget(jc.TenantID); err != nil {
		if ferr := failJob(ctx, w.storage, jobID, fsm.ReviewFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}

	dctx, cancel := withDeadline(ctx, reviewingDeadline)
	defer cancel()

	started := time.Now()
	review, err := w.agent.Review(dctx, jc, *payload.Plan, *payload.Code)
	if err != nil {
		w.observe(jc.TenantID, "error", started)
		if ferr := failJob(ctx, w.storage, jobID, fsm.ReviewFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}
	w.observe(jc.TenantID, "success", started)
	w.chargeTokens(jc.TenantID, review.Metadata)

	if review.Approved {
		if state, err := w.storage.Transition(ctx, jobID, fsm.ReviewApproved, nil); err != nil {
			return fmt.Errorf("review approved transition: %w", err)
		} else {
			w.observeTransition(fsm.ReviewApproved, state)
		}
		next := payload
		next.Type = "reviewed"
		next.Review = &review
		return w.enqueueNext(ctx, queue.PROpen, jobID, next)
	}

	attempts := payload.Attempts + 1
	if attempts > maxReviewAttempts {
		if ferr := failJob(ctx, w.storage, jobID, fsm.ReviewFailed, reasonReviewAttemptsExceeded); ferr != nil {
			return ferr
		}
		return nil
	}

	if state, err := w.storage.Transition(ctx, jobID, fsm.ReviewRejected, nil); err != nil {
		return fmt.Errorf("review rejected transition: %w", err)
	} else {
		w.observeTransition(fsm.ReviewRejected, state)
	}
	next := payload
	next.Type = "rejected"
	next.Attempts = attempts
	return w.enqueueNext(ctx, queue.Coding, jobID, next)
}

// runPROpen handles entry already in PR_OPEN and invokes the external
// pull-request collaborator.
func (w *Worker) runPROpen(ctx context.Context, jobID string, jc agent.JobContext, payload Payload) error {
	if payload.Code == nil {
		return fmt.Errorf("pr-open stage: payload missing code for job %s", jobID)
	}
	if w.forge == nil {
		return fmt.Errorf("pr-open stage: no PR collaborator configured")
	}

	dctx, cancel := withDeadline(ctx, prOpenDeadline)
	defer cancel()

	prNumber, prURL, err := w.forge.OpenPullRequest(dctx, jc, *payload.Code)
	if err != nil {
		if ferr := failJob(ctx, w.storage, jobID, fsm.PRFailed, err.Error()); ferr != nil {
			return ferr
		}
		return nil
	}

	state, err := w.storage.Transition(ctx, jobID, fsm.PROpened, map[string]any{
		"prNumber": prNumber,
		"prUrl":    prURL,
	})
	if err != nil {
		return fmt.Errorf("pr opened transition: %w", err)
	}
	w.observeTransition(fsm.PROpened, state)
	return nil
}

func (w *Worker) enqueueNext(ctx context.Context, stage string, jobID string, payload Payload) error {
	q, err := queue.Get(stage)
	if err != nil {
		return fmt.Errorf("get queue %s: %w", stage, err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", stage, err)
	}
	return q.Enqueue(ctx, queue.Message{ID: jobID, Payload: body})
}
