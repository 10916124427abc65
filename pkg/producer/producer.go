// Package producer creates jobs and enqueues them onto the planning queue,
// the single entry point a collaborator (e.g. a GitHub webhook handler)
// uses to start the pipeline.
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"codeforge/pkg/fsm"
	"codeforge/pkg/queue"
	"codeforge/pkg/storage"
	"codeforge/pkg/worker"
)

// IssueRef identifies the source issue a job is created for.
type IssueRef struct {
	RepositoryID string
	IssueNumber  int
	IssueTitle   string
	IssueBody    string
	IssueURL     string
}

// Producer creates jobs against a tenant-scoped storage client.
type Producer struct {
	storage *storage.TenantClient
}

// New builds a Producer bound to client.
func New(client *storage.TenantClient) *Producer {
	return &Producer{storage: client}
}

// CreateJob inserts a QUEUED job row and enqueues it on the planning queue
// with the job id as message id, then returns immediately; the pipeline
// runs asynchronously from this call.
func (p *Producer) CreateJob(ctx context.Context, tenantID string, ref IssueRef) (string, error) {
	if err := p.storage.CheckPlanLimits(ctx); err != nil {
		return "", fmt.Errorf("producer: %w", err)
	}

	jobID := storage.NewID()
	job := &storage.Job{
		ID:           jobID,
		RepositoryID: ref.RepositoryID,
		Status:       string(fsm.Queued),
	}
	if err := p.storage.InsertJob(ctx, job); err != nil {
		return "", fmt.Errorf("producer: insert job: %w", err)
	}

	payload := worker.Payload{
		Type:      "queued",
		TenantID:  tenantID,
		RepoID:    ref.RepositoryID,
		IssueNum:  ref.IssueNumber,
		IssueTitl: ref.IssueTitle,
		IssueBody: ref.IssueBody,
		IssueURL:  ref.IssueURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("producer: marshal payload: %w", err)
	}

	q, err := queue.Get(queue.Planning)
	if err != nil {
		return "", fmt.Errorf("producer: get planning queue: %w", err)
	}
	if err := q.Enqueue(ctx, queue.Message{ID: jobID, Payload: body}); err != nil {
		return "", fmt.Errorf("producer: enqueue: %w", err)
	}

	return jobID, nil
}
