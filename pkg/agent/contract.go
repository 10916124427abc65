// Package agent defines the pluggable capability contract the pipeline
// calls into at each stage: plan, code, review. Implementations never touch
// core state — they are pure with respect to storage, the queue, and the
// state machine; the calling worker is solely responsible for translating
// an agent failure into the stage's *_FAILED event.
package agent

import "context"

// Complexity is PlanResult's coarse estimate of how much work a plan
// represents.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ChangeOperation classifies one file change within a CodeResult.
type ChangeOperation string

const (
	OpCreate ChangeOperation = "create"
	OpUpdate ChangeOperation = "update"
	OpDelete ChangeOperation = "delete"
)

// JobContext carries everything an agent operation needs to know about the
// job it is working on. It never carries a storage handle, queue handle, or
// anything else that would let an agent reach back into core state.
type JobContext struct {
	JobID        string
	TenantID     string
	RepositoryID string
	IssueNumber  int
	IssueTitle   string
	IssueBody    string
	IssueURL     string
}

// PlanResult is the outcome of the planning stage.
type PlanResult struct {
	Summary             string
	Steps               []string
	FilesChanged        []string
	EstimatedComplexity Complexity
	Metadata            map[string]any
}

// FileChange is one file mutation within a CodeResult.
type FileChange struct {
	Path            string
	Operation       ChangeOperation
	Content         string
	OriginalContent string
}

// CodeResult is the outcome of the coding stage.
type CodeResult struct {
	Changes       []FileChange
	CommitMessage string
	Branch        string
	Metadata      map[string]any
}

// ReviewResult is the outcome of the review stage.
type ReviewResult struct {
	Approved         bool
	Feedback         string
	SuggestedChanges []string
	SecurityIssues   []string
	QualityScore     int
	Metadata         map[string]any
}

// IAgent is the capability set swappable behind every stage worker. The
// core depends only on this interface; a production binding fronting real
// LLM calls lives in pkg/agentadapter and is never imported by the core
// packages (storage, fsm, queue, worker) themselves.
type IAgent interface {
	Plan(ctx context.Context, jc JobContext) (PlanResult, error)
	Code(ctx context.Context, jc JobContext, plan PlanResult) (CodeResult, error)
	Review(ctx context.Context, jc JobContext, plan PlanResult, code CodeResult) (ReviewResult, error)
}
