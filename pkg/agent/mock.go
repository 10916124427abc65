package agent

import (
	"context"
	"fmt"
	"time"
)

// MockAgent implements IAgent deterministically for tests: it produces
// stable, context-derived outputs and can be configured to simulate delay
// or failure at any stage, matching the literal end-to-end scenarios the
// core's test suite exercises.
type MockAgent struct {
	// Delay is applied before every call, simulating a real agent's latency.
	Delay time.Duration

	// FailPlanning, FailCoding, FailReviewing force the corresponding
	// operation to return an error instead of a result.
	FailPlanning  bool
	FailCoding    bool
	FailReviewing bool

	// RejectReview forces Review to return Approved: false.
	RejectReview bool
}

// NewMockAgent returns a MockAgent with no injected delay or failures.
func NewMockAgent() *MockAgent {
	return &MockAgent{}
}

func (m *MockAgent) sleep(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.Delay):
		return nil
	}
}

// Plan returns a stable plan referencing the issue number so tests can
// assert on it.
func (m *MockAgent) Plan(ctx context.Context, jc JobContext) (PlanResult, error) {
	if err := m.sleep(ctx); err != nil {
		return PlanResult{}, err
	}
	if m.FailPlanning {
		return PlanResult{}, fmt.Errorf("mock agent: forced planning failure for issue #%d", jc.IssueNumber)
	}
	return PlanResult{
		Summary:             fmt.Sprintf("Plan for issue #%d: %s", jc.IssueNumber, jc.IssueTitle),
		Steps:                []string{"analyze issue", "draft change", "verify"},
		FilesChanged:        []string{fmt.Sprintf("issue-%d.patch", jc.IssueNumber)},
		EstimatedComplexity: ComplexityLow,
		Metadata:            map[string]any{"mock": true, "issueNumber": jc.IssueNumber},
	}, nil
}

// Code returns a stable single-file change derived from plan.
func (m *MockAgent) Code(ctx context.Context, jc JobContext, plan PlanResult) (CodeResult, error) {
	if err := m.sleep(ctx); err != nil {
		return CodeResult{}, err
	}
	if m.FailCoding {
		return CodeResult{}, fmt.Errorf("mock agent: forced coding failure for issue #%d", jc.IssueNumber)
	}
	return CodeResult{
		Changes: []FileChange{
			{Path: fmt.Sprintf("issue-%d.patch", jc.IssueNumber), Operation: OpCreate, Content: plan.Summary},
		},
		CommitMessage: fmt.Sprintf("Fix #%d: %s", jc.IssueNumber, jc.IssueTitle),
		Branch:        fmt.Sprintf("codeforge/issue-%d", jc.IssueNumber),
		Metadata:      map[string]any{"mock": true},
	}, nil
}

// Review approves unless configured otherwise.
func (m *MockAgent) Review(ctx context.Context, jc JobContext, plan PlanResult, code CodeResult) (ReviewResult, error) {
	if err := m.sleep(ctx); err != nil {
		return ReviewResult{}, err
	}
	if m.FailReviewing {
		return ReviewResult{}, fmt.Errorf("mock agent: forced review failure for issue #%d", jc.IssueNumber)
	}
	if m.RejectReview {
		return ReviewResult{
			Approved:     false,
			Feedback:     "mock agent: rejecting for retry",
			QualityScore: 40,
			Metadata:     map[string]any{"mock": true},
		}, nil
	}
	return ReviewResult{
		Approved:     true,
		QualityScore: 95,
		Metadata:     map[string]any{"mock": true},
	}, nil
}
