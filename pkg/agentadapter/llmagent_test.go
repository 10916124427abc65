package agentadapter

import (
	"context"
	"testing"

	"codeforge/pkg/agent"
	"codeforge/pkg/agent/llm"
)

func stubClient(content string) llm.Client {
	return llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: content}, nil
		},
		func() string { return "stub-model" },
	)
}

func TestPlanParsesJSONResponse(t *testing.T) {
	a := New(stubClient(`Sure, here you go:
{"summary": "add retry logic", "steps": ["read code", "add retry"], "files_changed": ["pkg/x.go"], "estimated_complexity": "medium"}`))

	result, err := a.Plan(context.Background(), agent.JobContext{IssueNumber: 7, IssueTitle: "flaky request"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if result.Summary != "add retry logic" {
		t.Errorf("Summary = %q", result.Summary)
	}
	if result.EstimatedComplexity != agent.ComplexityMedium {
		t.Errorf("EstimatedComplexity = %q", result.EstimatedComplexity)
	}
	if len(result.Steps) != 2 {
		t.Errorf("Steps = %v", result.Steps)
	}
}

func TestCodeParsesJSONResponse(t *testing.T) {
	a := New(stubClient(`{"changes": [{"path": "pkg/x.go", "operation": "update", "content": "package x"}], "commit_message": "fix retry", "branch": "job-1"}`))

	result, err := a.Code(context.Background(), agent.JobContext{}, agent.PlanResult{Summary: "s"})
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	if len(result.Changes) != 1 || result.Changes[0].Operation != agent.OpUpdate {
		t.Errorf("Changes = %+v", result.Changes)
	}
	if result.CommitMessage != "fix retry" {
		t.Errorf("CommitMessage = %q", result.CommitMessage)
	}
}

func TestReviewParsesJSONResponse(t *testing.T) {
	a := New(stubClient(`{"approved": false, "feedback": "missing test", "suggested_changes": ["add test"], "security_issues": [], "quality_score": 60}`))

	result, err := a.Review(context.Background(), agent.JobContext{}, agent.PlanResult{}, agent.CodeResult{})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if result.Approved {
		t.Error("Approved = true, want false")
	}
	if result.QualityScore != 60 {
		t.Errorf("QualityScore = %d", result.QualityScore)
	}
}

func TestUnmarshalJSONObjectNoObjectFound(t *testing.T) {
	var v struct{}
	if err := unmarshalJSONObject("no json here", &v); err == nil {
		t.Error("expected error for content with no JSON object")
	}
}
