// Package agentadapter implements agent.IAgent on top of an llm.Client,
// binding the pipeline's pluggable agent contract to a real model provider.
// Core packages (storage, fsm, queue, worker) never import this package or
// pkg/agent/llm; only the cmd/codeforge-server bootstrap wires a provider in.
package agentadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codeforge/pkg/agent"
	"codeforge/pkg/agent/llm"
)

// LLMAgent implements agent.IAgent by prompting an llm.Client for each
// stage and parsing a JSON object out of the completion.
type LLMAgent struct {
	client llm.Client
}

// New builds an LLMAgent fronting client.
func New(client llm.Client) *LLMAgent {
	return &LLMAgent{client: client}
}

const planSystemPrompt = `You are the planning stage of an automated code-change pipeline.
Given a GitHub issue, produce a plan. Respond with a single JSON object, no
surrounding prose, matching this shape exactly:
{"summary": string, "steps": [string], "files_changed": [string], "estimated_complexity": "low"|"medium"|"high"}`

const codeSystemPrompt = `You are the coding stage of an automated code-change pipeline.
Given an approved plan, produce the file changes that implement it. Respond
with a single JSON object, no surrounding prose, matching this shape exactly:
{"changes": [{"path": string, "operation": "create"|"update"|"delete", "content": string}], "commit_message": string, "branch": string}`

const reviewSystemPrompt = `You are the review stage of an automated code-change pipeline.
Given a plan and the code changes made for it, decide whether to approve.
Respond with a single JSON object, no surrounding prose, matching this shape
exactly:
{"approved": bool, "feedback": string, "suggested_changes": [string], "security_issues": [string], "quality_score": int}`

// Plan asks the model to turn an issue into a plan.
func (a *LLMAgent) Plan(ctx context.Context, jc agent.JobContext) (agent.PlanResult, error) {
	prompt := fmt.Sprintf(
		"Issue #%d: %s\n\n%s",
		jc.IssueNumber, jc.IssueTitle, jc.IssueBody,
	)
	req := llm.NewCompletionRequest([]llm.Message{
		llm.SystemMessage(planSystemPrompt),
		llm.UserMessage(prompt),
	})
	req.Temperature = llm.TemperatureDefault

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return agent.PlanResult{}, fmt.Errorf("agentadapter: plan: %w", err)
	}

	var decoded struct {
		Summary             string   `json:"summary"`
		Steps               []string `json:"steps"`
		FilesChanged        []string `json:"files_changed"`
		EstimatedComplexity string   `json:"estimated_complexity"`
	}
	if err := unmarshalJSONObject(resp.Content, &decoded); err != nil {
		return agent.PlanResult{}, fmt.Errorf("agentadapter: plan: decode response: %w", err)
	}

	return agent.PlanResult{
		Summary:             decoded.Summary,
		Steps:               decoded.Steps,
		FilesChanged:        decoded.FilesChanged,
		EstimatedComplexity: agent.Complexity(decoded.EstimatedComplexity),
		Metadata: map[string]any{
			"model":             a.client.GetModelName(),
			"tokens_used":       resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}

// Code asks the model to turn an approved plan into file changes.
func (a *LLMAgent) Code(ctx context.Context, jc agent.JobContext, plan agent.PlanResult) (agent.CodeResult, error) {
	prompt := fmt.Sprintf(
		"Issue #%d: %s\n\nPlan summary: %s\nSteps:\n- %s",
		jc.IssueNumber, jc.IssueTitle, plan.Summary, strings.Join(plan.Steps, "\n- "),
	)
	req := llm.NewCompletionRequest([]llm.Message{
		llm.SystemMessage(codeSystemPrompt),
		llm.UserMessage(prompt),
	})
	req.Temperature = llm.TemperatureDeterministic

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return agent.CodeResult{}, fmt.Errorf("agentadapter: code: %w", err)
	}

	var decoded struct {
		Changes []struct {
			Path      string `json:"path"`
			Operation string `json:"operation"`
			Content   string `json:"content"`
		} `json:"changes"`
		CommitMessage string `json:"commit_message"`
		Branch        string `json:"branch"`
	}
	if err := unmarshalJSONObject(resp.Content, &decoded); err != nil {
		return agent.CodeResult{}, fmt.Errorf("agentadapter: code: decode response: %w", err)
	}

	changes := make([]agent.FileChange, 0, len(decoded.Changes))
	for _, c := range decoded.Changes {
		changes = append(changes, agent.FileChange{
			Path:      c.Path,
			Operation: agent.ChangeOperation(c.Operation),
			Content:   c.Content,
		})
	}

	return agent.CodeResult{
		Changes:       changes,
		CommitMessage: decoded.CommitMessage,
		Branch:        decoded.Branch,
		Metadata: map[string]any{
			"model":             a.client.GetModelName(),
			"tokens_used":       resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}

// Review asks the model to judge the code changes against the plan.
func (a *LLMAgent) Review(ctx context.Context, jc agent.JobContext, plan agent.PlanResult, code agent.CodeResult) (agent.ReviewResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue #%d: %s\n\nPlan summary: %s\n\nChanges:\n", jc.IssueNumber, jc.IssueTitle, plan.Summary)
	for _, c := range code.Changes {
		fmt.Fprintf(&sb, "--- %s (%s) ---\n%s\n", c.Path, c.Operation, c.Content)
	}

	req := llm.NewCompletionRequest([]llm.Message{
		llm.SystemMessage(reviewSystemPrompt),
		llm.UserMessage(sb.String()),
	})
	req.Temperature = llm.TemperatureDefault

	resp, err := a.client.Complete(ctx, req)
	if err != nil {
		return agent.ReviewResult{}, fmt.Errorf("agentadapter: review: %w", err)
	}

	var decoded struct {
		Approved         bool     `json:"approved"`
		Feedback         string   `json:"feedback"`
		SuggestedChanges []string `json:"suggested_changes"`
		SecurityIssues   []string `json:"security_issues"`
		QualityScore     int      `json:"quality_score"`
	}
	if err := unmarshalJSONObject(resp.Content, &decoded); err != nil {
		return agent.ReviewResult{}, fmt.Errorf("agentadapter: review: decode response: %w", err)
	}

	return agent.ReviewResult{
		Approved:         decoded.Approved,
		Feedback:         decoded.Feedback,
		SuggestedChanges: decoded.SuggestedChanges,
		SecurityIssues:   decoded.SecurityIssues,
		QualityScore:     decoded.QualityScore,
		Metadata: map[string]any{
			"model":             a.client.GetModelName(),
			"tokens_used":       resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}, nil
}

// unmarshalJSONObject decodes v from content, tolerating a model that wraps
// the JSON object in a markdown fence or surrounding prose.
func unmarshalJSONObject(content string, v any) error {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object found in response")
	}
	return json.Unmarshal([]byte(content[start:end+1]), v)
}
