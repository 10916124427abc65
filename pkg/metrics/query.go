package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// TenantUsage is a tenant's aggregated token consumption over the queried
// window, read back from Prometheus rather than the in-process limiter, so
// an operator can audit consumption independent of process uptime.
type TenantUsage struct {
	TenantID         string `json:"tenant_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService reads aggregated pipeline metrics back out of Prometheus.
// It is separate from PipelineRecorder, which only writes: an operator
// dashboard or billing job uses this to ask questions the in-process
// limiter can't answer, like "how many tokens did tenant X use last week".
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService builds a QueryService against a running Prometheus server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("metrics: create prometheus client: %w", err)
	}
	return &QueryService{client: client, queryAPI: v1.NewAPI(client)}, nil
}

// GetTenantUsage sums codeforge_llm_tokens_total across every model a
// tenant's jobs have used.
func (q *QueryService) GetTenantUsage(ctx context.Context, tenantID string) (*TenantUsage, error) {
	usage := &TenantUsage{TenantID: tenantID}

	prompt, err := q.sumScalar(ctx, fmt.Sprintf(`sum(codeforge_llm_tokens_total{tenant_id=%q, type="prompt"})`, tenantID))
	if err != nil {
		return nil, fmt.Errorf("metrics: query prompt tokens: %w", err)
	}
	usage.PromptTokens = prompt

	completion, err := q.sumScalar(ctx, fmt.Sprintf(`sum(codeforge_llm_tokens_total{tenant_id=%q, type="completion"})`, tenantID))
	if err != nil {
		return nil, fmt.Errorf("metrics: query completion tokens: %w", err)
	}
	usage.CompletionTokens = completion
	usage.TotalTokens = prompt + completion

	return usage, nil
}

// GetTenantUsageByModel breaks a tenant's token consumption down per model,
// for a bill that itemizes which provider/model ran up the usage.
func (q *QueryService) GetTenantUsageByModel(ctx context.Context, tenantID string) (map[string]*TenantUsage, error) {
	modelsQuery := fmt.Sprintf(`group by (model) (codeforge_llm_tokens_total{tenant_id=%q})`, tenantID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("metrics: query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}

	result := make(map[string]*TenantUsage, len(models))
	for _, modelName := range models {
		prompt, err := q.sumScalar(ctx, fmt.Sprintf(
			`sum(codeforge_llm_tokens_total{tenant_id=%q, model=%q, type="prompt"})`, tenantID, modelName))
		if err != nil {
			return nil, fmt.Errorf("metrics: query prompt tokens for model %s: %w", modelName, err)
		}
		completion, err := q.sumScalar(ctx, fmt.Sprintf(
			`sum(codeforge_llm_tokens_total{tenant_id=%q, model=%q, type="completion"})`, tenantID, modelName))
		if err != nil {
			return nil, fmt.Errorf("metrics: query completion tokens for model %s: %w", modelName, err)
		}
		result[modelName] = &TenantUsage{
			TenantID:         tenantID,
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}
	return result, nil
}

func (q *QueryService) sumScalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	vector, ok := result.(model.Vector)
	if !ok || len(vector) == 0 {
		return 0, nil
	}
	return int64(vector[0].Value), nil
}
