package agentadapter

import (
	"context"
	"fmt"
	"sync"

	"codeforge/pkg/agent"
)

// TenantRouter dispatches each stage call to the LLMAgent bound to the
// job's tenant, so every tenant's jobs run against its own provider and
// API key rather than one shared credential.
type TenantRouter struct {
	mu     sync.RWMutex
	agents map[string]*LLMAgent
}

// NewTenantRouter builds an empty router; bind tenants to it with Bind.
func NewTenantRouter() *TenantRouter {
	return &TenantRouter{agents: make(map[string]*LLMAgent)}
}

// Bind associates tenantID with ag, replacing any prior binding — used both
// at startup (one bind per vault entry) and when a tenant rotates its
// credential.
func (r *TenantRouter) Bind(tenantID string, ag *LLMAgent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[tenantID] = ag
}

func (r *TenantRouter) lookup(tenantID string) (*LLMAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ag, ok := r.agents[tenantID]
	if !ok {
		return nil, fmt.Errorf("agentadapter: no LLM credential bound for tenant %s", tenantID)
	}
	return ag, nil
}

func (r *TenantRouter) Plan(ctx context.Context, jc agent.JobContext) (agent.PlanResult, error) {
	ag, err := r.lookup(jc.TenantID)
	if err != nil {
		return agent.PlanResult{}, err
	}
	return ag.Plan(ctx, jc)
}

func (r *TenantRouter) Code(ctx context.Context, jc agent.JobContext, plan agent.PlanResult) (agent.CodeResult, error) {
	ag, err := r.lookup(jc.TenantID)
	if err != nil {
		return agent.CodeResult{}, err
	}
	return ag.Code(ctx, jc, plan)
}

func (r *TenantRouter) Review(ctx context.Context, jc agent.JobContext, plan agent.PlanResult, code agent.CodeResult) (agent.ReviewResult, error) {
	ag, err := r.lookup(jc.TenantID)
	if err != nil {
		return agent.ReviewResult{}, err
	}
	return ag.Review(ctx, jc, plan, code)
}
