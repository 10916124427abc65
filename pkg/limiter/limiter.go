// Package limiter enforces each tenant's plan quotas — tokens and model
// calls per month — the same token-bucket-with-scheduled-reset shape the
// teacher used for per-model rate limiting, rescoped from models/day to
// tenants/month.
package limiter

import (
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTokenBudgetExceeded is returned when a tenant's monthly token
	// budget would be exceeded by the requested reservation.
	ErrTokenBudgetExceeded = fmt.Errorf("monthly token budget exceeded")
	// ErrCallBudgetExceeded is returned when a tenant's monthly model-call
	// budget would be exceeded.
	ErrCallBudgetExceeded = fmt.Errorf("monthly model call budget exceeded")
)

// Limiter tracks per-tenant monthly consumption against plan limits.
type Limiter struct {
	mu      sync.Mutex
	tenants map[string]*tenantUsage
}

type tenantUsage struct {
	mu             sync.Mutex
	maxTokens      int64
	maxCalls       int
	consumedTokens int64
	consumedCalls  int
	periodStart    time.Time
}

// New builds an empty Limiter. Tenants are registered via SetPlan; any
// reservation for a tenant without a registered plan fails.
func New() *Limiter {
	return &Limiter{tenants: make(map[string]*tenantUsage)}
}

// SetPlan registers or updates the quotas for a tenant. Existing
// consumption in the current period is preserved; only the limits change.
func (l *Limiter) SetPlan(tenantID string, maxTokensPerMonth int64, maxCallsPerMonth int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, ok := l.tenants[tenantID]
	if !ok {
		u = &tenantUsage{periodStart: time.Now()}
		l.tenants[tenantID] = u
	}
	u.mu.Lock()
	u.maxTokens = maxTokensPerMonth
	u.maxCalls = maxCallsPerMonth
	u.mu.Unlock()
}

// ReserveTokens charges tokens against a tenant's monthly budget, rejecting
// the call if it would push consumption past the plan limit; a rejected
// charge is not recorded. pkg/worker calls it after each agent call with the
// provider's reported usage, and with zero tokens before a call to check
// whether the budget is already spent.
func (l *Limiter) ReserveTokens(tenantID string, tokens int64) error {
	u, err := l.usage(tenantID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverIfDue()

	if u.maxTokens > 0 && u.consumedTokens+tokens > u.maxTokens {
		return ErrTokenBudgetExceeded
	}
	u.consumedTokens += tokens
	return nil
}

// Adjust adds delta to a tenant's consumed tokens without checking the
// limit; delta may be negative (e.g. a prior reservation was too high).
// pkg/worker uses it to record usage that ReserveTokens refused.
func (l *Limiter) Adjust(tenantID string, delta int64) error {
	u, err := l.usage(tenantID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.consumedTokens += delta
	if u.consumedTokens < 0 {
		u.consumedTokens = 0
	}
	return nil
}

// ReserveCall charges one model call against a tenant's monthly call budget.
func (l *Limiter) ReserveCall(tenantID string) error {
	u, err := l.usage(tenantID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverIfDue()

	if u.maxCalls > 0 && u.consumedCalls+1 > u.maxCalls {
		return ErrCallBudgetExceeded
	}
	u.consumedCalls++
	return nil
}

// Status reports a tenant's current-period consumption.
func (l *Limiter) Status(tenantID string) (tokens int64, calls int, err error) {
	u, err := l.usage(tenantID)
	if err != nil {
		return 0, 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rolloverIfDue()
	return u.consumedTokens, u.consumedCalls, nil
}

func (l *Limiter) usage(tenantID string) (*tenantUsage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("limiter: tenant %s has no registered plan", tenantID)
	}
	return u, nil
}

// rolloverIfDue resets consumption once a full month has elapsed since the
// period started. Callers must hold u.mu.
func (u *tenantUsage) rolloverIfDue() {
	if time.Since(u.periodStart) < 30*24*time.Hour {
		return
	}
	u.consumedTokens = 0
	u.consumedCalls = 0
	u.periodStart = time.Now()
}
