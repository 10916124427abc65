package storage

import "errors"

// Sentinel errors for the storage plane's error taxonomy. Callers use
// errors.Is to classify a failure; workers translate these into the
// appropriate state-machine event.
var (
	// ErrTenantScopeMissing is returned before any SQL is sent when a
	// multi-tenant operation is attempted with no tenant scope bound.
	ErrTenantScopeMissing = errors.New("storage: tenant scope missing")

	// ErrTenantAccessDenied is returned by VerifyOwnership when a row's
	// tenant_id does not match the current scope.
	ErrTenantAccessDenied = errors.New("storage: tenant access denied")

	// ErrJobNotFound is returned when a transition or lookup targets a
	// nonexistent job id.
	ErrJobNotFound = errors.New("storage: job not found")

	// ErrTenantNotFound, ErrPlanNotFound, ErrRepositoryNotFound mirror
	// ErrJobNotFound for the other entity tables.
	ErrTenantNotFound     = errors.New("storage: tenant not found")
	ErrPlanNotFound       = errors.New("storage: plan not found")
	ErrRepositoryNotFound = errors.New("storage: repository not found")

	// ErrPlanLimitExceeded is returned by CheckPlanLimits when a tenant has
	// hit its plan's repository count or monthly job count ceiling.
	ErrPlanLimitExceeded = errors.New("storage: plan limit exceeded")
)
