package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"codeforge/pkg/tenant"
)

// TenantClient wraps the raw connection and enforces the multi-tenant
// discipline from the design notes: every read against repositories or
// jobs auto-conjoins tenant_id = current(); every insert overwrites
// tenant_id to current() regardless of what the caller supplied; every
// update/delete ANDs its predicate with tenant_id = current() so a write
// aimed at another tenant's row silently affects zero rows instead of
// failing or leaking existence. Outside any scope, every call below fails
// with ErrTenantScopeMissing before a single statement reaches SQLite.
type TenantClient struct {
	db *DB
}

// NewTenantClient wraps db for tenant-scoped operations.
func NewTenantClient(db *DB) *TenantClient {
	return &TenantClient{db: db}
}

func requireScope(ctx context.Context) (string, error) {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTenantScopeMissing, err)
	}
	if id == "" {
		return "", ErrTenantScopeMissing
	}
	return id, nil
}

// InsertRepository inserts repo, overwriting its TenantID to the scope's
// tenant id even if the caller populated a different value.
func (c *TenantClient) InsertRepository(ctx context.Context, repo *Repository) error {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return err
	}
	repo.TenantID = tenantID

	_, err = c.db.Conn().ExecContext(ctx, `
		INSERT INTO repositories (id, tenant_id, github_repo_id, owner, name, full_name, enabled, policy_overrides)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.TenantID, repo.GithubRepoID, repo.Owner, repo.Name, repo.FullName,
		repo.Enabled, repo.PolicyOverrides)
	if err != nil {
		return fmt.Errorf("insert repository: %w", err)
	}
	return nil
}

// ListRepositories returns every repository belonging to the current
// tenant. Callers in another scope never see these rows.
func (c *TenantClient) ListRepositories(ctx context.Context) ([]Repository, error) {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.Conn().QueryContext(ctx, `
		SELECT id, tenant_id, github_repo_id, owner, name, full_name, enabled, policy_overrides, created_at, updated_at
		FROM repositories WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.ID, &r.TenantID, &r.GithubRepoID, &r.Owner, &r.Name, &r.FullName,
			&r.Enabled, &r.PolicyOverrides, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRepository returns the repository with the given id, scoped to the
// current tenant. Another tenant's row with the same id is invisible.
func (c *TenantClient) GetRepository(ctx context.Context, id string) (*Repository, error) {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}

	row := c.db.Conn().QueryRowContext(ctx, `
		SELECT id, tenant_id, github_repo_id, owner, name, full_name, enabled, policy_overrides, created_at, updated_at
		FROM repositories WHERE id = ? AND tenant_id = ?`, id, tenantID)

	var r Repository
	err = row.Scan(&r.ID, &r.TenantID, &r.GithubRepoID, &r.Owner, &r.Name, &r.FullName,
		&r.Enabled, &r.PolicyOverrides, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRepositoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return &r, nil
}

// SetRepositoryEnabled updates the enabled flag for id. If id belongs to
// another tenant, zero rows are affected and no error is returned — the
// boundary behavior the spec requires (never fail, never leak existence).
func (c *TenantClient) SetRepositoryEnabled(ctx context.Context, id string, enabled bool) (int64, error) {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return 0, err
	}

	res, err := c.db.Conn().ExecContext(ctx, `
		UPDATE repositories SET enabled = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND tenant_id = ?`, enabled, id, tenantID)
	if err != nil {
		return 0, fmt.Errorf("update repository: %w", err)
	}
	return res.RowsAffected()
}

// CheckPlanLimits fails with ErrPlanLimitExceeded once the current tenant
// has hit its plan's repository count or monthly job count ceiling;
// producer.CreateJob calls it before inserting a job. A plan limit of zero means unlimited, matching the teacher's
// pkg/limiter convention for an unset quota.
func (c *TenantClient) CheckPlanLimits(ctx context.Context) error {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return err
	}

	var planID string
	if err := c.db.Conn().QueryRowContext(ctx, `SELECT plan_id FROM tenants WHERE id = ?`, tenantID).Scan(&planID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTenantNotFound
		}
		return fmt.Errorf("check plan limits: load tenant: %w", err)
	}

	var maxRepos, maxChangesPerMonth int
	err = c.db.Conn().QueryRowContext(ctx, `SELECT max_repos, max_changes_per_month FROM plans WHERE id = ?`, planID).
		Scan(&maxRepos, &maxChangesPerMonth)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrPlanNotFound
	}
	if err != nil {
		return fmt.Errorf("check plan limits: load plan: %w", err)
	}

	if maxRepos > 0 {
		var repoCount int
		if err := c.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories WHERE tenant_id = ?`, tenantID).Scan(&repoCount); err != nil {
			return fmt.Errorf("check plan limits: count repositories: %w", err)
		}
		if repoCount >= maxRepos {
			return fmt.Errorf("%w: repository count %d/%d", ErrPlanLimitExceeded, repoCount, maxRepos)
		}
	}

	if maxChangesPerMonth > 0 {
		var jobCount int
		if err := c.db.Conn().QueryRowContext(ctx, `
			SELECT COUNT(*) FROM jobs
			WHERE tenant_id = ? AND created_at >= strftime('%Y-%m-01T00:00:00Z','now')`, tenantID).
			Scan(&jobCount); err != nil {
			return fmt.Errorf("check plan limits: count jobs this month: %w", err)
		}
		if jobCount >= maxChangesPerMonth {
			return fmt.Errorf("%w: monthly job count %d/%d", ErrPlanLimitExceeded, jobCount, maxChangesPerMonth)
		}
	}

	return nil
}

// VerifyOwnership asserts that row's tenant id matches the current scope,
// failing with ErrTenantAccessDenied otherwise. Intended as a defensive
// check after a read obtained through code that bypasses this wrapper
// (e.g. a raw-client diagnostic query).
func (c *TenantClient) VerifyOwnership(ctx context.Context, rowTenantID, kind string) error {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return err
	}
	if rowTenantID != tenantID {
		return fmt.Errorf("%w: %s", ErrTenantAccessDenied, kind)
	}
	return nil
}
