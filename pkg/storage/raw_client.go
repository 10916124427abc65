package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RawClient is the un-scoped handle with full SQL power, reserved for
// migrations, tenant lifecycle, and tests. Plan and Tenant are not
// multi-tenant tables (Tenant defines the isolation boundary itself; Plan
// is owned by an external billing subsystem), so their CRUD lives here
// rather than behind TenantClient.
type RawClient struct {
	db *DB
}

// NewRawClient wraps db for unscoped operations.
func NewRawClient(db *DB) *RawClient {
	return &RawClient{db: db}
}

// CreatePlan inserts a new plan row.
func (c *RawClient) CreatePlan(p *Plan) error {
	_, err := c.db.Conn().Exec(`
		INSERT INTO plans (id, name, display_name, max_repos, max_changes_per_month,
			max_tokens_per_month, max_model_calls_per_month, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.DisplayName, p.MaxRepos, p.MaxChangesPerMonth,
		p.MaxTokensPerMonth, p.MaxModelCallsPerMonth, p.IsActive)
	if err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetPlanByName returns the plan with the given unique name.
func (c *RawClient) GetPlanByName(name string) (*Plan, error) {
	row := c.db.Conn().QueryRow(`
		SELECT id, name, display_name, max_repos, max_changes_per_month,
			max_tokens_per_month, max_model_calls_per_month, is_active, created_at, updated_at
		FROM plans WHERE name = ?`, name)
	return scanPlan(row)
}

// GetPlan returns the plan with the given id.
func (c *RawClient) GetPlan(id string) (*Plan, error) {
	row := c.db.Conn().QueryRow(`
		SELECT id, name, display_name, max_repos, max_changes_per_month,
			max_tokens_per_month, max_model_calls_per_month, is_active, created_at, updated_at
		FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

func scanPlan(row *sql.Row) (*Plan, error) {
	var p Plan
	err := row.Scan(&p.ID, &p.Name, &p.DisplayName, &p.MaxRepos, &p.MaxChangesPerMonth,
		&p.MaxTokensPerMonth, &p.MaxModelCallsPerMonth, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan plan: %w", err)
	}
	return &p, nil
}

// CreateTenant inserts a new tenant row. The installation id's uniqueness
// is enforced by the schema's UNIQUE constraint.
func (c *RawClient) CreateTenant(t *Tenant) error {
	_, err := c.db.Conn().Exec(`
		INSERT INTO tenants (id, github_installation_id, github_account_login, github_account_type,
			installed_at, settings, installation_status, plan_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.GithubInstallationID, t.GithubAccountLogin, t.GithubAccountType,
		t.InstalledAt, t.Settings, string(t.InstallationStatus), t.PlanID)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// GetTenant returns the tenant with the given id.
func (c *RawClient) GetTenant(id string) (*Tenant, error) {
	row := c.db.Conn().QueryRow(`
		SELECT id, github_installation_id, github_account_login, github_account_type,
			installed_at, uninstalled_at, settings, installation_status, plan_id, plan_changed_at,
			created_at, updated_at
		FROM tenants WHERE id = ?`, id)
	return scanTenant(row)
}

// GetTenantByInstallationID looks a tenant up by its external-platform
// installation id, the lookup key used on every platform webhook.
func (c *RawClient) GetTenantByInstallationID(installationID int64) (*Tenant, error) {
	row := c.db.Conn().QueryRow(`
		SELECT id, github_installation_id, github_account_login, github_account_type,
			installed_at, uninstalled_at, settings, installation_status, plan_id, plan_changed_at,
			created_at, updated_at
		FROM tenants WHERE github_installation_id = ?`, installationID)
	return scanTenant(row)
}

func scanTenant(row *sql.Row) (*Tenant, error) {
	var t Tenant
	var status string
	err := row.Scan(&t.ID, &t.GithubInstallationID, &t.GithubAccountLogin, &t.GithubAccountType,
		&t.InstalledAt, &t.UninstalledAt, &t.Settings, &status, &t.PlanID, &t.PlanChangedAt,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	t.InstallationStatus = InstallationStatus(status)
	return &t, nil
}

// UpdateTenantStatus mutates installation_status, e.g. on a platform
// suspend/unsuspend webhook.
func (c *RawClient) UpdateTenantStatus(id string, status InstallationStatus) error {
	res, err := c.db.Conn().Exec(`
		UPDATE tenants SET installation_status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update tenant status: %w", err)
	}
	return requireRowsAffected(res, ErrTenantNotFound)
}

// SoftDeleteTenant stamps uninstalled_at on a platform uninstall webhook.
// Repositories cascade-delete at the database level; jobs are retained.
func (c *RawClient) SoftDeleteTenant(id string, uninstalledAt time.Time) error {
	res, err := c.db.Conn().Exec(`
		UPDATE tenants SET uninstalled_at = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ?`, uninstalledAt, id)
	if err != nil {
		return fmt.Errorf("soft delete tenant: %w", err)
	}
	return requireRowsAffected(res, ErrTenantNotFound)
}

// HardDeleteTenant removes the tenant row outright; repositories cascade.
// Reserved for tests and administrative cleanup, not the webhook path.
func (c *RawClient) HardDeleteTenant(id string) error {
	res, err := c.db.Conn().Exec(`DELETE FROM tenants WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("hard delete tenant: %w", err)
	}
	return requireRowsAffected(res, ErrTenantNotFound)
}

func requireRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
