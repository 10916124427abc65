package storage

import (
	"context"
	"path/filepath"
	"testing"

	"codeforge/pkg/fsm"
	"codeforge/pkg/tenant"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Conn().Close() })
	return db
}

func seedPlanAndTenants(t *testing.T, raw *RawClient) (tenantA, tenantB string) {
	t.Helper()
	plan := &Plan{ID: NewID(), Name: "test-plan", DisplayName: "Test Plan", MaxRepos: 10,
		MaxChangesPerMonth: 100, MaxTokensPerMonth: 1_000_000, MaxModelCallsPerMonth: 1000, IsActive: true}
	require.NoError(t, raw.CreatePlan(plan))

	a := &Tenant{ID: NewID(), GithubInstallationID: 12345, GithubAccountLogin: "tenant-a",
		GithubAccountType: "Organization", InstallationStatus: InstallationActive, PlanID: plan.ID}
	require.NoError(t, raw.CreateTenant(a))

	b := &Tenant{ID: NewID(), GithubInstallationID: 67890, GithubAccountLogin: "tenant-b",
		GithubAccountType: "Organization", InstallationStatus: InstallationActive, PlanID: plan.ID}
	require.NoError(t, raw.CreateTenant(b))

	return a.ID, b.ID
}

func TestTenantIsolationHappyPath(t *testing.T) {
	db := newTestDB(t)
	raw := NewRawClient(db)
	tc := NewTenantClient(db)
	tenantA, tenantB := seedPlanAndTenants(t, raw)

	ctx := context.Background()
	_, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) (struct{}, error) {
		for _, ghID := range []int64{1001, 1002, 1003} {
			err := tc.InsertRepository(sctx, &Repository{ID: NewID(), GithubRepoID: ghID, Owner: "o", Name: "r", FullName: "o/r", Enabled: true})
			require.NoError(t, err)
		}
		return struct{}{}, nil
	})
	require.NoError(t, err)

	_, err = tenant.RunWith(ctx, tenant.Scope{TenantID: tenantB}, func(sctx context.Context) (struct{}, error) {
		err := tc.InsertRepository(sctx, &Repository{ID: NewID(), GithubRepoID: 2001, Owner: "o", Name: "r2", FullName: "o/r2", Enabled: true})
		return struct{}{}, err
	})
	require.NoError(t, err)

	reposA, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) ([]Repository, error) {
		return tc.ListRepositories(sctx)
	})
	require.NoError(t, err)
	require.Len(t, reposA, 3)
	for _, r := range reposA {
		require.Equal(t, tenantA, r.TenantID)
	}

	reposB, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantB}, func(sctx context.Context) ([]Repository, error) {
		return tc.ListRepositories(sctx)
	})
	require.NoError(t, err)
	require.Len(t, reposB, 1)
	require.Equal(t, tenantB, reposB[0].TenantID)
}

func TestCrossTenantUpdateAffectsZeroRows(t *testing.T) {
	db := newTestDB(t)
	raw := NewRawClient(db)
	tc := NewTenantClient(db)
	tenantA, tenantB := seedPlanAndTenants(t, raw)
	ctx := context.Background()

	var repoB *Repository
	_, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantB}, func(sctx context.Context) (struct{}, error) {
		r := &Repository{ID: NewID(), GithubRepoID: 3001, Owner: "o", Name: "r", FullName: "o/r", Enabled: true}
		if err := tc.InsertRepository(sctx, r); err != nil {
			return struct{}{}, err
		}
		repoB = r
		return struct{}{}, nil
	})
	require.NoError(t, err)

	affected, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) (int64, error) {
		return tc.SetRepositoryEnabled(sctx, repoB.ID, false)
	})
	require.NoError(t, err)
	require.Zero(t, affected)

	row := db.Conn().QueryRow(`SELECT enabled FROM repositories WHERE id = ?`, repoB.ID)
	var enabled bool
	require.NoError(t, row.Scan(&enabled))
	require.True(t, enabled)
}

func TestInsertWithoutScopeFails(t *testing.T) {
	db := newTestDB(t)
	tc := NewTenantClient(db)

	err := tc.InsertRepository(context.Background(), &Repository{ID: NewID(), GithubRepoID: 9001, Owner: "o", Name: "r", FullName: "o/r"})
	require.ErrorIs(t, err, ErrTenantScopeMissing)
}

func TestJobTransitionSequenceAndInvalidEvent(t *testing.T) {
	db := newTestDB(t)
	raw := NewRawClient(db)
	tc := NewTenantClient(db)
	tenantA, _ := seedPlanAndTenants(t, raw)
	ctx := context.Background()

	var jobID string
	_, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) (struct{}, error) {
		j := &Job{ID: NewID(), Status: string(fsm.Queued)}
		jobID = j.ID
		return struct{}{}, tc.InsertJob(sctx, j)
	})
	require.NoError(t, err)

	_, err = tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) (fsm.State, error) {
		return tc.Transition(sctx, jobID, fsm.StartPlanning, nil)
	})
	require.NoError(t, err)

	_, err = tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) (fsm.State, error) {
		return tc.Transition(sctx, jobID, fsm.ReviewApproved, nil)
	})
	require.Error(t, err)

	transitions, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) ([]JobTransition, error) {
		return tc.ListTransitions(sctx, jobID)
	})
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	require.Equal(t, string(fsm.Queued), transitions[0].FromStatus)
	require.Equal(t, string(fsm.Planning), transitions[0].ToStatus)
}

func TestCheckPlanLimitsUnderQuotaPasses(t *testing.T) {
	db := newTestDB(t)
	raw := NewRawClient(db)
	tc := NewTenantClient(db)
	tenantA, _ := seedPlanAndTenants(t, raw)
	ctx := context.Background()

	_, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA}, func(sctx context.Context) (struct{}, error) {
		return struct{}{}, tc.CheckPlanLimits(sctx)
	})
	require.NoError(t, err)
}

func TestCheckPlanLimitsRejectsOverRepoQuota(t *testing.T) {
	db := newTestDB(t)
	raw := NewRawClient(db)
	tc := NewTenantClient(db)

	plan := &Plan{ID: NewID(), Name: "tiny-plan", DisplayName: "Tiny Plan", MaxRepos: 1,
		MaxChangesPerMonth: 100, MaxTokensPerMonth: 1_000_000, MaxModelCallsPerMonth: 1000, IsActive: true}
	require.NoError(t, raw.CreatePlan(plan))

	tenantA := &Tenant{ID: NewID(), GithubInstallationID: 111, GithubAccountLogin: "tenant-tiny",
		GithubAccountType: "Organization", InstallationStatus: InstallationActive, PlanID: plan.ID}
	require.NoError(t, raw.CreateTenant(tenantA))

	ctx := context.Background()
	_, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA.ID}, func(sctx context.Context) (struct{}, error) {
		r := &Repository{ID: NewID(), GithubRepoID: 9101, Owner: "o", Name: "r", FullName: "o/r", Enabled: true}
		return struct{}{}, tc.InsertRepository(sctx, r)
	})
	require.NoError(t, err)

	_, err = tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA.ID}, func(sctx context.Context) (struct{}, error) {
		return struct{}{}, tc.CheckPlanLimits(sctx)
	})
	require.ErrorIs(t, err, ErrPlanLimitExceeded)
}

func TestCheckPlanLimitsRejectsOverMonthlyJobQuota(t *testing.T) {
	db := newTestDB(t)
	raw := NewRawClient(db)
	tc := NewTenantClient(db)

	plan := &Plan{ID: NewID(), Name: "tiny-jobs-plan", DisplayName: "Tiny Jobs Plan", MaxRepos: 10,
		MaxChangesPerMonth: 1, MaxTokensPerMonth: 1_000_000, MaxModelCallsPerMonth: 1000, IsActive: true}
	require.NoError(t, raw.CreatePlan(plan))

	tenantA := &Tenant{ID: NewID(), GithubInstallationID: 222, GithubAccountLogin: "tenant-jobs",
		GithubAccountType: "Organization", InstallationStatus: InstallationActive, PlanID: plan.ID}
	require.NoError(t, raw.CreateTenant(tenantA))

	ctx := context.Background()
	_, err := tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA.ID}, func(sctx context.Context) (struct{}, error) {
		j := &Job{ID: NewID(), Status: string(fsm.Queued)}
		return struct{}{}, tc.InsertJob(sctx, j)
	})
	require.NoError(t, err)

	_, err = tenant.RunWith(ctx, tenant.Scope{TenantID: tenantA.ID}, func(sctx context.Context) (struct{}, error) {
		return struct{}{}, tc.CheckPlanLimits(sctx)
	})
	require.ErrorIs(t, err, ErrPlanLimitExceeded)
}

func TestCheckPlanLimitsWithoutScopeFails(t *testing.T) {
	db := newTestDB(t)
	tc := NewTenantClient(db)

	err := tc.CheckPlanLimits(context.Background())
	require.ErrorIs(t, err, ErrTenantScopeMissing)
}
