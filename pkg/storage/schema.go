package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this binary knows how to
// create and migrate to.
const CurrentSchemaVersion = 2

func initializeSchema(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	if version == 0 {
		return createSchema(db)
	}
	if version == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, version, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, from, to int) error {
	for v := from + 1; v <= to; v++ {
		if err := runMigration(db, v); err != nil {
			return fmt.Errorf("migration to version %d: %w", v, err)
		}
		if err := setSchemaVersion(db, v); err != nil {
			return fmt.Errorf("set schema version %d: %w", v, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	switch version {
	case 1:
		return migrateToVersion1(db)
	case 2:
		return migrateToVersion2(db)
	default:
		return fmt.Errorf("unknown migration version: %d", version)
	}
}

// migrateToVersion1 is a placeholder for the schema's first released shape;
// createSchema already produces version CurrentSchemaVersion directly on a
// fresh database, and any existing database is at version 1 or later, so
// runMigrations never reaches this step.
func migrateToVersion1(_ *sql.DB) error { return nil }

// migrateToVersion2 adds tenant_id/repository_id to jobs, resolving the
// job-to-tenant linkage gap: jobs become enforceable multi-tenant rows
// instead of carrying the tenant id only in queue payload and metadata.
func migrateToVersion2(db *sql.DB) error {
	stmts := []string{
		"ALTER TABLE jobs ADD COLUMN tenant_id TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE jobs ADD COLUMN repository_id TEXT NOT NULL DEFAULT ''",
		"CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_repository ON jobs(repository_id)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func createSchema(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec pragma %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL,
			max_repos INTEGER NOT NULL DEFAULT 1,
			max_changes_per_month INTEGER NOT NULL DEFAULT 10,
			max_tokens_per_month BIGINT NOT NULL DEFAULT 0,
			max_model_calls_per_month INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			github_installation_id BIGINT NOT NULL UNIQUE,
			github_account_login TEXT NOT NULL,
			github_account_type TEXT NOT NULL,
			installed_at DATETIME NOT NULL,
			uninstalled_at DATETIME,
			settings TEXT,
			installation_status TEXT NOT NULL DEFAULT 'pending'
				CHECK (installation_status IN ('pending','active','suspended')),
			plan_id TEXT NOT NULL REFERENCES plans(id),
			plan_changed_at DATETIME,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			github_repo_id BIGINT NOT NULL UNIQUE,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			full_name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			policy_overrides TEXT,
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,

		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL DEFAULT '',
			repository_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'QUEUED',
			created_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,

		`CREATE TABLE IF NOT EXISTS job_transitions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			event TEXT NOT NULL,
			occurred_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(installation_status)",
		"CREATE INDEX IF NOT EXISTS idx_repositories_tenant ON repositories(tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_repositories_github_id ON repositories(github_repo_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_repository ON jobs(repository_id)",
		"CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)",
		"CREATE INDEX IF NOT EXISTS idx_job_transitions_job ON job_transitions(job_id)",
	}

	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	for _, ddl := range indices {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return setSchemaVersion(db, CurrentSchemaVersion)
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the current schema version, 0 if unset.
func GetSchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("scan schema version: %w", err)
	}
	return version, nil
}
