package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstallationStatus is the Tenant's installation lifecycle state.
type InstallationStatus string

const (
	InstallationPending   InstallationStatus = "pending"
	InstallationActive    InstallationStatus = "active"
	InstallationSuspended InstallationStatus = "suspended"
)

// Plan is the immutable (from the core's perspective) subscription
// descriptor. It is owned by an external billing subsystem; the core only
// reads it.
type Plan struct {
	ID                  string
	Name                string
	DisplayName         string
	MaxRepos            int
	MaxChangesPerMonth   int
	MaxTokensPerMonth    int64
	MaxModelCallsPerMonth int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Tenant is the isolation boundary and coarse-grained unit of access
// control. Every multi-tenant row is scoped to exactly one tenant.
type Tenant struct {
	ID                   string
	GithubInstallationID int64
	GithubAccountLogin   string
	GithubAccountType    string
	InstalledAt          time.Time
	UninstalledAt        *time.Time
	Settings             string // opaque JSON
	InstallationStatus   InstallationStatus
	PlanID               string
	PlanChangedAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Repository is a monitored repository scoped to exactly one tenant.
type Repository struct {
	ID              string
	TenantID        string
	GithubRepoID    int64
	Owner           string
	Name            string
	FullName        string
	Enabled         bool
	PolicyOverrides string // opaque JSON
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Job is the unit of orchestration: one issue becomes one job. Status is
// drawn from the fsm package's state set; Metadata accumulates stage
// results and error detail as an opaque JSON document.
type Job struct {
	ID           string
	TenantID     string
	RepositoryID string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Metadata     string // opaque JSON
}

// JobTransition is one append-only row in the job_transitions table,
// recording a single state-machine move. Kept so pollers can read the
// sequence of statuses a job passed through instead of racing the live
// jobs.status column (see design notes on test-observable state timing).
type JobTransition struct {
	ID         int64
	JobID      string
	FromStatus string
	ToStatus   string
	Event      string
	OccurredAt time.Time
}

// NewID generates a fresh uuid-based identifier, the scheme the teacher's
// persistence layer uses for every entity primary key.
func NewID() string {
	return uuid.New().String()
}

// NewShortID generates an 8-hex-character identifier, used where a terser
// id is acceptable (e.g. message correlation ids).
func NewShortID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate short id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
