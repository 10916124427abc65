package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"codeforge/pkg/fsm"
)

// ErrTransitionConflict is returned when the conditional update in
// Transition affects zero rows: another actor already moved the job out of
// the state this caller observed. Exactly one concurrent transition wins;
// this is the signal to the loser.
var ErrTransitionConflict = errors.New("storage: job was transitioned concurrently")

// InsertJob creates a new job row, overwriting TenantID to the current
// scope exactly like InsertRepository.
func (c *TenantClient) InsertJob(ctx context.Context, job *Job) error {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return err
	}
	job.TenantID = tenantID
	if job.Metadata == "" {
		job.Metadata = "{}"
	}

	_, err = c.db.Conn().ExecContext(ctx, `
		INSERT INTO jobs (id, tenant_id, repository_id, status, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.TenantID, job.RepositoryID, job.Status, job.Metadata)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns the job with the given id, scoped to the current tenant.
func (c *TenantClient) GetJob(ctx context.Context, id string) (*Job, error) {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return nil, err
	}
	return getJob(ctx, c.db.Conn(), id, tenantID)
}

func getJob(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id, tenantID string) (*Job, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, tenant_id, repository_id, status, created_at, updated_at, metadata
		FROM jobs WHERE id = ? AND tenant_id = ?`, id, tenantID)

	var j Job
	err := row.Scan(&j.ID, &j.TenantID, &j.RepositoryID, &j.Status, &j.CreatedAt, &j.UpdatedAt, &j.Metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// GetCurrentState returns the job's current fsm.State.
func (c *TenantClient) GetCurrentState(ctx context.Context, id string) (fsm.State, error) {
	job, err := c.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	return fsm.State(job.Status), nil
}

// ListTransitions returns every recorded transition for id, oldest first,
// letting tests assert on the sequence of statuses a job passed through
// without racing the live jobs.status column.
func (c *TenantClient) ListTransitions(ctx context.Context, id string) ([]JobTransition, error) {
	if _, err := requireScope(ctx); err != nil {
		return nil, err
	}

	rows, err := c.db.Conn().QueryContext(ctx, `
		SELECT id, job_id, from_status, to_status, event, occurred_at
		FROM job_transitions WHERE job_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []JobTransition
	for rows.Next() {
		var t JobTransition
		if err := rows.Scan(&t.ID, &t.JobID, &t.FromStatus, &t.ToStatus, &t.Event, &t.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Transition is the atomic read-current -> compute-next -> conditional-write
// operation binding the fsm package's pure predicates to durable storage.
// It is transactional end to end: the current status is read inside a
// write-locking transaction, fsm.NextState computes the target, and the
// write is conditioned on the status still matching what was just read, so
// concurrent transitions on the same job serialize and only one wins. A
// metadata merge (errorDetails/failedAt, or caller-supplied extra fields)
// is applied in the same transaction as the status update, and the move is
// appended to job_transitions before commit.
func (c *TenantClient) Transition(ctx context.Context, jobID string, event fsm.Event, metadataPatch map[string]any) (fsm.State, error) {
	tenantID, err := requireScope(ctx)
	if err != nil {
		return "", err
	}

	tx, err := c.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin transition tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after a successful Commit

	row := tx.QueryRowContext(ctx, `SELECT status, metadata FROM jobs WHERE id = ? AND tenant_id = ?`, jobID, tenantID)
	var currentStatus, currentMetadata string
	if err := row.Scan(&currentStatus, &currentMetadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("read job status: %w", err)
	}

	from := fsm.State(currentStatus)
	if fsm.IsTerminal(from) {
		// A worker reaching its transition step must not assume the entry
		// state; a job already terminal (e.g. cancelled mid-flight) is a
		// no-op, not an error.
		return from, nil
	}

	next, ok := fsm.NextState(from, event)
	if !ok {
		return "", &fsm.ErrInvalidTransition{From: from, Event: event}
	}

	mergedMetadata, err := mergeMetadata(currentMetadata, metadataPatch)
	if err != nil {
		return "", fmt.Errorf("merge metadata: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, metadata = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND tenant_id = ? AND status = ?`,
		string(next), mergedMetadata, jobID, tenantID, currentStatus)
	if err != nil {
		return "", fmt.Errorf("write transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return "", ErrTransitionConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_transitions (job_id, from_status, to_status, event)
		VALUES (?, ?, ?, ?)`, jobID, string(from), string(next), string(event)); err != nil {
		return "", fmt.Errorf("record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit transition: %w", err)
	}
	return next, nil
}

func mergeMetadata(current string, patch map[string]any) (string, error) {
	if len(patch) == 0 {
		return current, nil
	}

	doc := map[string]any{}
	if current != "" {
		if err := json.Unmarshal([]byte(current), &doc); err != nil {
			return "", fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	for k, v := range patch {
		doc[k] = v
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(out), nil
}
