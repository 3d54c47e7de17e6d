package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boringdata/kurt/pkg/kurterrors"
	"github.com/boringdata/kurt/pkg/models"
)

type WorkflowRepository struct {
	pool *pgxpool.Pool
}

func (r *WorkflowRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("marshal workflow inputs: %w", err)
	}
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("marshal workflow metadata: %w", err)
	}
	const q = `
		INSERT INTO workflow_runs (workflow_id, workflow_name, status, started_at, inputs, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.pool.Exec(ctx, q, run.WorkflowID, run.WorkflowName, run.Status, run.StartedAt, inputs, metadata)
	if err != nil {
		return fmt.Errorf("create workflow run %s: %w", run.WorkflowID, err)
	}
	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	const q = `
		SELECT workflow_id, workflow_name, status, started_at, completed_at, inputs, error, metadata, created_at
		FROM workflow_runs WHERE workflow_id = $1`
	run, err := scanWorkflowRun(r.pool.QueryRow(ctx, q, workflowID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kurterrors.NewNotFoundError("workflow_run", workflowID)
	}
	return run, err
}

// UpdateStatus transitions a run's status, stamping completed_at when
// the new status is terminal and recording errMsg if non-nil.
func (r *WorkflowRepository) UpdateStatus(ctx context.Context, workflowID string, status models.WorkflowStatus, errMsg *string) error {
	const q = `
		UPDATE workflow_runs
		SET status = $2,
		    error = COALESCE($3, error),
		    completed_at = CASE WHEN $4 THEN now() ELSE completed_at END
		WHERE workflow_id = $1`
	_, err := r.pool.Exec(ctx, q, workflowID, status, errMsg, status.IsTerminal())
	return err
}

func (r *WorkflowRepository) List(ctx context.Context, limit, offset int) ([]*models.WorkflowRun, error) {
	const q = `
		SELECT workflow_id, workflow_name, status, started_at, completed_at, inputs, error, metadata, created_at
		FROM workflow_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list workflow runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.WorkflowRun
	for rows.Next() {
		run, err := scanWorkflowRunRow(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpsertStepLog writes the step_log row for (runID, stepID), inserting
// it on first call (status=running) and overwriting it on the final
// call (status=completed/failed/canceled) via the unique constraint.
func (r *WorkflowRepository) UpsertStepLog(ctx context.Context, log *models.StepLog) error {
	errs, err := json.Marshal(log.Errors)
	if err != nil {
		return fmt.Errorf("marshal step errors: %w", err)
	}
	metadata, err := json.Marshal(log.Metadata)
	if err != nil {
		return fmt.Errorf("marshal step metadata: %w", err)
	}
	const q = `
		INSERT INTO step_logs (run_id, step_id, tool, status, started_at, completed_at,
		                        input_count, output_count, error_count, errors, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, step_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			input_count = EXCLUDED.input_count,
			output_count = EXCLUDED.output_count,
			error_count = EXCLUDED.error_count,
			errors = EXCLUDED.errors,
			metadata = EXCLUDED.metadata`
	_, err = r.pool.Exec(ctx, q, log.RunID, log.StepID, log.Tool, log.Status, log.StartedAt, log.CompletedAt,
		log.InputCount, log.OutputCount, log.ErrorCount, errs, metadata)
	if err != nil {
		return fmt.Errorf("upsert step log %s/%s: %w", log.RunID, log.StepID, err)
	}
	return nil
}

func (r *WorkflowRepository) ListStepLogs(ctx context.Context, runID string) ([]*models.StepLog, error) {
	const q = `
		SELECT id, run_id, step_id, tool, status, started_at, completed_at,
		       input_count, output_count, error_count, errors, metadata
		FROM step_logs WHERE run_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("list step logs for %s: %w", runID, err)
	}
	defer rows.Close()

	var logs []*models.StepLog
	for rows.Next() {
		var l models.StepLog
		var errs, metadata []byte
		if err := rows.Scan(&l.ID, &l.RunID, &l.StepID, &l.Tool, &l.Status, &l.StartedAt, &l.CompletedAt,
			&l.InputCount, &l.OutputCount, &l.ErrorCount, &errs, &metadata); err != nil {
			return nil, fmt.Errorf("scan step log: %w", err)
		}
		if err := json.Unmarshal(errs, &l.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal step errors: %w", err)
		}
		if err := json.Unmarshal(metadata, &l.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal step metadata: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// AppendEvent inserts a new step_event row and returns its assigned
// monotonic id, the cursor callers pass back into ListEventsSince.
func (r *WorkflowRepository) AppendEvent(ctx context.Context, e *models.StepEvent) (int64, error) {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal event metadata: %w", err)
	}
	const q = `
		INSERT INTO step_events (run_id, step_id, substep, status, current, total, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	var id int64
	err = r.pool.QueryRow(ctx, q, e.RunID, e.StepID, e.Substep, e.Status, e.Current, e.Total, e.Message, metadata).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append step event for %s: %w", e.RunID, err)
	}
	return id, nil
}

// ListEventsSince returns every step_event for runID with id > sinceID,
// ordered oldest-first, the pagination contract the logs endpoint and
// SSE bridge both rely on.
func (r *WorkflowRepository) ListEventsSince(ctx context.Context, runID string, sinceID int64, limit int) ([]*models.StepEvent, error) {
	const q = `
		SELECT id, run_id, step_id, substep, status, current, total, message, metadata, created_at
		FROM step_events WHERE run_id = $1 AND id > $2 ORDER BY id LIMIT $3`
	rows, err := r.pool.Query(ctx, q, runID, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list step events for %s: %w", runID, err)
	}
	defer rows.Close()

	var events []*models.StepEvent
	for rows.Next() {
		var e models.StepEvent
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.StepID, &e.Substep, &e.Status, &e.Current, &e.Total,
			&e.Message, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan step event: %w", err)
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal event metadata: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// SetEvent overwrites the current value of key for runID: the
// set_event/get_event "events" channel.
func (r *WorkflowRepository) SetEvent(ctx context.Context, runID, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal event value for %s/%s: %w", runID, key, err)
	}
	const q = `
		INSERT INTO workflow_events (run_id, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err = r.pool.Exec(ctx, q, runID, key, encoded)
	return err
}

// GetEvent returns the current value for key, or ok=false if never set.
func (r *WorkflowRepository) GetEvent(ctx context.Context, runID, key string, dest any) (bool, error) {
	const q = `SELECT value FROM workflow_events WHERE run_id = $1 AND key = $2`
	var raw []byte
	err := r.pool.QueryRow(ctx, q, runID, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get event %s/%s: %w", runID, key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("unmarshal event %s/%s: %w", runID, key, err)
	}
	return true, nil
}

// AppendStream writes the next entry of stream for runID and returns
// its monotonic offset: the write_stream equivalent.
func (r *WorkflowRepository) AppendStream(ctx context.Context, runID, stream string, value any) (int64, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("marshal stream value for %s/%s: %w", runID, stream, err)
	}
	const q = `INSERT INTO workflow_streams (run_id, stream, value) VALUES ($1, $2, $3) RETURNING id`
	var id int64
	err = r.pool.QueryRow(ctx, q, runID, stream, encoded).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append stream %s/%s: %w", runID, stream, err)
	}
	return id, nil
}

// StreamEntry is one offset/value pair returned by ReadStream.
type StreamEntry struct {
	Offset int64
	Value  json.RawMessage
}

// ReadStream returns every entry of stream for runID with offset >
// sinceOffset, oldest first.
func (r *WorkflowRepository) ReadStream(ctx context.Context, runID, stream string, sinceOffset int64) ([]StreamEntry, error) {
	const q = `
		SELECT id, value FROM workflow_streams
		WHERE run_id = $1 AND stream = $2 AND id > $3 ORDER BY id`
	rows, err := r.pool.Query(ctx, q, runID, stream, sinceOffset)
	if err != nil {
		return nil, fmt.Errorf("read stream %s/%s: %w", runID, stream, err)
	}
	defer rows.Close()

	var entries []StreamEntry
	for rows.Next() {
		var entry StreamEntry
		if err := rows.Scan(&entry.Offset, &entry.Value); err != nil {
			return nil, fmt.Errorf("scan stream entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanWorkflowRun(row pgx.Row) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var inputs, metadata []byte
	err := row.Scan(&run.WorkflowID, &run.WorkflowName, &run.Status, &run.StartedAt, &run.CompletedAt,
		&inputs, &run.Error, &metadata, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &run.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal workflow inputs: %w", err)
	}
	if err := json.Unmarshal(metadata, &run.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
	}
	return &run, nil
}

func scanWorkflowRunRow(rows pgx.Rows) (*models.WorkflowRun, error) {
	var run models.WorkflowRun
	var inputs, metadata []byte
	err := rows.Scan(&run.WorkflowID, &run.WorkflowName, &run.Status, &run.StartedAt, &run.CompletedAt,
		&inputs, &run.Error, &metadata, &run.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputs, &run.Inputs); err != nil {
		return nil, fmt.Errorf("unmarshal workflow inputs: %w", err)
	}
	if err := json.Unmarshal(metadata, &run.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal workflow metadata: %w", err)
	}
	return &run, nil
}
