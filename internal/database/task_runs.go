package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a task run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// TaskRun is one execution of a scheduled task
type TaskRun struct {
	ID             int64      `json:"id"`
	TaskKey        string     `json:"task_key"`
	Status         RunStatus  `json:"status"`
	TriggeredBy    string     `json:"triggered_by"`
	Progress       float64    `json:"progress"`
	ItemsTotal     int        `json:"items_total"`
	ItemsProcessed int        `json:"items_processed"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the run took, or has been running so far
func (r *TaskRun) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

const taskRunColumns = `id, task_key, status, triggered_by, progress, items_total, items_processed, error, started_at, completed_at`

// CreateTaskRun inserts a new running task run and sets its ID
func (db *db) CreateTaskRun(run *TaskRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	res, err := db.exec(`
		INSERT INTO task_runs (task_key, status, triggered_by, progress, items_total, items_processed, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.TaskKey, run.Status, run.TriggeredBy, run.Progress, run.ItemsTotal, run.ItemsProcessed, run.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create task run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get task run id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateTaskRunProgress stores the latest progress of a running task
func (db *db) UpdateTaskRunProgress(id int64, progress float64, processed, total int) error {
	_, err := db.exec(`
		UPDATE task_runs SET progress = ?, items_processed = ?, items_total = ?
		WHERE id = ?
	`, progress, processed, total, id)
	if err != nil {
		return fmt.Errorf("failed to update task run %d progress: %w", id, err)
	}
	return nil
}

// FinishTaskRun records the final status of a run
func (db *db) FinishTaskRun(run *TaskRun) error {
	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}

	_, err := db.exec(`
		UPDATE task_runs
		SET status = ?, progress = ?, items_processed = ?, items_total = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, run.Status, run.Progress, run.ItemsProcessed, run.ItemsTotal, stringToNull(run.Error), *run.CompletedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to finish task run %d: %w", run.ID, err)
	}
	return nil
}

// GetTaskRun returns a run by ID, or nil if it does not exist
func (db *db) GetTaskRun(id int64) (*TaskRun, error) {
	row := db.queryRow(`SELECT `+taskRunColumns+` FROM task_runs WHERE id = ?`, id)
	run, err := scanTaskRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task run %d: %w", id, err)
	}
	return run, nil
}

// GetLatestTaskRun returns the most recent run of a task, or nil if it never ran
func (db *db) GetLatestTaskRun(taskKey string) (*TaskRun, error) {
	row := db.queryRow(`
		SELECT `+taskRunColumns+` FROM task_runs
		WHERE task_key = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, taskKey)
	run, err := scanTaskRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run for %s: %w", taskKey, err)
	}
	return run, nil
}

// ListTaskRuns returns the newest runs of a task first. An empty taskKey lists all tasks.
func (db *db) ListTaskRuns(taskKey string, limit int) ([]*TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + taskRunColumns + ` FROM task_runs`
	args := []any{}
	if taskKey != "" {
		query += ` WHERE task_key = ?`
		args = append(args, taskKey)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	runs := []*TaskRun{}
	for rows.Next() {
		run, err := scanTaskRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkInterruptedRuns fails runs left in the running state by a previous process
func (db *db) MarkInterruptedRuns() (int64, error) {
	res, err := db.exec(`
		UPDATE task_runs SET status = ?, error = ?, completed_at = ?
		WHERE status = ?
	`, RunStatusFailed, "interrupted by shutdown", time.Now().UTC(), RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRun(row rowScanner) (*TaskRun, error) {
	var run TaskRun
	var errText sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&run.ID,
		&run.TaskKey,
		&run.Status,
		&run.TriggeredBy,
		&run.Progress,
		&run.ItemsTotal,
		&run.ItemsProcessed,
		&errText,
		&run.StartedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	run.Error = nullStringValue(errText)
	run.CompletedAt = nullTimeToPtr(completedAt)
	return &run, nil
}
