package database

import (
	"fmt"
	"time"
)

// CleanupTaskRuns deletes finished runs that completed before the cutoff.
// Extraction rows keep their data with run_id set to NULL.
func (db *db) CleanupTaskRuns(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := db.exec(`
		DELETE FROM task_runs
		WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?
	`, RunStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up task runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Optimize runs SQLite's PRAGMA optimize to refresh planner stats.
func (db *db) Optimize() error {
	if db == nil || db.conn == nil {
		return fmt.Errorf("database not initialized")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}

	return nil
}
