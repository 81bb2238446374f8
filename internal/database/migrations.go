package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// migrate runs all pending database migrations
func (db *db) migrate() error {
	_, err := db.exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = db.queryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	log.Debug().Int("current_version", currentVersion).Msg("Current schema version")

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applying migration")

		if err := db.transaction(func(tx *sql.Tx) error {
			statements := splitSQLStatements(migration.SQL)
			for i, stmt := range statements {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("migration %d statement %d failed: %w", migration.Version, i+1, err)
				}
			}

			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
			}

			return nil
		}); err != nil {
			return err
		}
	}

	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// splitSQLStatements splits a SQL string into individual statements.
// It skips comment lines and only returns non-empty statements.
func splitSQLStatements(sql string) []string {
	var statements []string
	var current strings.Builder

	for line := range strings.SplitSeq(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		statements = append(statements, remaining)
	}

	return statements
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "initial_schema",
		SQL: `
			-- Runtime settings (overrides of the config file)
			CREATE TABLE settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			);

			-- One row per task execution
			CREATE TABLE task_runs (
				id INTEGER PRIMARY KEY,
				task_key TEXT NOT NULL,
				status TEXT NOT NULL,
				triggered_by TEXT NOT NULL,
				progress REAL NOT NULL DEFAULT 0,
				items_total INTEGER NOT NULL DEFAULT 0,
				items_processed INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP
			);

			CREATE INDEX idx_task_runs_task_started ON task_runs(task_key, started_at DESC);
		`,
	},
	{
		Version: 2,
		Name:    "extractions",
		SQL: `
			-- One row per subtitle stream written to a sidecar file
			CREATE TABLE extractions (
				id INTEGER PRIMARY KEY,
				run_id INTEGER REFERENCES task_runs(id) ON DELETE SET NULL,
				item_id TEXT NOT NULL,
				item_name TEXT NOT NULL,
				media_source_id TEXT NOT NULL,
				stream_index INTEGER NOT NULL,
				codec TEXT NOT NULL,
				language TEXT,
				output TEXT NOT NULL,
				size_bytes INTEGER NOT NULL DEFAULT 0,
				extracted_at TIMESTAMP NOT NULL
			);

			CREATE UNIQUE INDEX idx_extractions_stream ON extractions(media_source_id, stream_index);
			CREATE INDEX idx_extractions_run ON extractions(run_id);
		`,
	},
}
