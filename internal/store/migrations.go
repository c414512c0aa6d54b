package store

import "fmt"

// migrations mirrors the phase boundaries of the original schema history:
// core identity/dispatch columns, then execution & retry, then scheduling
// hints, then the dx/metadata fields. Each is additive so an older database
// file opens cleanly after an upgrade.
var migrations = []string{
	// 001: core identity, dispatch, body.
	`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subjects (
		subject_key TEXT PRIMARY KEY,
		latest_generation INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		queue TEXT NOT NULL,
		job_type TEXT NOT NULL,
		subject_key TEXT NOT NULL,
		generation INTEGER NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER,
		payload TEXT NOT NULL,
		log_path TEXT,
		execution_mode TEXT NOT NULL DEFAULT 'IN_PROCESS',
		pid INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_queue_state ON jobs(queue, state);
	CREATE INDEX IF NOT EXISTS idx_jobs_subject ON jobs(subject_key);
	`,
	// 002: execution & retry fields.
	`
	ALTER TABLE jobs ADD COLUMN env_vars TEXT;
	ALTER TABLE jobs ADD COLUMN attempts INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE jobs ADD COLUMN max_attempts INTEGER NOT NULL DEFAULT 3;
	ALTER TABLE jobs ADD COLUMN backoff_factor REAL NOT NULL DEFAULT 2.0;
	ALTER TABLE jobs ADD COLUMN deadline INTEGER;
	ALTER TABLE jobs ADD COLUMN ttl_ms INTEGER;
	`,
	// 003: scheduling hints.
	`
	ALTER TABLE jobs ADD COLUMN schedule_at INTEGER;
	ALTER TABLE jobs ADD COLUMN wait_for_idle INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE jobs ADD COLUMN require_charging INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE jobs ADD COLUMN wait_for_event TEXT;
	`,
	// 004: dx / metadata fields.
	`
	ALTER TABLE jobs ADD COLUMN trace_id TEXT;
	ALTER TABLE jobs ADD COLUMN user_tag TEXT;
	ALTER TABLE jobs ADD COLUMN parent_job_id TEXT;
	ALTER TABLE jobs ADD COLUMN chain_group_id TEXT;
	ALTER TABLE jobs ADD COLUMN result_summary TEXT;
	ALTER TABLE jobs ADD COLUMN artifacts TEXT;
	`,
}

// runMigrations applies any migrations newer than the database's recorded
// schema_version, each inside its own transaction.
func runMigrations(db *dbHandle) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	current := 0
	row := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&current); err != nil {
		current = 0
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: reset schema_version: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record schema_version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", i+1, err)
		}
	}
	return nil
}
