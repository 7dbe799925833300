package jobstore

import (
	"database/sql"
	"fmt"
)

// schemaVersion is the latest migration this build knows how to apply.
// v1 creates the tables with a UNIQUE(library_book_id) constraint; v2 adds
// queue_position/duration_seconds/file_size_bytes and drops that unique
// constraint (duplicates are now prevented in application logic via
// IsDuplicate) using the create-copy-swap technique SQLite
// requires for dropping a constraint. v3 adds cover_path, the sidecar
// cover hint resolved by the library reader at enqueue time.
const schemaVersion = 3

const createV1 = `
CREATE TABLE jobs (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	library_book_id   TEXT NOT NULL UNIQUE,
	title             TEXT NOT NULL,
	author            TEXT NOT NULL,
	series            TEXT NOT NULL DEFAULT '',
	series_index      REAL,
	voice             TEXT NOT NULL,
	status            TEXT NOT NULL,
	chapters_total    INTEGER NOT NULL DEFAULT 0,
	chapters_done     INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	source_path       TEXT NOT NULL,
	output_path       TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	started_at        TEXT,
	completed_at      TEXT
);

CREATE TABLE settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE schema_version (
	version INTEGER NOT NULL
);
INSERT INTO schema_version (version) VALUES (1);
`

const migrateV2 = `
CREATE TABLE jobs_new (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	library_book_id   TEXT NOT NULL,
	title             TEXT NOT NULL,
	author            TEXT NOT NULL,
	series            TEXT NOT NULL DEFAULT '',
	series_index      REAL,
	voice             TEXT NOT NULL,
	status            TEXT NOT NULL,
	chapters_total    INTEGER NOT NULL DEFAULT 0,
	chapters_done     INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT NOT NULL DEFAULT '',
	source_path       TEXT NOT NULL,
	output_path       TEXT NOT NULL DEFAULT '',
	queue_position    INTEGER,
	duration_seconds  REAL,
	file_size_bytes   INTEGER,
	created_at        TEXT NOT NULL,
	started_at        TEXT,
	completed_at      TEXT
);

INSERT INTO jobs_new (id, library_book_id, title, author, series, series_index,
	voice, status, chapters_total, chapters_done, error_message, source_path,
	output_path, created_at, started_at, completed_at)
SELECT id, library_book_id, title, author, series, series_index,
	voice, status, chapters_total, chapters_done, error_message, source_path,
	output_path, created_at, started_at, completed_at
FROM jobs;

DROP TABLE jobs;
ALTER TABLE jobs_new RENAME TO jobs;

UPDATE schema_version SET version = 2;
`

const migrateV3 = `
ALTER TABLE jobs ADD COLUMN cover_path TEXT NOT NULL DEFAULT '';

UPDATE schema_version SET version = 3;
`

func migrate(db *sql.DB) error {
	var exists int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if exists == 0 {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(createV1); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply v1 schema: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version < 2 {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrateV2); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply v2 migration: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	if version < 3 {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrateV3); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply v3 migration: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
