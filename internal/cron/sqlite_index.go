package cron

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteIndex is a best-effort, queryable read replica of the cron
// catalog (SPEC_FULL.md §4.9 expansion). The JSON catalog file remains
// the single source of truth; this mirror exists only so the gateway's
// status surface can query job state with SQL instead of scanning JSON.
type sqliteIndex struct {
	db *sql.DB
}

func openSQLiteIndex(path string) (*sqliteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	next_run_at_ms INTEGER NOT NULL,
	last_run_at_ms INTEGER,
	run_count INTEGER NOT NULL,
	schedule_json TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteIndex{db: db}, nil
}

// Rebuild replaces the mirror's contents with the given catalog snapshot.
func (idx *sqliteIndex) Rebuild(jobs []Job) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM jobs"); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO jobs
		(id, name, enabled, next_run_at_ms, last_run_at_ms, run_count, schedule_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, j := range jobs {
		sched, err := json.Marshal(j.Schedule)
		if err != nil {
			return fmt.Errorf("cron: marshal schedule for %s: %w", j.ID, err)
		}
		enabled := 0
		if j.Enabled {
			enabled = 1
		}
		if _, err := stmt.Exec(j.ID, j.Name, enabled, j.State.NextRunAtMS, j.State.LastRunAtMS, j.State.RunCount, string(sched)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (idx *sqliteIndex) Close() error {
	return idx.db.Close()
}
