package db

import (
	"fmt"
)

// runMigrations applies database migrations for existing databases
func (db *DB) runMigrations() error {
	// Migration 1: index rows the triggers never saw (bulk loads, restored backups)
	if err := db.migration001BackfillFTS(); err != nil {
		return fmt.Errorf("migration 001: %w", err)
	}

	return nil
}

// migration001BackfillFTS rebuilds cases_fts when it is missing rows
func (db *DB) migration001BackfillFTS() error {
	var cases, indexed int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM cases`).Scan(&cases); err != nil {
		return err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM cases_fts_docsize`).Scan(&indexed); err != nil {
		return err
	}
	if cases == indexed {
		return nil
	}

	if _, err := db.conn.Exec(`INSERT INTO cases_fts(cases_fts) VALUES('rebuild')`); err != nil {
		return fmt.Errorf("rebuild cases_fts: %w", err)
	}
	return nil
}
