package db

func (db *DB) initSchema() error {
	schema := `
	-- One row per finalized encounter
	CREATE TABLE IF NOT EXISTS cases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT UNIQUE NOT NULL,
		user_name TEXT NOT NULL,
		user_key TEXT NOT NULL,
		specialty TEXT NOT NULL,
		created_at TEXT NOT NULL,
		summary TEXT NOT NULL,
		report TEXT NOT NULL DEFAULT '',
		score REAL
	);

	CREATE INDEX IF NOT EXISTS idx_cases_user_specialty ON cases(user_key, specialty, created_at);
	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);

	-- Students allowed to log in
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL COLLATE NOCASE,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Full-text search over reports; diacritics folded so "cefaleia" finds "cefaléia"
	CREATE VIRTUAL TABLE IF NOT EXISTS cases_fts USING fts5(
		summary,
		report,
		content=cases,
		content_rowid=id,
		tokenize='unicode61 remove_diacritics 2'
	);

	-- Triggers to keep FTS in sync
	CREATE TRIGGER IF NOT EXISTS cases_ai AFTER INSERT ON cases BEGIN
		INSERT INTO cases_fts(rowid, summary, report) VALUES (new.id, new.summary, new.report);
	END;

	CREATE TRIGGER IF NOT EXISTS cases_ad AFTER DELETE ON cases BEGIN
		INSERT INTO cases_fts(cases_fts, rowid, summary, report) VALUES ('delete', old.id, old.summary, old.report);
	END;

	CREATE TRIGGER IF NOT EXISTS cases_au AFTER UPDATE ON cases BEGIN
		INSERT INTO cases_fts(cases_fts, rowid, summary, report) VALUES ('delete', old.id, old.summary, old.report);
		INSERT INTO cases_fts(rowid, summary, report) VALUES (new.id, new.summary, new.report);
	END;
	`

	_, err := db.conn.Exec(schema)
	return err
}
