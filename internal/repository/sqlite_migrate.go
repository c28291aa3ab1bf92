package repository

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version of the local SQLite store.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is at SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		name string
		stmt string
	}{
		{"create questions table", `
			CREATE TABLE IF NOT EXISTS questions (
				id TEXT PRIMARY KEY,
				text TEXT NOT NULL,
				created_at TEXT NOT NULL
			);`},
		{"create answers table", `
			CREATE TABLE IF NOT EXISTS answers (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				question_id TEXT NOT NULL,
				answer_text TEXT NOT NULL,
				feedback TEXT NOT NULL,
				created_at TEXT NOT NULL,
				UNIQUE(user_id, question_id),
				FOREIGN KEY(question_id) REFERENCES questions(id)
			);`},
		{"create idx_answers_user_created", `CREATE INDEX IF NOT EXISTS idx_answers_user_created ON answers(user_id, created_at);`},
		{"create streaks table", `
			CREATE TABLE IF NOT EXISTS streaks (
				user_id TEXT PRIMARY KEY,
				current_streak INTEGER NOT NULL DEFAULT 0,
				max_streak INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL
			);`},
	}
	for _, st := range steps {
		if _, err := tx.Exec(st.stmt); err != nil {
			return fmt.Errorf("migrate: %s: %w", st.name, err)
		}
	}

	_, err = tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}
