package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// WAL for concurrent readers, busy timeout for writers from other processes
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	d := &DB{db}
	// Single connection avoids SQLITE_BUSY between our own goroutines
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS novels (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			file_path TEXT,
			file_hash TEXT UNIQUE,
			word_count INTEGER,
			chapter_count INTEGER,
			ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			chapter_number INTEGER,
			chunk_index INTEGER,
			text TEXT,
			token_count INTEGER,
			start_char INTEGER,
			end_char INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_order ON chunks (novel_id, chapter_number, chunk_index);`,
		`CREATE TABLE IF NOT EXISTS story_bibles (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			bible_json BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			model_used TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_story_bibles_novel ON story_bibles (novel_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS screenplays (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			screenplay_json BLOB,
			scene_count INTEGER,
			page_count_estimate INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			model_used TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_screenplays_novel ON screenplays (novel_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS scene_breakdowns (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			scene_id TEXT NOT NULL,
			scene_number INTEGER,
			breakdown_json BLOB,
			prompt_ready BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (novel_id, scene_id)
		);`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			novel_id TEXT NOT NULL,
			phase TEXT,
			status TEXT,
			started_at DATETIME,
			finished_at DATETIME,
			tokens_used INTEGER DEFAULT 0,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS persistent_state (
			key TEXT PRIMARY KEY,
			value TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS run_locks (
			novel_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}
