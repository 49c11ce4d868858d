// Package sqlite provides persistent storage for the node: the subtask
// payment ledger, task summaries for the control surface, and node
// metadata. Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Subtask payment ledger. Values are wei-scale integers stored
		// as decimal strings; they exceed int64.
		`CREATE TABLE IF NOT EXISTS payments (
			subtask_id     TEXT PRIMARY KEY,
			task_id        TEXT NOT NULL,
			payee          TEXT NOT NULL,
			value          TEXT NOT NULL,
			transaction_id TEXT,
			block_number   INTEGER,
			status         TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			settled_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_task ON payments(task_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,

		// Task summaries for the control surface.
		`CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			kind           TEXT NOT NULL,
			state          TEXT NOT NULL,
			aborted        BOOLEAN NOT NULL DEFAULT 0,
			subtasks_count INTEGER NOT NULL,
			completed      INTEGER NOT NULL,
			outstanding    INTEGER NOT NULL,
			progress       REAL NOT NULL,
			deadline       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,

		// Node metadata key-value store.
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for i, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a node metadata value.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo reads a node metadata value; "" when absent.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
