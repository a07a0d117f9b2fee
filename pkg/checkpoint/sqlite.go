package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	session_key    TEXT PRIMARY KEY,
	iteration      INTEGER NOT NULL,
	canvas_version INTEGER NOT NULL,
	tokens_used    INTEGER NOT NULL,
	task_status    TEXT NOT NULL DEFAULT '',
	history        TEXT NOT NULL DEFAULT '[]',
	created_at     INTEGER NOT NULL
);`

// SQLiteStore persists checkpoints in a SQLite database, one row per
// session.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save upserts the checkpoint row for the session.
func (s *SQLiteStore) Save(cp Checkpoint) error {
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	history, err := json.Marshal(cp.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (session_key, iteration, canvas_version, tokens_used, task_status, history, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			iteration = excluded.iteration,
			canvas_version = excluded.canvas_version,
			tokens_used = excluded.tokens_used,
			task_status = excluded.task_status,
			history = excluded.history,
			created_at = excluded.created_at`,
		cp.SessionKey, cp.Iteration, cp.CanvasVersion, cp.TokensUsed, cp.TaskStatus,
		string(history), cp.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for a session, or nil when none exists.
func (s *SQLiteStore) Load(sessionKey string) (*Checkpoint, error) {
	row := s.db.QueryRow(`
		SELECT session_key, iteration, canvas_version, tokens_used, task_status, history, created_at
		FROM checkpoints WHERE session_key = ?`, sessionKey)

	var cp Checkpoint
	var history string
	var createdAt int64
	err := row.Scan(&cp.SessionKey, &cp.Iteration, &cp.CanvasVersion, &cp.TokensUsed,
		&cp.TaskStatus, &history, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if err := json.Unmarshal([]byte(history), &cp.History); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	cp.CreatedAt = time.UnixMilli(createdAt)
	return &cp, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
