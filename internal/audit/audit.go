// Package audit keeps an append-only journal of the engine's scheduling
// decisions in SQLite. Each record carries a SHA-256 hash of the inputs
// the decision was made from so runs can be compared after the fact.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Actions recorded by the engine.
const (
	ActionSubmit           = "task.submit"
	ActionDispatch         = "task.dispatch"
	ActionProposalResolved = "proposal.resolved"
	ActionCompleted        = "task.completed"
	ActionFailed           = "task.failed"
	ActionCancelled        = "task.cancelled"
)

// Entry is a decision about to be recorded.
type Entry struct {
	Action  string
	TaskID  string
	Outcome string
	Details string
	// Inputs is hashed, not stored.
	Inputs any
}

// Decision is a recorded entry.
type Decision struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	TaskID     string    `json:"task_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Details    string    `json:"details,omitempty"`
	InputsHash string    `json:"inputs_hash"`
	Timestamp  time.Time `json:"timestamp"`
}

// Recorder writes decisions.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards every decision.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, Entry) error { return nil }

// Store is a SQLite-backed Recorder.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		task_id TEXT,
		outcome TEXT NOT NULL,
		details TEXT,
		inputs_hash TEXT NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_task_id ON decisions(task_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_action ON decisions(action);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record writes a decision.
func (s *Store) Record(ctx context.Context, e Entry) error {
	d := Decision{
		ID:         uuid.NewString(),
		Action:     e.Action,
		TaskID:     e.TaskID,
		Outcome:    e.Outcome,
		Details:    e.Details,
		InputsHash: HashInputs(e.Inputs),
		Timestamp:  s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, action, task_id, outcome, details, inputs_hash, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Action, d.TaskID, d.Outcome, d.Details, d.InputsHash, d.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ForTask returns the decisions recorded for a task, oldest first.
func (s *Store) ForTask(ctx context.Context, taskID string) ([]Decision, error) {
	return s.query(ctx,
		`SELECT id, action, task_id, outcome, details, inputs_hash, timestamp FROM decisions WHERE task_id = ? ORDER BY timestamp, rowid`,
		taskID)
}

// Recent returns up to limit of the newest decisions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.query(ctx,
		`SELECT id, action, task_id, outcome, details, inputs_hash, timestamp FROM decisions ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d       Decision
			taskID  sql.NullString
			details sql.NullString
			ts      string
		)
		if err := rows.Scan(&d.ID, &d.Action, &taskID, &d.Outcome, &details, &d.InputsHash, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.TaskID = taskID.String
		d.Details = details.String
		if d.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse decision timestamp: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// HashInputs returns the hex SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
