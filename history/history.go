// Package history keeps a SQLite journal of connection attempts and the
// stage transitions each one went through.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yllada/vpn-session/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id         TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	profile    TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	last_stage TEXT NOT NULL DEFAULT 'idle',
	error      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS stage_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	attempt_id TEXT NOT NULL REFERENCES attempts(id),
	stage      TEXT NOT NULL,
	at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_events_attempt ON stage_events(attempt_id, id);
`

// Attempt is one journaled connection attempt.
type Attempt struct {
	ID        string
	Seq       uint64
	Profile   string
	StartedAt time.Time
	LastStage string
	Error     string
}

// Event is one stage transition of an attempt.
type Event struct {
	Stage string
	At    time.Time
}

// Store is a SQLite-backed journal. It implements session.Journal.
type Store struct {
	db  *sql.DB
	now func() time.Time

	// Only the newest attempt receives stage events; the controller never
	// records against an attempt once a later one has begun.
	mu     sync.Mutex
	curSeq uint64
	curID  string
}

var _ session.Journal = (*Store)(nil)

// Open opens or creates the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginAttempt creates the record for a new attempt.
func (s *Store) BeginAttempt(seq uint64, profile string) error {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO attempts (id, seq, profile, started_at) VALUES (?, ?, ?, ?)`,
		id, int64(seq), profile, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	s.mu.Lock()
	s.curSeq, s.curID = seq, id
	s.mu.Unlock()
	return nil
}

// RecordStage appends a stage transition. Transitions for attempts that
// were never begun or were superseded, such as engine reports after a
// stop, are ignored.
func (s *Store) RecordStage(seq uint64, stage session.Stage) error {
	id, ok := s.lookup(seq)
	if !ok {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO stage_events (attempt_id, stage, at) VALUES (?, ?, ?)`,
		id, stage.String(), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to record stage: %w", err)
	}
	if _, err := tx.Exec(`UPDATE attempts SET last_stage = ? WHERE id = ?`, stage.String(), id); err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}
	return tx.Commit()
}

// RecordError stores the error that ended an attempt.
func (s *Store) RecordError(seq uint64, cause error) error {
	id, ok := s.lookup(seq)
	if !ok || cause == nil {
		return nil
	}
	_, err := s.db.Exec(`UPDATE attempts SET error = ? WHERE id = ?`, cause.Error(), id)
	return err
}

func (s *Store) lookup(seq uint64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curID == "" || s.curSeq != seq {
		return "", false
	}
	return s.curID, true
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, seq, profile, started_at, last_stage, error
		FROM attempts
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Attempt
	for rows.Next() {
		var (
			a       Attempt
			seq     int64
			started int64
		)
		if err := rows.Scan(&a.ID, &seq, &a.Profile, &started, &a.LastStage, &a.Error); err != nil {
			return nil, err
		}
		a.Seq = uint64(seq)
		a.StartedAt = time.UnixMilli(started)
		result = append(result, a)
	}
	return result, rows.Err()
}

// Events returns the stage transitions of an attempt in order.
func (s *Store) Events(attemptID string) ([]Event, error) {
	rows, err := s.db.Query(
		`SELECT stage, at FROM stage_events WHERE attempt_id = ? ORDER BY id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var (
			e  Event
			at int64
		)
		if err := rows.Scan(&e.Stage, &at); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(at)
		result = append(result, e)
	}
	return result, rows.Err()
}
