// Package runlog records training runs and their per-epoch metrics in a
// sqlite database.
package runlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one invocation of the trainer.
type Run struct {
	ID         string
	Exp        string
	Mode       string
	Method     string
	ConfigJSON string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
}

// Epoch holds the four curves of one epoch.
type Epoch struct {
	Epoch     int
	TrainLoss float64
	TrainAcc  float64
	ValLoss   float64
	ValAcc    float64
}

// Store is a sqlite-backed run log.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create run log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		exp TEXT NOT NULL,
		mode TEXT NOT NULL,
		method TEXT NOT NULL,
		config_json TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS epochs (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		train_loss REAL NOT NULL,
		train_acc REAL NOT NULL,
		val_loss REAL NOT NULL,
		val_acc REAL NOT NULL,
		PRIMARY KEY (run_id, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_exp ON runs(exp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a running run and fills in its ID and start time.
func (s *Store) StartRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	run.Status = StatusRunning

	_, err := s.db.Exec(`
		INSERT INTO runs (id, exp, mode, method, config_json, started_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Exp, run.Mode, run.Method, run.ConfigJSON, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecordEpoch stores the metrics of one epoch, replacing an earlier record
// of the same epoch.
func (s *Store) RecordEpoch(runID string, e Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO epochs (run_id, epoch, train_loss, train_acc, val_loss, val_acc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, e.Epoch, e.TrainLoss, e.TrainAcc, e.ValLoss, e.ValAcc)
	if err != nil {
		return fmt.Errorf("failed to record epoch %d: %w", e.Epoch, err)
	}
	return nil
}

// FinishRun marks a run completed, or failed when runErr is non-nil.
func (s *Store) FinishRun(runID string, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := StatusCompleted
	if runErr != nil {
		status = StatusFailed
	}
	res, err := s.db.Exec(`UPDATE runs SET finished_at = ?, status = ? WHERE id = ?`,
		time.Now().UTC(), status, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("unknown run %s", runID)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		run      Run
		finished sql.NullTime
	)
	err := s.db.QueryRow(`
		SELECT id, exp, mode, method, config_json, started_at, finished_at, status
		FROM runs WHERE id = ?`, runID).
		Scan(&run.ID, &run.Exp, &run.Mode, &run.Method, &run.ConfigJSON, &run.StartedAt, &finished, &run.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return &run, nil
}

// Epochs returns the recorded epochs of a run in order.
func (s *Store) Epochs(runID string) ([]Epoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT epoch, train_loss, train_acc, val_loss, val_acc
		FROM epochs WHERE run_id = ? ORDER BY epoch`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs: %w", err)
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.Epoch, &e.TrainLoss, &e.TrainAcc, &e.ValLoss, &e.ValAcc); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}
	return epochs, rows.Err()
}

// Runs lists the runs of an experiment, oldest first.
func (s *Store) Runs(exp string) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, exp, mode, method, config_json, started_at, finished_at, status
		FROM runs WHERE exp = ? ORDER BY started_at`, exp)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			finished sql.NullTime
		)
		if err := rows.Scan(&run.ID, &run.Exp, &run.Mode, &run.Method, &run.ConfigJSON, &run.StartedAt, &finished, &run.Status); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
