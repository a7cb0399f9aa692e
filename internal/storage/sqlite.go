package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tsunagu/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// webhook handlers and scheduled jobs write concurrently
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		summary TEXT,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		topic TEXT NOT NULL,
		item_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_received ON webhook_events(received_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateRun inserts a run. ID and StartedAt are filled in when empty.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	summaryJSON, err := marshalSummary(run.Summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, status, started_at, finished_at, summary, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), string(run.Status), run.StartedAt, run.FinishedAt, summaryJSON, run.Error,
	)
	return err
}

// FinishRun stores the final status, summary and error of run.
func (s *SQLiteStorage) FinishRun(ctx context.Context, run *models.Run) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	summaryJSON, err := marshalSummary(run.Summary)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, summary = ?, error = ? WHERE id = ?`,
		string(run.Status), run.FinishedAt, summaryJSON, run.Error, run.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

func marshalSummary(summary map[string]interface{}) (string, error) {
	if summary == nil {
		return "", nil
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	return string(data), nil
}

const runColumns = `id, kind, status, started_at, finished_at, summary, error`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var kind, status, summaryJSON string
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &kind, &status, &run.StartedAt, &finished, &summaryJSON, &run.Error); err != nil {
		return nil, err
	}
	run.Kind = models.RunKind(kind)
	run.Status = models.RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	if summaryJSON != "" {
		if err := json.Unmarshal([]byte(summaryJSON), &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}
	return &run, nil
}

// GetRun returns a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, kind models.RunKind, limit int) ([]*models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AbandonRunning marks every run still in the running state as failed.
func (s *SQLiteStorage) AbandonRunning(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error = ? WHERE status = ?`,
		string(models.RunFailed), time.Now().UTC(), "interrupted", string(models.RunRunning),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// RecordEvent inserts a webhook event and sets its ID.
func (s *SQLiteStorage) RecordEvent(ctx context.Context, ev *models.WebhookEvent) error {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (source, topic, item_id, message, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.Source, ev.Topic, ev.ItemID, ev.Message, ev.ReceivedAt,
	)
	if err != nil {
		return err
	}
	ev.ID, err = result.LastInsertId()
	return err
}

// ListEvents returns up to limit webhook events, newest first.
func (s *SQLiteStorage) ListEvents(ctx context.Context, limit int) ([]*models.WebhookEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, topic, item_id, message, received_at
		 FROM webhook_events ORDER BY received_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		var ev models.WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.Source, &ev.Topic, &ev.ItemID, &ev.Message, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Stats returns row counts and the latest run of each kind.
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{LastRuns: map[models.RunKind]*models.Run{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&st.Runs); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM webhook_events`).Scan(&st.Events); err != nil {
		return nil, err
	}
	for _, kind := range []models.RunKind{models.RunDedupe, models.RunSync} {
		runs, err := s.ListRuns(ctx, kind, 1)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 {
			st.LastRuns[kind] = runs[0]
		}
	}
	return st, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
