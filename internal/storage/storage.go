// Package storage defines the persistence interface for run history and webhook events.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/tsunagu/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines run and webhook event persistence operations.
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	// ListRuns returns the most recent runs first. An empty kind lists every kind.
	ListRuns(ctx context.Context, kind models.RunKind, limit int) ([]*models.Run, error)
	// AbandonRunning marks runs left running by a previous process as failed.
	AbandonRunning(ctx context.Context) (int64, error)

	// Webhook events
	RecordEvent(ctx context.Context, ev *models.WebhookEvent) error
	ListEvents(ctx context.Context, limit int) ([]*models.WebhookEvent, error)

	// Stats
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Stats summarizes stored history.
type Stats struct {
	Runs     int64                          `json:"runs"`
	Events   int64                          `json:"webhook_events"`
	LastRuns map[models.RunKind]*models.Run `json:"last_runs"`
}
