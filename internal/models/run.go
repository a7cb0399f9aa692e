package models

import "time"

// RunKind names a background job.
type RunKind string

const (
	RunDedupe RunKind = "dedupe"
	RunSync   RunKind = "sync"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded execution of a job.
type Run struct {
	ID         string                 `json:"id"`
	Kind       RunKind                `json:"kind"`
	Status     RunStatus              `json:"status"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
	Summary    map[string]interface{} `json:"summary,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

// WebhookEvent records a handled callback.
type WebhookEvent struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Topic      string    `json:"topic"`
	ItemID     string    `json:"item_id,omitempty"`
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}

// DedupeReport summarizes a duplicate reconciliation run.
type DedupeReport struct {
	Fetched    int  `json:"fetched"`
	NoEmail    int  `json:"no_email"`
	Duplicates int  `json:"duplicates"`
	Canonical  int  `json:"canonical"`
	Writes     int  `json:"writes"`
	DryRun     bool `json:"dry_run,omitempty"`
}
