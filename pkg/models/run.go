package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
	RunStatusStopped   = "stopped"
)

// Run records one acknowledged training start. A run is created when the
// service answers "started" and finished when progress turns terminal or the
// poller is stopped.
type Run struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	JobID        string     `db:"job_id"        json:"job_id"`
	Status       string     `db:"status"        json:"status"`
	StartedAt    time.Time  `db:"started_at"    json:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finished_at,omitempty"`
	FinalPercent *float64   `db:"final_percent" json:"final_percent,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// Snapshot is one successful progress observation belonging to a run.
type Snapshot struct {
	ID          int64     `db:"id"          json:"id"`
	RunID       uuid.UUID `db:"run_id"      json:"run_id"`
	Percent     float64   `db:"percent"     json:"percent"`
	Description string    `db:"description" json:"description"`
	ReportedAt  string    `db:"reported_at" json:"reported_at"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
}
