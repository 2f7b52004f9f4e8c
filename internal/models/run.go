package models

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusPending     RunStatus = "pending"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed"
)

// RunRecord is a persisted summary of one run, as listed by the run history.
type RunRecord struct {
	RunID       string     `json:"run_id"`
	Status      RunStatus  `json:"status"`
	Profile     string     `json:"profile,omitempty"`
	Inputs      []string   `json:"inputs"`
	Stats       RunStats   `json:"stats"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRunRecord summarizes finished stats for the run history.
func NewRunRecord(stats RunStats, profile string, inputs []string) RunRecord {
	rec := RunRecord{
		RunID:     stats.RunID,
		Status:    stats.Status(),
		Profile:   profile,
		Inputs:    inputs,
		Stats:     stats,
		StartedAt: stats.StartedAt,
	}
	if rec.Inputs == nil {
		rec.Inputs = []string{}
	}
	if stats.Error != "" {
		msg := stats.Error
		rec.Error = &msg
	}
	if !stats.FinishedAt.IsZero() {
		done := stats.FinishedAt
		rec.CompletedAt = &done
	}
	return rec
}
