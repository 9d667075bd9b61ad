package fleetvuln

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle of a bulk scan job.
type JobState string

const (
	JobRunning JobState = "running"
	// JobCompleted covers jobs with per-device failures. Only cancellation
	// or a dead store keeps a job from completing.
	JobCompleted JobState = "completed"
	JobCanceled  JobState = "canceled"
)

// BulkResult is one device's outcome inside a bulk scan job.
type BulkResult struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	// the scan summary, present on success
	Summary *ScanSummary `json:"summary,omitempty"`
	// the failure, present otherwise
	Err string `json:"error,omitempty"`
}

// JobStatus is the pollable progress of a bulk scan job. Values returned to
// pollers are snapshots; the orchestrator owns the live record.
type JobStatus struct {
	ID    uuid.UUID `json:"id"`
	State JobState  `json:"state"`

	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	Results []BulkResult `json:"results"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}
