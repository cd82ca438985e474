package models

import "time"

// Run statuses stored on RunRecord.Status.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusFailed    = "FAILED"
	RunStatusCompleted = "COMPLETED"
)

// RunRecord represents one pipeline run in Firestore.
// It tracks which steps have completed so a failed run can be resumed.
type RunRecord struct {
	RunID          string    `firestore:"runId,omitempty"`
	Status         string    `firestore:"status,omitempty"`
	CompletedSteps []string  `firestore:"completedSteps,omitempty"`
	FailedStep     string    `firestore:"failedStep,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty"`
}
