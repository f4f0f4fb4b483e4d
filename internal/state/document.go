// Package state defines the versioned, persisted document the scheduler
// checkpoints its task table to, the transactional Store contract used to
// load and save it, and the v1-to-v2 migration. Concrete backends live in
// the filestore and pgstore subpackages.
package state

import "time"

// CurrentVersion is the document schema version this build writes.
const CurrentVersion = 2

// Document is the versioned, persisted snapshot of the task table.
type Document struct {
	Version   int            `json:"version"`
	StartTime time.Time      `json:"startTime"`
	Tasks     []PersistedTask `json:"tasks,omitempty"`
}

// PersistedTask is one task record in its serializable form.
type PersistedTask struct {
	Name           string `json:"name"`
	CronExpression string `json:"cronExpression"`
	RetryDelayMs   int64  `json:"retryDelayMs"`

	LastSuccessTime   *time.Time `json:"lastSuccessTime,omitempty"`
	LastFailureTime   *time.Time `json:"lastFailureTime,omitempty"`
	LastAttemptTime   *time.Time `json:"lastAttemptTime,omitempty"`
	PendingRetryUntil *time.Time `json:"pendingRetryUntil,omitempty"`
}

// NewEmpty returns a fresh v2 document with no tasks, stamped with
// startTime.
func NewEmpty(startTime time.Time) Document {
	return Document{Version: CurrentVersion, StartTime: startTime, Tasks: nil}
}
