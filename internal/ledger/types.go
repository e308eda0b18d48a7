// SPDX-License-Identifier: MIT

// Package ledger persists long-running background operations (jobs) and
// their log trail for later inspection.
package ledger

// JobStatus is the lifecycle status of one job.
type JobStatus string

const (
	JobNew        JobStatus = "new"
	JobProcessing JobStatus = "processing"
	JobCancelled  JobStatus = "cancelled"
	JobDone       JobStatus = "done"
	JobWarning    JobStatus = "warning"
	JobError      JobStatus = "error"
	JobTimeout    JobStatus = "timeout"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCancelled, JobDone, JobError, JobTimeout:
		return true
	default:
		return false
	}
}

// Job owners.
const (
	OwnerUser   = "user"
	OwnerWorker = "worker"
	OwnerSystem = "system"
)

// TotalIndeterminate marks a job whose amount of work is unknown upfront.
const TotalIndeterminate int64 = -1

// Job is one tracked unit of background work.
type Job struct {
	ID              int64
	Owner           string
	Template        string
	Label           string
	ParentID        int64
	Status          JobStatus
	Progress        int64
	Total           int64
	StartTime       int64 // unix seconds
	DoneTime        int64 // unix seconds, 0 while running
	Message         string
	ProgressMessage string
}

// Log severity levels.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// LogEntry is one append-only log row, optionally tied to a job or caller.
type LogEntry struct {
	ID        int64
	Level     string
	Tag       string
	Message   string
	CallerID  string
	Timestamp int64 // unix seconds
}
