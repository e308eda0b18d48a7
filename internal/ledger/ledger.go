// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellar-sync/cellar/internal/log"
	"github.com/cellar-sync/cellar/internal/metrics"
)

// Ledger tracks background jobs and their log trail. Job updates go through
// the caller's job copy: updates to the same job must be serialized by the
// caller, there is no internal per-job locking.
type Ledger struct {
	store  *Store
	logger zerolog.Logger
	clock  func() time.Time
	wg     sync.WaitGroup
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock injects a test clock.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New builds a Ledger over its store.
func New(store *Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: log.WithComponent("ledger"),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateAndLaunch persists a new job in processing state and returns the
// stored record. The record is re-read from storage so callers always hold
// the generated id, never a client-side guess.
func (l *Ledger) CreateAndLaunch(ctx context.Context, owner, template, label string, parentID, maxSteps int64) (*Job, error) {
	job := &Job{
		Owner:     owner,
		Template:  template,
		Label:     label,
		ParentID:  parentID,
		Status:    JobProcessing,
		Total:     maxSteps,
		StartTime: l.clock().Unix(),
	}
	id, err := l.store.InsertJob(ctx, job)
	if err != nil {
		return nil, err
	}
	metrics.IncJobCreated(owner)
	return l.store.GetJob(ctx, id)
}

// RunningJobs lists processing jobs for a template.
func (l *Ledger) RunningJobs(ctx context.Context, template string) ([]Job, error) {
	return l.store.RunningForTemplate(ctx, template)
}

// Update adds increment to the job's progress, optionally replacing the
// progress message, and persists the record.
func (l *Ledger) Update(ctx context.Context, job *Job, increment int64, message string) error {
	job.Progress += increment
	if message != "" {
		job.ProgressMessage = message
	}
	return l.store.UpdateJob(ctx, job)
}

// Done finalizes a job: status done, completion timestamp, progress forced
// to total. Exactly one Done call is expected per job; updating a job after
// Done is a caller error and is not guarded against.
func (l *Ledger) Done(ctx context.Context, job *Job, message, lastProgressMessage string) error {
	job.Status = JobDone
	job.DoneTime = l.clock().Unix()
	job.Progress = job.Total
	job.Message = message
	job.ProgressMessage = lastProgressMessage
	if err := l.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	metrics.IncJobFinished(string(JobDone))
	return nil
}

// Fail finalizes a job with an error status and message.
func (l *Ledger) Fail(ctx context.Context, job *Job, message string) error {
	job.Status = JobError
	job.DoneTime = l.clock().Unix()
	job.Message = message
	if err := l.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	metrics.IncJobFinished(string(JobError))
	return nil
}

// Jobs lists recent jobs.
func (l *Ledger) Jobs(ctx context.Context, limit int) ([]Job, error) {
	return l.store.ListJobs(ctx, limit)
}

// ClearTerminated removes jobs in a terminal status.
func (l *Ledger) ClearTerminated(ctx context.Context) error {
	return l.store.ClearTerminatedJobs(ctx)
}

// Logs lists recent log rows.
func (l *Ledger) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	return l.store.ListLogs(ctx, limit)
}

// ClearLogs wipes the log trail.
func (l *Ledger) ClearLogs(ctx context.Context) error {
	return l.store.ClearLogs(ctx)
}

// Debug writes a debug log row, fire-and-forget.
func (l *Ledger) Debug(tag, message, callerID string) {
	l.logger.Debug().Str("tag", tag).Str("caller_id", callerID).Msg(message)
	l.append(LevelDebug, tag, message, callerID)
}

// Info writes an info log row, fire-and-forget.
func (l *Ledger) Info(tag, message, callerID string) {
	l.logger.Info().Str("tag", tag).Str("caller_id", callerID).Msg(message)
	l.append(LevelInfo, tag, message, callerID)
}

// Warn writes a warning log row, fire-and-forget.
func (l *Ledger) Warn(tag, message, callerID string) {
	l.logger.Warn().Str("tag", tag).Str("caller_id", callerID).Msg(message)
	l.append(LevelWarning, tag, message, callerID)
}

// Error writes an error log row, fire-and-forget.
func (l *Ledger) Error(tag, message, callerID string) {
	l.logger.Error().Str("tag", tag).Str("caller_id", callerID).Msg(message)
	l.append(LevelError, tag, message, callerID)
}

// append persists the log row on a background task. Log writes must never
// block or fail the calling operation: persistence errors are swallowed and
// only surface as a metric.
func (l *Ledger) append(level, tag, message, callerID string) {
	entry := &LogEntry{
		Level:     level,
		Tag:       tag,
		Message:   message,
		CallerID:  callerID,
		Timestamp: l.clock().Unix(),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := l.store.InsertLog(context.Background(), entry); err != nil {
			metrics.IncLogWriteDrop()
		}
	}()
}

// Flush waits for in-flight log writes. Used on shutdown and in tests.
func (l *Ledger) Flush() {
	l.wg.Wait()
}
