// SPDX-License-Identifier: MIT

// Package transfer tracks individual file uploads and downloads: their
// persistent queue, progress, and pause/resume/cancel lifecycle.
package transfer

// Type is the direction of a transfer.
type Type string

const (
	TypeDownload Type = "download"
	TypeUpload   Type = "upload"
)

// Status is the lifecycle status of one transfer.
type Status string

const (
	StatusNew        Status = "new"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCancelled  Status = "cancelled"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Terminal reports whether the status is final. Paused is not terminal:
// a paused transfer can be resumed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusDone, StatusError:
		return true
	default:
		return false
	}
}

// SizeUnknown marks a transfer whose remote size has not been resolved yet.
const SizeUnknown int64 = -1

// Owners of a transfer, mirrored into the job ledger.
const (
	OwnerUser   = "user"
	OwnerWorker = "worker"
)

// Transfer is one tracked file movement, independent of any parent job.
type Transfer struct {
	ID          int64
	AccountID   string
	NodePath    string // remote node path within the account's repository
	Type        Type
	LocalPath   string
	Size        int64 // expected bytes, SizeUnknown until resolved
	Transferred int64
	Status      Status
	Owner       string // who initiated the transfer (user, worker)
	CreatedAt   int64  // unix seconds
	StartedAt   int64
	DoneAt      int64
	Error       string
	JobID       int64 // optional parent job in the ledger
}

// Order controls query ordering for transfer listings.
type Order string

const (
	OrderByCreated Order = "created"
	OrderByStatus  Order = "status"
)

// Filter restricts a transfer listing. Zero value means no restriction.
type Filter struct {
	Status Status // "" matches all statuses
}
