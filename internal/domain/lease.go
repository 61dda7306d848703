package domain

import (
	"strconv"
	"time"
)

type LeaseState string

const (
	LeaseStateLeased    LeaseState = "leased"
	LeaseStateSubmitted LeaseState = "submitted"
	LeaseStateApproved  LeaseState = "approved"
	LeaseStateRejected  LeaseState = "rejected"
	LeaseStateExpired   LeaseState = "expired"
	LeaseStateCancelled LeaseState = "cancelled"
)

func (s LeaseState) Terminal() bool {
	switch s {
	case LeaseStateApproved, LeaseStateRejected, LeaseStateExpired, LeaseStateCancelled:
		return true
	default:
		return false
	}
}

type Lease struct {
	ID             int64
	TaskID         int64
	UserID         int64
	State          LeaseState
	ExpiresAt      time.Time
	CreatedAt      time.Time
	SubmittedAt    *time.Time
	ResolvedAt     *time.Time
	Attachments    []string
	DisclosedValue *string

	// Task is populated by queries that join the task row.
	Task *Task
}

// ExpiredAt reports whether the lease deadline passed at now. The reclaim
// sweep and the submission gate both use this comparison.
func (l *Lease) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt.Before(now)
}

// AttachmentPrefix is the reference prefix under which this lease's uploads
// live. Discarding it removes uploads that never made it into a submission.
func (l *Lease) AttachmentPrefix() string {
	return strconv.FormatInt(l.UserID, 10) + "/" + strconv.FormatInt(l.ID, 10)
}

// PendingDiscard is an attachment reference queued for deletion.
type PendingDiscard struct {
	ID      int64
	LeaseID int64
	Ref     string
}
