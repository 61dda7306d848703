package domain

import "time"

// CommissionPosting is the append-only record of a referral credit. At most
// one exists per source lease.
type CommissionPosting struct {
	ID            int64
	ReferrerID    int64
	ReferredID    int64
	SourceLeaseID int64
	Amount        int64
	TaskKind      TaskKind
	CreatedAt     time.Time
}
