package domain

import "time"

type User struct {
	ID              int64
	Username        string
	FirstName       string
	EarningsBalance int64
	ReferralBalance int64
	ReferredBy      *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Available is the combined balance a withdrawal may draw from.
func (u *User) Available() int64 {
	return u.EarningsBalance + u.ReferralBalance
}

type ReferralStats struct {
	ReferralCount   int
	TotalCommission int64
}
