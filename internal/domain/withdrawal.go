package domain

import (
	"encoding/json"
	"time"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

type PayoutMethod string

const (
	PayoutMethodCard PayoutMethod = "card"
	PayoutMethodSBP  PayoutMethod = "sbp"
)

type WithdrawalRequest struct {
	ID         int64
	UserID     int64
	Amount     int64
	Method     PayoutMethod
	Details    json.RawMessage
	Status     WithdrawalStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
