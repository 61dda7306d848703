package router

import (
	"encoding/json"
	"time"

	"github.com/set-night/tasker/internal/domain"
)

type registerRequest struct {
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	ReferrerID *int64 `json:"referrer_id"`
}

type leaseRequest struct {
	Kind string `json:"kind"`
}

type submitRequest struct {
	Attachments []string `json:"attachments"`
	Value       string   `json:"value"`
}

type withdrawalRequest struct {
	Amount  int64           `json:"amount"`
	Method  string          `json:"method"`
	Details json.RawMessage `json:"details"`
}

type userResponse struct {
	ID              int64     `json:"id"`
	Username        string    `json:"username"`
	FirstName       string    `json:"first_name"`
	EarningsBalance int64     `json:"earnings_balance"`
	ReferralBalance int64     `json:"referral_balance"`
	Available       int64     `json:"available"`
	ReferredBy      *int64    `json:"referred_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

func toUser(u *domain.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Username:        u.Username,
		FirstName:       u.FirstName,
		EarningsBalance: u.EarningsBalance,
		ReferralBalance: u.ReferralBalance,
		Available:       u.Available(),
		ReferredBy:      u.ReferredBy,
		CreatedAt:       u.CreatedAt,
	}
}

type taskResponse struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	URL         string `json:"url"`
	MessageText string `json:"message_text"`
	Price       int64  `json:"price"`
}

type leaseResponse struct {
	ID          int64         `json:"id"`
	TaskID      int64         `json:"task_id"`
	State       string        `json:"state"`
	ExpiresAt   time.Time     `json:"expires_at"`
	CreatedAt   time.Time     `json:"created_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	Attachments []string      `json:"attachments"`
	Value       *string       `json:"value,omitempty"`
	Task        *taskResponse `json:"task,omitempty"`
}

func toLease(l *domain.Lease) leaseResponse {
	resp := leaseResponse{
		ID:          l.ID,
		TaskID:      l.TaskID,
		State:       string(l.State),
		ExpiresAt:   l.ExpiresAt,
		CreatedAt:   l.CreatedAt,
		SubmittedAt: l.SubmittedAt,
		ResolvedAt:  l.ResolvedAt,
		Attachments: l.Attachments,
		Value:       l.DisclosedValue,
	}
	if resp.Attachments == nil {
		resp.Attachments = []string{}
	}
	if l.Task != nil {
		resp.Task = &taskResponse{
			ID:          l.Task.ID,
			Kind:        string(l.Task.Kind),
			URL:         l.Task.URL,
			MessageText: l.Task.MessageText,
			Price:       l.Task.Price,
		}
	}
	return resp
}

func toLeases(leases []domain.Lease) []leaseResponse {
	out := make([]leaseResponse, 0, len(leases))
	for i := range leases {
		out = append(out, toLease(&leases[i]))
	}
	return out
}

type withdrawalResponse struct {
	ID         int64           `json:"id"`
	Amount     int64           `json:"amount"`
	Method     string          `json:"method"`
	Details    json.RawMessage `json:"details"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

func toWithdrawal(w *domain.WithdrawalRequest) withdrawalResponse {
	return withdrawalResponse{
		ID:         w.ID,
		Amount:     w.Amount,
		Method:     string(w.Method),
		Details:    w.Details,
		Status:     string(w.Status),
		CreatedAt:  w.CreatedAt,
		ResolvedAt: w.ResolvedAt,
	}
}

type commissionResponse struct {
	ReferredID    int64     `json:"referred_id"`
	SourceLeaseID int64     `json:"source_lease_id"`
	Amount        int64     `json:"amount"`
	TaskKind      string    `json:"task_kind"`
	CreatedAt     time.Time `json:"created_at"`
}

type referralStatsResponse struct {
	ReferralCount   int                  `json:"referral_count"`
	TotalCommission int64                `json:"total_commission"`
	ReferralBalance int64                `json:"referral_balance"`
	Commissions     []commissionResponse `json:"commissions"`
}

type configResponse struct {
	SimpleTaskPrice   int64    `json:"simple_task_price"`
	PhoneTaskPrice    int64    `json:"phone_task_price"`
	MaxActiveLeases   int      `json:"max_active_leases"`
	LeaseDurationSecs int64    `json:"lease_duration_seconds"`
	MinWithdrawal     int64    `json:"min_withdrawal"`
	CommissionRate    string   `json:"referral_commission"`
	MaxAttachments    int      `json:"max_attachments"`
	MaxFileSize       int      `json:"max_file_size"`
	AttachmentTypes   []string `json:"attachment_types"`
}
