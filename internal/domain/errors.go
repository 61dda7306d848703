package domain

import "github.com/go-faster/errors"

var (
	ErrNoTaskAvailable         = errors.New("no task available")
	ErrTaskContention          = errors.New("lost the race for every available task")
	ErrLeaseLimitExceeded      = errors.New("active lease limit exceeded")
	ErrLeaseExpired            = errors.New("lease expired")
	ErrInvalidLeaseState       = errors.New("invalid lease state for this transition")
	ErrDuplicateActiveLease    = errors.New("task already has an active lease")
	ErrLeaseNotFound           = errors.New("lease not found")
	ErrLeaseNotOwned           = errors.New("lease belongs to another user")
	ErrAttachmentsRequired     = errors.New("at least one attachment is required")
	ErrTooManyAttachments      = errors.New("too many attachments")
	ErrDuplicateAttachment     = errors.New("duplicate attachment reference")
	ErrInvalidDisclosedValue   = errors.New("disclosed value is missing or malformed")
	ErrInvalidVerdict          = errors.New("unknown verdict")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrBalanceOverflow         = errors.New("balance would exceed the configured ceiling")
	ErrInvalidWithdrawalAmount = errors.New("invalid withdrawal amount")
	ErrWithdrawalPending       = errors.New("a pending withdrawal already exists")
	ErrWithdrawalNotFound      = errors.New("withdrawal request not found")
	ErrInvalidWithdrawalState  = errors.New("withdrawal request is not pending")
	ErrInvalidPayoutDetails    = errors.New("invalid payout details")
	ErrSelfReferral            = errors.New("user cannot refer themselves")
	ErrReferrerNotFound        = errors.New("referrer not found")
	ErrReferralAlreadySet      = errors.New("referrer already set")
	ErrUserNotFound            = errors.New("user not found")
	ErrTaskNotFound            = errors.New("task not found")
	ErrUnknownTaskKind         = errors.New("unknown task kind")
	ErrInvalidTaskURL          = errors.New("invalid task url")
)

// IsExpected reports whether err is one of the typed, caller-recoverable
// conditions above rather than an infrastructure failure.
func IsExpected(err error) bool {
	for _, e := range expected {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

var expected = []error{
	ErrNoTaskAvailable, ErrTaskContention, ErrLeaseLimitExceeded, ErrLeaseExpired,
	ErrInvalidLeaseState, ErrDuplicateActiveLease, ErrLeaseNotFound, ErrLeaseNotOwned,
	ErrAttachmentsRequired, ErrTooManyAttachments, ErrDuplicateAttachment,
	ErrInvalidDisclosedValue, ErrInvalidVerdict, ErrInsufficientBalance, ErrBalanceOverflow,
	ErrInvalidWithdrawalAmount, ErrWithdrawalPending, ErrWithdrawalNotFound,
	ErrInvalidWithdrawalState, ErrInvalidPayoutDetails, ErrSelfReferral, ErrReferrerNotFound,
	ErrReferralAlreadySet, ErrUserNotFound, ErrTaskNotFound, ErrUnknownTaskKind, ErrInvalidTaskURL,
}
