package domain

import "strings"

type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictReject  Verdict = "reject"
)

func ParseVerdict(s string) (Verdict, error) {
	switch v := Verdict(strings.ToLower(strings.TrimSpace(s))); v {
	case VerdictApprove, VerdictReject:
		return v, nil
	default:
		return "", ErrInvalidVerdict
	}
}
