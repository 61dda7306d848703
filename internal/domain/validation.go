package domain

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
)

var phonePattern = regexp.MustCompile(`^\+7\d{10}$`)

// ValidPhone reports whether s is a Russian mobile number in +7XXXXXXXXXX form.
func ValidPhone(s string) bool {
	return phonePattern.MatchString(s)
}

type CardDetails struct {
	CardNumber     string `json:"card_number" validate:"required,len=16,numeric"`
	CardholderName string `json:"cardholder_name" validate:"required"`
}

type SBPDetails struct {
	BankName    string `json:"bank_name" validate:"required"`
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func payoutValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		if err := validate.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return ValidPhone(fl.Field().String())
		}); err != nil {
			panic(errors.Wrap(err, "register phone validation"))
		}
	})
	return validate
}

// ValidateTaskURL checks the listing link of a new task.
func ValidateTaskURL(u string) error {
	if err := payoutValidator().Var(u, "required,url"); err != nil {
		return errors.Wrap(ErrInvalidTaskURL, err.Error())
	}
	return nil
}

// ValidatePayoutDetails checks the method-specific payload of a withdrawal
// and returns it normalized (card spaces stripped, names trimmed).
func ValidatePayoutDetails(method PayoutMethod, raw json.RawMessage) (json.RawMessage, error) {
	var v any
	switch method {
	case PayoutMethodCard:
		var d CardDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.Wrap(ErrInvalidPayoutDetails, err.Error())
		}
		d.CardNumber = strings.ReplaceAll(d.CardNumber, " ", "")
		d.CardholderName = strings.TrimSpace(d.CardholderName)
		v = d
	case PayoutMethodSBP:
		var d SBPDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, errors.Wrap(ErrInvalidPayoutDetails, err.Error())
		}
		d.BankName = strings.TrimSpace(d.BankName)
		v = d
	default:
		return nil, errors.Wrapf(ErrInvalidPayoutDetails, "unknown method %q", method)
	}

	if err := payoutValidator().Struct(v); err != nil {
		return nil, errors.Wrap(ErrInvalidPayoutDetails, err.Error())
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payout details")
	}
	return out, nil
}

// ValidateAttachments enforces the submission completeness rules on the
// reference list. The references themselves are opaque.
func ValidateAttachments(refs []string, max int) error {
	if len(refs) == 0 {
		return ErrAttachmentsRequired
	}
	if len(refs) > max {
		return ErrTooManyAttachments
	}
	seen := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		if strings.TrimSpace(r) == "" {
			return ErrAttachmentsRequired
		}
		if _, ok := seen[r]; ok {
			return ErrDuplicateAttachment
		}
		seen[r] = struct{}{}
	}
	return nil
}
