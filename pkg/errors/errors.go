package errors

import "errors"

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")
)

// Dispatch failure sentinels. The retry scheduler classifies failures by
// identity against these, never by message text. The first three are
// configuration problems and permanent; insufficient credits is retryable
// because balances can be topped up mid-campaign.
var (
	ErrCallerIDMissing     = errors.New("caller ID number not configured")
	ErrAgentNotFound       = errors.New("agent not found")
	ErrLeadPhoneMissing    = errors.New("lead phone number missing")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}
