package assessment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrWrongPhase       = errors.New("action not allowed in the current phase")
	ErrNotLastQuestion  = errors.New("final submission is only allowed from the last question")
	ErrAlreadySubmitted = errors.New("assessment already submitted")
	ErrNotifyInFlight   = errors.New("results email is already being sent")
)

// ValidationError reports respondent input that must be corrected before
// the action can proceed.
type ValidationError struct {
	Field   string
	Message string
	Missing bool // the field was empty rather than malformed
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// VerificationError reports a bot-check that rejected the token or could not
// be completed. The gated action may be retried with a new token.
type VerificationError struct {
	Err error // nil when the token was rejected
}

func (e *VerificationError) Error() string {
	if e.Err == nil {
		return "verification rejected"
	}
	return fmt.Sprintf("verification failed: %v", e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }
