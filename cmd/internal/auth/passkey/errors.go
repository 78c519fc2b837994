package passkey

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmailRequired       = errors.New("email required")
	ErrNotInvited          = errors.New("registration is invite-only")
	ErrChallengeMissing    = errors.New("challenge expired or missing")
	ErrUserNotFound        = errors.New("user not found")
	ErrVerification        = errors.New("verification failed")
	ErrCounterRegressed    = errors.New("authenticator counter did not increase")
	ErrDuplicateCredential = errors.New("passkey already registered")
	ErrLockedOut           = errors.New("too many failed attempts")
	ErrConfig              = errors.New("invalid passkey config")
)

// VerifyError wraps a failed parse or verification step. It matches
// ErrVerification with errors.Is.
type VerifyError struct {
	Step string
	Err  error

	// Known is set once the response named a credential registered to the
	// user, so the failure was checked against its public key.
	Known bool
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("passkey: %s: %v", e.Step, e.Err)
}

func (e *VerifyError) Unwrap() error { return e.Err }

func (e *VerifyError) Is(target error) bool { return target == ErrVerification }

// LockedError reports a login lockout and when to retry.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrLockedOut, e.RetryAfter)
}

func (e *LockedError) Unwrap() error { return ErrLockedOut }

// IsVerification reports whether err is a client-caused ceremony failure that
// maps to "Verification failed".
func IsVerification(err error) bool {
	return errors.Is(err, ErrVerification) || errors.Is(err, ErrCounterRegressed)
}

// countsTowardLockout reports whether a login failure was checked against a
// registered credential. Unparseable responses and unknown credential ids are
// not counted.
func countsTowardLockout(err error) bool {
	if errors.Is(err, ErrCounterRegressed) {
		return true
	}
	var ve *VerifyError
	return errors.As(err, &ve) && ve.Known
}
