package service

import "errors"

// Auth flow specific errors used by handlers for stable error_type mapping.
var (
	ErrNotWhitelisted        = errors.New("not_whitelisted")
	ErrInvalidCode           = errors.New("invalid_code")
	ErrCodeExpired           = errors.New("code_expired")
	ErrAttemptsExhausted     = errors.New("attempts_exhausted")
	ErrNoPendingVerification = errors.New("no_pending_verification")
	ErrResendCooldown        = errors.New("resend_cooldown")
	ErrVerifyInFlight        = errors.New("verify_in_flight")
)
