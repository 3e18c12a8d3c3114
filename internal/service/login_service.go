package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

// How long a verify submission may hold the single-flight lock. Verification
// is a local comparison; the lock only guards against double-submission.
const verifyLockTTL = 10 * time.Second

// IdentifyOutcome discriminates what happened after the email step.
type IdentifyOutcome string

const (
	// OutcomeSession — the device was trusted, no code step needed.
	OutcomeSession IdentifyOutcome = "session"
	// OutcomeAwaitingCode — a code was issued, the user must submit it.
	OutcomeAwaitingCode IdentifyOutcome = "awaiting_code"
)

// IdentifyResult is the discriminated result of Identify/Resend. When Outcome
// is OutcomeSession only Session is set; otherwise the code-step fields are.
type IdentifyResult struct {
	Outcome  IdentifyOutcome
	DeviceID string
	Session  *SessionResult

	// Code step fields
	Delivered     bool
	CodeExpiresAt time.Time
	AttemptsLeft  int
	// Seconds until resend is allowed again. Zero when delivery failed: a
	// user with no code in hand may retry immediately.
	ResendCooldownSec int
}

// VerifyResult is the discriminated result of VerifyCode.
type VerifyResult struct {
	Session      *SessionResult
	AttemptsLeft int
}

// LoginService orchestrates the login flow: identify the email against the
// whitelist, short-circuit through device trust, otherwise issue a code and
// verify it, establishing the session and trusting the device on success.
// All flow failures surface as sentinel errors, never panics.
type LoginService struct {
	whitelistRepo  repository.WhitelistRepository
	verification   *VerificationService
	deviceTrust    *DeviceTrustService
	sessions       *SessionService
	cacheRepo      repository.CacheRepository
	resendCooldown time.Duration
}

func NewLoginService(
	whitelistRepo repository.WhitelistRepository,
	verification *VerificationService,
	deviceTrust *DeviceTrustService,
	sessions *SessionService,
	cacheRepo repository.CacheRepository,
	resendCooldown time.Duration,
) (*LoginService, error) {
	if whitelistRepo == nil {
		return nil, fmt.Errorf("whitelist repository is required")
	}
	if verification == nil {
		return nil, fmt.Errorf("verification service is required")
	}
	if deviceTrust == nil {
		return nil, fmt.Errorf("device trust service is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if cacheRepo == nil {
		return nil, fmt.Errorf("cache repository is required")
	}
	if resendCooldown <= 0 {
		resendCooldown = 60 * time.Second
	}
	return &LoginService{
		whitelistRepo:  whitelistRepo,
		verification:   verification,
		deviceTrust:    deviceTrust,
		sessions:       sessions,
		cacheRepo:      cacheRepo,
		resendCooldown: resendCooldown,
	}, nil
}

// Identify starts a login attempt. A device id may be supplied by the client
// (a browser-generated opaque token); if absent the server issues one, and
// the client is expected to persist and replay it.
func (s *LoginService) Identify(ctx context.Context, email, deviceID string) (*IdentifyResult, error) {
	entry, err := s.lookup(email)
	if err != nil {
		return nil, err
	}

	if deviceID == "" {
		deviceID = uuid.New().String()
	}

	trusted, err := s.deviceTrust.IsTrusted(deviceID, entry.Email, entry.Role)
	if err != nil {
		return nil, err
	}
	if trusted {
		session, err := s.sessions.Establish(entry, deviceID)
		if err != nil {
			return nil, err
		}
		log.Printf("[LoginService] trusted device %s for %s, code step skipped", deviceID, entry.Email)
		return &IdentifyResult{Outcome: OutcomeSession, DeviceID: deviceID, Session: session}, nil
	}

	return s.issueCode(ctx, entry, deviceID)
}

// Resend supersedes the current pending code with a fresh one. The cooldown
// counts only from a successful delivery: when the channel is failing the
// user has no code to wait out, so resend stays available.
func (s *LoginService) Resend(ctx context.Context, email, deviceID string) (*IdentifyResult, error) {
	entry, err := s.lookup(email)
	if err != nil {
		return nil, err
	}

	status, err := s.verification.Status(entry.Email)
	if err != nil {
		return nil, err
	}
	if status.DeliveredAt != nil {
		remaining := time.Until(status.DeliveredAt.Add(s.resendCooldown))
		if remaining > 0 {
			return nil, fmt.Errorf("%w: retry in %ds", ErrResendCooldown, int(remaining.Seconds())+1)
		}
	}

	return s.issueCode(ctx, entry, deviceID)
}

// VerifyCode checks the submitted digits. On success the device is trusted
// and a session established. Submissions are single-flight per email: a
// second submission while one is in flight is rejected, mirroring the UI
// lock during verification.
func (s *LoginService) VerifyCode(ctx context.Context, email, deviceID, code string) (*VerifyResult, error) {
	entry, err := s.lookup(email)
	if err != nil {
		return nil, err
	}

	locked, err := s.cacheRepo.SetNX(verifyLockKey(entry.Email), "1", verifyLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire verify lock: %w", err)
	}
	if !locked {
		return nil, ErrVerifyInFlight
	}
	defer func() {
		if err := s.cacheRepo.Delete(verifyLockKey(entry.Email)); err != nil {
			log.Printf("[LoginService] failed to release verify lock for %s: %v", entry.Email, err)
		}
	}()

	attemptsLeft, err := s.verification.Verify(ctx, entry.Email, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			return &VerifyResult{AttemptsLeft: attemptsLeft}, err
		}
		return nil, err
	}

	if err := s.deviceTrust.Trust(deviceID, entry.Email, entry.Role); err != nil {
		// Trust is a convenience cache; failing to record it must not undo a
		// correct code submission.
		log.Printf("[LoginService] failed to trust device %s for %s: %v", deviceID, entry.Email, err)
	}

	session, err := s.sessions.Establish(entry, deviceID)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Session: session}, nil
}

// Cancel is the back-navigation path: it destroys the pending code so
// nothing entered after the cancel can ever verify. It is refused while a
// verify submission is in flight.
func (s *LoginService) Cancel(email string) error {
	email = entity.NormalizeEmail(email)
	inFlight, err := s.cacheRepo.Exists(verifyLockKey(email))
	if err != nil {
		return err
	}
	if inFlight {
		return ErrVerifyInFlight
	}
	return s.verification.Cancel(email)
}

// lookup resolves the email against the whitelist. Absence maps to
// ErrNotWhitelisted; the handler renders it as a generic access-denied so an
// attacker cannot distinguish "unregistered" from "locked out".
func (s *LoginService) lookup(email string) (*entity.WhitelistEntry, error) {
	email = entity.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", apperrors.ErrValidation)
	}
	entry, err := s.whitelistRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrNotWhitelisted
		}
		return nil, err
	}
	return entry, nil
}

func (s *LoginService) issueCode(ctx context.Context, entry *entity.WhitelistEntry, deviceID string) (*IdentifyResult, error) {
	issue, err := s.verification.Issue(ctx, entry.Email)
	if err != nil {
		return nil, err
	}

	result := &IdentifyResult{
		Outcome:       OutcomeAwaitingCode,
		DeviceID:      deviceID,
		Delivered:     issue.Delivered,
		CodeExpiresAt: issue.ExpiresAt,
		AttemptsLeft:  issue.AttemptsLeft,
	}
	if issue.Delivered {
		result.ResendCooldownSec = int(s.resendCooldown.Seconds())
	}
	return result, nil
}

func verifyLockKey(email string) string {
	return "verify-lock:" + email
}
