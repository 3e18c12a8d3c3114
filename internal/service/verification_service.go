package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

const codeLength = 6

// IssueResult reports the outcome of issuing a login code. Delivered=false is
// not an error: the code stays stored and verifiable, the caller only uses
// the flag to show a "delivery not configured" notice and to skip the resend
// cooldown.
type IssueResult struct {
	Delivered    bool
	ExpiresAt    time.Time
	AttemptsLeft int
}

// PendingStatus is a read-only snapshot of the live pending code.
type PendingStatus struct {
	ExpiresAt    time.Time
	AttemptsLeft int
	DeliveredAt  *time.Time
}

// VerificationService issues and verifies the one-time login codes. It owns
// no cooldown logic; the login orchestrator rate-limits resends.
type VerificationService struct {
	verificationRepo repository.VerificationRepository
	emailService     EmailService
	codeTTL          time.Duration
	maxAttempts      int
	codePepper       string
}

func NewVerificationService(
	verificationRepo repository.VerificationRepository,
	emailService EmailService,
	codeTTL time.Duration,
	maxAttempts int,
	codePepper string,
) (*VerificationService, error) {
	if verificationRepo == nil {
		return nil, fmt.Errorf("verification repository is required")
	}
	if emailService == nil {
		return nil, fmt.Errorf("email service is required")
	}
	if codeTTL <= 0 {
		codeTTL = 5 * time.Minute
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	return &VerificationService{
		verificationRepo: verificationRepo,
		emailService:     emailService,
		codeTTL:          codeTTL,
		maxAttempts:      maxAttempts,
		codePepper:       codePepper,
	}, nil
}

// Issue generates a fresh 6-digit code for the email, supersedes any prior
// pending code, and attempts delivery. Delivery failure is swallowed into
// IssueResult.Delivered; the code itself is always usable afterwards.
func (s *VerificationService) Issue(ctx context.Context, email string) (*IssueResult, error) {
	email = entity.NormalizeEmail(email)

	code, err := generateLoginCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate login code: %w", err)
	}
	salt, err := generateCodeSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code salt: %w", err)
	}

	now := time.Now()
	record := &entity.PendingVerification{
		Email:        email,
		CodeHash:     hashLoginCode(code, salt, s.codePepper),
		CodeSalt:     salt,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.codeTTL),
		AttemptCount: 0,
		MaxAttempts:  s.maxAttempts,
	}
	// The new row supersedes older ones: older rows are dropped outright so a
	// stale code can never verify after a resend.
	if err := s.verificationRepo.DeleteByEmail(email); err != nil {
		return nil, fmt.Errorf("failed to supersede prior verification: %w", err)
	}
	if err := s.verificationRepo.Create(record); err != nil {
		return nil, fmt.Errorf("failed to create verification record: %w", err)
	}

	result := &IssueResult{
		ExpiresAt:    record.ExpiresAt,
		AttemptsLeft: s.maxAttempts,
	}

	idempotencyKey := fmt.Sprintf("login-code:%s:%d", email, record.ID)
	if err := s.emailService.SendLoginCode(ctx, email, code, idempotencyKey); err != nil {
		// Fallback disclosure path for operators; the flow continues.
		log.Printf("[VerificationService] delivery failed for %s: %v (code %s remains valid until %s)",
			email, err, code, record.ExpiresAt.Format(time.RFC3339))
		return result, nil
	}

	if err := s.verificationRepo.MarkDelivered(record.ID); err != nil {
		log.Printf("[VerificationService] failed to mark code delivered for %s: %v", email, err)
	}
	result.Delivered = true
	return result, nil
}

// Verify checks the submitted code against the live pending record. It
// returns the remaining attempt budget together with a sentinel error:
//   - nil: code accepted, record consumed
//   - ErrInvalidCode: wrong code, attempts remain
//   - ErrCodeExpired: deadline passed (checked before comparison)
//   - ErrAttemptsExhausted: fifth miss, record destroyed
//   - ErrNoPendingVerification: nothing to verify against
func (s *VerificationService) Verify(ctx context.Context, email, code string) (int, error) {
	email = entity.NormalizeEmail(email)

	if !validCodeShape(code) {
		return 0, fmt.Errorf("%w: code must be exactly %d digits", apperrors.ErrValidation, codeLength)
	}

	record, err := s.verificationRepo.GetLatestByEmail(email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, ErrNoPendingVerification
		}
		return 0, err
	}

	now := time.Now()
	// Expiry wins over everything, including a matching code.
	if record.IsExpired(now) {
		return 0, ErrCodeExpired
	}
	if record.AttemptCount >= record.MaxAttempts {
		if err := s.verificationRepo.DeleteByEmail(email); err != nil {
			log.Printf("[VerificationService] failed to destroy exhausted record for %s: %v", email, err)
		}
		return 0, ErrAttemptsExhausted
	}

	expectedHash := hashLoginCode(code, record.CodeSalt, s.codePepper)
	if subtle.ConstantTimeCompare([]byte(expectedHash), []byte(record.CodeHash)) != 1 {
		if err := s.verificationRepo.IncrementAttempts(record.ID); err != nil {
			return 0, fmt.Errorf("failed to increment attempts: %w", err)
		}
		attemptsLeft := record.MaxAttempts - record.AttemptCount - 1
		if attemptsLeft <= 0 {
			if err := s.verificationRepo.DeleteByEmail(email); err != nil {
				log.Printf("[VerificationService] failed to destroy exhausted record for %s: %v", email, err)
			}
			return 0, ErrAttemptsExhausted
		}
		return attemptsLeft, ErrInvalidCode
	}

	// Consume on success so the code is strictly single-use.
	if err := s.verificationRepo.DeleteByEmail(email); err != nil {
		return 0, fmt.Errorf("failed to consume verification record: %w", err)
	}
	return record.AttemptsLeft(), nil
}

// Cancel destroys the live pending code, if any. Back-navigation in the
// login flow calls this so an abandoned code never verifies later.
func (s *VerificationService) Cancel(email string) error {
	return s.verificationRepo.DeleteByEmail(entity.NormalizeEmail(email))
}

// Status returns a snapshot of the live pending code, or
// ErrNoPendingVerification when none exists.
func (s *VerificationService) Status(email string) (*PendingStatus, error) {
	record, err := s.verificationRepo.GetLatestByEmail(entity.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, ErrNoPendingVerification
		}
		return nil, err
	}
	return &PendingStatus{
		ExpiresAt:    record.ExpiresAt,
		AttemptsLeft: record.AttemptsLeft(),
		DeliveredAt:  record.DeliveredAt,
	}, nil
}

func validCodeShape(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// generateLoginCode returns a zero-padded 6-digit code. The string form keeps
// leading zeros: the code space is 000000-999999.
func generateLoginCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func generateCodeSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashLoginCode(code, salt, pepper string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + salt + ":" + code))
	return hex.EncodeToString(sum[:])
}
