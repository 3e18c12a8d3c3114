package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/domain/repository"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

// DeviceTrustService caches a per-device exemption from the code step.
// Expiry is lazy: records are checked at lookup, never swept proactively,
// since a stale record is inert until someone presents its device id.
type DeviceTrustService struct {
	deviceRepo    repository.TrustedDeviceRepository
	trustDuration time.Duration
}

func NewDeviceTrustService(deviceRepo repository.TrustedDeviceRepository, trustDays int) (*DeviceTrustService, error) {
	if deviceRepo == nil {
		return nil, fmt.Errorf("trusted device repository is required")
	}
	if trustDays <= 0 {
		trustDays = 30
	}
	return &DeviceTrustService{
		deviceRepo:    deviceRepo,
		trustDuration: time.Duration(trustDays) * 24 * time.Hour,
	}, nil
}

// IsTrusted reports whether deviceID currently holds live trust for the
// account under the given role. A pinned-role mismatch means not trusted,
// not an error: a whitelist role change forces re-verification.
func (s *DeviceTrustService) IsTrusted(deviceID, email, role string) (bool, error) {
	if deviceID == "" {
		return false, nil
	}
	record, err := s.deviceRepo.GetByDeviceAndEmail(deviceID, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if record.IsExpired(time.Now()) {
		return false, nil
	}
	if !record.MatchesRole(role) {
		log.Printf("[DeviceTrust] role changed for %s (trusted as %q, whitelist says %q), trust invalidated",
			email, record.Role, role)
		return false, nil
	}
	return true, nil
}

// Trust upserts the trust record for (deviceID, email), pinning the role at
// this moment. Re-trusting simply extends the expiry.
func (s *DeviceTrustService) Trust(deviceID, email, role string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id is required", apperrors.ErrValidation)
	}
	now := time.Now()
	return s.deviceRepo.Upsert(&entity.TrustedDevice{
		DeviceID:  deviceID,
		Email:     entity.NormalizeEmail(email),
		Role:      role,
		TrustedAt: now,
		ExpiresAt: now.Add(s.trustDuration),
	})
}

// Revoke removes every trust record for the account, forcing code
// verification on all devices. Used by operators after a suspected
// compromise.
func (s *DeviceTrustService) Revoke(email string) (int64, error) {
	removed, err := s.deviceRepo.DeleteByEmail(email)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("[DeviceTrust] revoked %d trusted device(s) for %s", removed, email)
	}
	return removed, nil
}

// CleanupExpired removes expired rows. Called from the periodic maintenance
// goroutine in main; correctness never depends on it.
func (s *DeviceTrustService) CleanupExpired() (int64, error) {
	return s.deviceRepo.CleanupExpired()
}
