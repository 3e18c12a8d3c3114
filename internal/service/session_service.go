package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/domain/repository"
	"github.com/yourusername/campus-portal-api/internal/events"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
	"github.com/yourusername/campus-portal-api/pkg/auth"
)

// SessionResult carries everything a freshly authenticated tab needs.
type SessionResult struct {
	Token     string
	SessionID string
	ExpiresIn int
	User      *entity.WhitelistEntry
}

// SessionService owns the live-session registry and the cross-tab sign-out
// signal. A session is live while its redis key exists; signing out removes
// the key and broadcasts a session event so every other tab of the same
// account clears itself. Device trust is deliberately left untouched on
// sign-out.
type SessionService struct {
	cacheRepo  repository.CacheRepository
	jwtService *auth.JWTService
	pubsub     events.PubSubProvider
}

func NewSessionService(
	cacheRepo repository.CacheRepository,
	jwtService *auth.JWTService,
	pubsub events.PubSubProvider,
) (*SessionService, error) {
	if cacheRepo == nil {
		return nil, fmt.Errorf("cache repository is required")
	}
	if jwtService == nil {
		return nil, fmt.Errorf("jwt service is required")
	}
	if pubsub == nil {
		return nil, fmt.Errorf("pubsub provider is required")
	}
	return &SessionService{
		cacheRepo:  cacheRepo,
		jwtService: jwtService,
		pubsub:     pubsub,
	}, nil
}

// Establish issues a session token for the whitelist identity snapshot and
// registers the session as live.
func (s *SessionService) Establish(entry *entity.WhitelistEntry, deviceID string) (*SessionResult, error) {
	sessionID := uuid.New().String()

	token, err := s.jwtService.GenerateToken(
		sessionID, entry.Email, entry.Role, entry.CampusID, entry.FullName, deviceID)
	if err != nil {
		return nil, err
	}

	ttl := s.jwtService.Expiry()
	if err := s.cacheRepo.Set(sessionKey(sessionID), entry.Email, ttl); err != nil {
		return nil, fmt.Errorf("failed to register session: %w", err)
	}

	log.Printf("[SessionService] session %s established for %s (%s)", sessionID, entry.Email, entry.Role)
	return &SessionResult{
		Token:     token,
		SessionID: sessionID,
		ExpiresIn: int(ttl.Seconds()),
		User:      entry,
	}, nil
}

// IsLive reports whether the session id is still registered. A session
// cleared in another tab stops being live immediately, even though its JWT
// is still cryptographically valid.
func (s *SessionService) IsLive(sessionID string) (bool, error) {
	_, err := s.cacheRepo.Get(sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Clear ends the session and broadcasts the sign-out so other tabs of the
// same account observe it. Only sign-out propagates; sign-in never does.
func (s *SessionService) Clear(sessionID, email string) error {
	if err := s.cacheRepo.Delete(sessionKey(sessionID)); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	event := events.SessionEvent{
		Type:      events.EventSignedOut,
		Email:     entity.NormalizeEmail(email),
		SessionID: sessionID,
		Timestamp: time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode session event: %w", err)
	}
	if err := s.pubsub.Publish(events.SessionChannel, payload); err != nil {
		// The session is already gone; a lost broadcast only delays other tabs
		// until their next request.
		log.Printf("[SessionService] failed to publish sign-out for %s: %v", email, err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}
