package dto

import (
	"time"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/service"
)

// UserResponse — снимок записи whitelist, который видит клиент после входа
type UserResponse struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	CampusID   string `json:"campus_id"`
	FullName   string `json:"full_name"`
	Department string `json:"department,omitempty"`
}

// NewUserResponse строит UserResponse из доменной сущности
func NewUserResponse(entry *entity.WhitelistEntry) *UserResponse {
	if entry == nil {
		return nil
	}
	return &UserResponse{
		Email:      entry.Email,
		Role:       entry.Role,
		CampusID:   entry.CampusID,
		FullName:   entry.FullName,
		Department: entry.Department,
	}
}

// SessionResponse — ответ при установленной сессии (доверенное устройство
// или успешная проверка кода)
type SessionResponse struct {
	Status      string        `json:"status"`
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expires_in"`
	DeviceID    string        `json:"device_id"`
	User        *UserResponse `json:"user"`
}

// NewSessionResponse строит ответ из результата SessionService
func NewSessionResponse(deviceID string, res *service.SessionResult) *SessionResponse {
	return &SessionResponse{
		Status:      "session",
		AccessToken: res.Token,
		TokenType:   "Bearer",
		ExpiresIn:   res.ExpiresIn,
		DeviceID:    deviceID,
		User:        NewUserResponse(res.User),
	}
}

// PendingCodeResponse — ответ, когда вход требует подтверждения кодом
type PendingCodeResponse struct {
	Status            string    `json:"status"`
	DeviceID          string    `json:"device_id"`
	Delivered         bool      `json:"delivered"`
	CodeExpiresAt     time.Time `json:"code_expires_at"`
	AttemptsLeft      int       `json:"attempts_left"`
	ResendCooldownSec int       `json:"resend_cooldown_sec"`
}
