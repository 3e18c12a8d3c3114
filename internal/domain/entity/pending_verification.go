package entity

import "time"

// PendingVerification stores the single live hashed login code for an email.
// Only the most recent unconsumed row per email is ever consulted, so a
// resend supersedes earlier codes without touching them.
type PendingVerification struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Email        string     `gorm:"size:100;not null;index" json:"email"`
	CodeHash     string     `gorm:"size:64;not null" json:"-"`
	CodeSalt     string     `gorm:"size:64;not null" json:"-"`
	IssuedAt     time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt    time.Time  `gorm:"not null;index" json:"expires_at"`
	AttemptCount int        `gorm:"not null;default:0" json:"attempt_count"`
	MaxAttempts  int        `gorm:"not null;default:5" json:"max_attempts"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (PendingVerification) TableName() string {
	return "pending_verifications"
}

func (p *PendingVerification) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// AttemptsLeft returns the remaining attempt budget, never negative.
func (p *PendingVerification) AttemptsLeft() int {
	left := p.MaxAttempts - p.AttemptCount
	if left < 0 {
		return 0
	}
	return left
}

// WasDelivered reports whether the email channel confirmed delivery. An
// undelivered code is still verifiable; the flag only drives the resend
// cooldown and the "delivery not configured" notice.
func (p *PendingVerification) WasDelivered() bool {
	return p.DeliveredAt != nil
}
