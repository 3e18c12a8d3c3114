package repository

import "github.com/yourusername/campus-portal-api/internal/domain/entity"

// VerificationRepository persists pending login codes. Only the latest row
// per email is live; older rows are inert and removed by DeleteByEmail.
type VerificationRepository interface {
	Create(code *entity.PendingVerification) error
	GetLatestByEmail(email string) (*entity.PendingVerification, error)
	IncrementAttempts(id uint) error
	MarkDelivered(id uint) error
	DeleteByEmail(email string) error
}
