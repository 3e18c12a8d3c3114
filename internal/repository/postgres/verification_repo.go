package postgres

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

type VerificationRepo struct {
	db *gorm.DB
}

func NewVerificationRepo(db *gorm.DB) *VerificationRepo {
	return &VerificationRepo{db: db}
}

func (r *VerificationRepo) Create(code *entity.PendingVerification) error {
	code.Email = entity.NormalizeEmail(code.Email)
	return r.db.Create(code).Error
}

// GetLatestByEmail returns the most recent pending code for the email. Older
// rows are superseded and never consulted, which is what makes a resend
// invalidate the previous code.
func (r *VerificationRepo) GetLatestByEmail(email string) (*entity.PendingVerification, error) {
	var code entity.PendingVerification
	err := r.db.
		Where("email = ?", entity.NormalizeEmail(email)).
		Order("created_at DESC").
		First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest pending verification: %w", err)
	}
	return &code, nil
}

func (r *VerificationRepo) IncrementAttempts(id uint) error {
	return r.db.Model(&entity.PendingVerification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

func (r *VerificationRepo) MarkDelivered(id uint) error {
	now := time.Now()
	return r.db.Model(&entity.PendingVerification{}).
		Where("id = ?", id).
		Update("delivered_at", now).Error
}

func (r *VerificationRepo) DeleteByEmail(email string) error {
	return r.db.Where("email = ?", entity.NormalizeEmail(email)).
		Delete(&entity.PendingVerification{}).Error
}
