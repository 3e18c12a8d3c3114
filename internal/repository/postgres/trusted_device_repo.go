package postgres

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

// TrustedDeviceRepo реализует repository.TrustedDeviceRepository
type TrustedDeviceRepo struct {
	db *gorm.DB
}

// NewTrustedDeviceRepo создает новый репозиторий доверенных устройств
func NewTrustedDeviceRepo(db *gorm.DB) *TrustedDeviceRepo {
	return &TrustedDeviceRepo{db: db}
}

// Upsert создает или перезаписывает запись для пары (deviceID, email).
// Инвариант: одна живая запись на пару.
func (r *TrustedDeviceRepo) Upsert(device *entity.TrustedDevice) error {
	device.Email = entity.NormalizeEmail(device.Email)
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "device_id"}, {Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"role", "trusted_at", "expires_at", "updated_at",
		}),
	}).Create(device).Error
}

// GetByDeviceAndEmail возвращает запись по паре (deviceID, email)
func (r *TrustedDeviceRepo) GetByDeviceAndEmail(deviceID, email string) (*entity.TrustedDevice, error) {
	var device entity.TrustedDevice
	err := r.db.
		Where("device_id = ? AND email = ?", deviceID, entity.NormalizeEmail(email)).
		First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

// DeleteByEmail удаляет все записи аккаунта, возвращает количество удаленных
func (r *TrustedDeviceRepo) DeleteByEmail(email string) (int64, error) {
	result := r.db.Where("email = ?", entity.NormalizeEmail(email)).
		Delete(&entity.TrustedDevice{})
	return result.RowsAffected, result.Error
}

// CleanupExpired удаляет просроченные записи (вызывается периодически из main)
func (r *TrustedDeviceRepo) CleanupExpired() (int64, error) {
	result := r.db.Where("expires_at < ?", time.Now()).
		Delete(&entity.TrustedDevice{})
	return result.RowsAffected, result.Error
}
