package repository

import "github.com/yourusername/campus-portal-api/internal/domain/entity"

// TrustedDeviceRepository интерфейс для работы с доверенными устройствами
type TrustedDeviceRepository interface {
	// Upsert создает или обновляет запись для пары (deviceID, email)
	Upsert(device *entity.TrustedDevice) error

	// GetByDeviceAndEmail находит запись по паре (deviceID, email)
	GetByDeviceAndEmail(deviceID, email string) (*entity.TrustedDevice, error)

	// DeleteByEmail удаляет все записи для аккаунта (административный отзыв доверия)
	DeleteByEmail(email string) (int64, error)

	// CleanupExpired удаляет все просроченные записи
	CleanupExpired() (int64, error)
}
