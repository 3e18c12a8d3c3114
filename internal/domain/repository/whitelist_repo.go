package repository

import "github.com/yourusername/campus-portal-api/internal/domain/entity"

// WhitelistRepository определяет методы для работы со списком допущенных адресов
type WhitelistRepository interface {
	Create(entry *entity.WhitelistEntry) error
	// GetByEmail ищет запись по нормализованному (lowercase) email
	GetByEmail(email string) (*entity.WhitelistEntry, error)
	Update(entry *entity.WhitelistEntry) error
	DeleteByEmail(email string) error
	List(limit, offset int) ([]entity.WhitelistEntry, int64, error)
}
