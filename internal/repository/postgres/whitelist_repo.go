package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

// WhitelistRepo реализует repository.WhitelistRepository
type WhitelistRepo struct {
	db *gorm.DB
}

// NewWhitelistRepo создает новый репозиторий белого списка
func NewWhitelistRepo(db *gorm.DB) *WhitelistRepo {
	return &WhitelistRepo{db: db}
}

// Create создает новую запись белого списка
func (r *WhitelistRepo) Create(entry *entity.WhitelistEntry) error {
	entry.Email = entity.NormalizeEmail(entry.Email)
	if err := r.db.Create(entry).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", apperrors.ErrConflict, entry.Email)
		}
		return err
	}
	return nil
}

// GetByEmail возвращает запись по нормализованному email
func (r *WhitelistRepo) GetByEmail(email string) (*entity.WhitelistEntry, error) {
	var entry entity.WhitelistEntry
	err := r.db.Where("email = ?", entity.NormalizeEmail(email)).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Update обновляет запись белого списка
func (r *WhitelistRepo) Update(entry *entity.WhitelistEntry) error {
	entry.Email = entity.NormalizeEmail(entry.Email)
	return r.db.Save(entry).Error
}

// DeleteByEmail удаляет запись по email
func (r *WhitelistRepo) DeleteByEmail(email string) error {
	result := r.db.Where("email = ?", entity.NormalizeEmail(email)).Delete(&entity.WhitelistEntry{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// List возвращает записи с пагинацией и общим количеством
func (r *WhitelistRepo) List(limit, offset int) ([]entity.WhitelistEntry, int64, error) {
	var entries []entity.WhitelistEntry
	var total int64

	if err := r.db.Model(&entity.WhitelistEntry{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := r.db.Limit(limit).Offset(offset).Order("email ASC").Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// isUniqueViolation проверяет Postgres unique violation (23505) для pgconn и lib/pq драйверов
func isUniqueViolation(err error) bool {
	// pgx/v5 driver (pgconn.PgError)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// lib/pq driver
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}
	return false
}
