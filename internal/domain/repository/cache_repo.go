package repository

import (
	"time"
)

// CacheRepository определяет методы для работы с кешем (реестр сессий,
// блокировки проверки кода, счетчики)
type CacheRepository interface {
	Set(key string, value interface{}, expiration time.Duration) error
	Get(key string) (string, error)
	Delete(key string) error
	Increment(key string) (int64, error)
	Exists(key string) (bool, error)
	// SetNX устанавливает значение ключа, только если ключ не существует.
	// Возвращает true, если ключ был установлен, false - если ключ уже существовал.
	SetNX(key string, value interface{}, expiration time.Duration) (bool, error)
}
