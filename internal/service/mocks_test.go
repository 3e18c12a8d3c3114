package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
)

// ============================================================================
// Моки и фейки для тестирования сервисов входа
// ============================================================================

// MockWhitelistRepository реализует repository.WhitelistRepository
type MockWhitelistRepository struct {
	mock.Mock
}

func (m *MockWhitelistRepository) Create(entry *entity.WhitelistEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func (m *MockWhitelistRepository) GetByEmail(email string) (*entity.WhitelistEntry, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.WhitelistEntry), args.Error(1)
}

func (m *MockWhitelistRepository) Update(entry *entity.WhitelistEntry) error {
	args := m.Called(entry)
	return args.Error(0)
}

func (m *MockWhitelistRepository) DeleteByEmail(email string) error {
	args := m.Called(email)
	return args.Error(0)
}

func (m *MockWhitelistRepository) List(limit, offset int) ([]entity.WhitelistEntry, int64, error) {
	args := m.Called(limit, offset)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]entity.WhitelistEntry), args.Get(1).(int64), args.Error(2)
}

// fakeVerificationRepo — in-memory реализация VerificationRepository.
// Хранит одну живую запись на email, как и настоящая таблица после
// DeleteByEmail+Create.
type fakeVerificationRepo struct {
	mu      sync.Mutex
	nextID  uint
	records map[string]*entity.PendingVerification
}

func newFakeVerificationRepo() *fakeVerificationRepo {
	return &fakeVerificationRepo{
		nextID:  1,
		records: make(map[string]*entity.PendingVerification),
	}
}

func (f *fakeVerificationRepo) Create(code *entity.PendingVerification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	code.ID = f.nextID
	f.nextID++
	code.CreatedAt = time.Now()
	f.records[code.Email] = code
	return nil
}

func (f *fakeVerificationRepo) GetLatestByEmail(email string) (*entity.PendingVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[email]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (f *fakeVerificationRepo) IncrementAttempts(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.ID == id {
			record.AttemptCount++
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeVerificationRepo) MarkDelivered(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range f.records {
		if record.ID == id {
			now := time.Now()
			record.DeliveredAt = &now
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (f *fakeVerificationRepo) DeleteByEmail(email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, email)
	return nil
}

// mutate дает тестам прямой доступ к живой записи (для подделки expiry)
func (f *fakeVerificationRepo) mutate(email string, fn func(*entity.PendingVerification)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.records[email]; ok {
		fn(record)
	}
}

func (f *fakeVerificationRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fakeTrustedDeviceRepo — in-memory реализация TrustedDeviceRepository
type fakeTrustedDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*entity.TrustedDevice
}

func newFakeTrustedDeviceRepo() *fakeTrustedDeviceRepo {
	return &fakeTrustedDeviceRepo{devices: make(map[string]*entity.TrustedDevice)}
}

func deviceKey(deviceID, email string) string {
	return deviceID + "|" + email
}

func (f *fakeTrustedDeviceRepo) Upsert(device *entity.TrustedDevice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *device
	f.devices[deviceKey(device.DeviceID, device.Email)] = &copied
	return nil
}

func (f *fakeTrustedDeviceRepo) GetByDeviceAndEmail(deviceID, email string) (*entity.TrustedDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	device, ok := f.devices[deviceKey(deviceID, email)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *device
	return &copied, nil
}

func (f *fakeTrustedDeviceRepo) DeleteByEmail(email string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for key, device := range f.devices {
		if device.Email == email {
			delete(f.devices, key)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeTrustedDeviceRepo) CleanupExpired() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var removed int64
	for key, device := range f.devices {
		if device.IsExpired(now) {
			delete(f.devices, key)
			removed++
		}
	}
	return removed, nil
}

// fakeCacheRepo — in-memory реализация CacheRepository без TTL-истечения
// (тесты не ждут дольше TTL)
type fakeCacheRepo struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{values: make(map[string]string)}
}

func (f *fakeCacheRepo) Set(key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeCacheRepo) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return value, nil
}

func (f *fakeCacheRepo) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, key)
	return nil
}

func (f *fakeCacheRepo) Increment(key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, _ := strconv.ParseInt(f.values[key], 10, 64)
	current++
	f.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}

func (f *fakeCacheRepo) Exists(key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeCacheRepo) SetNX(key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = fmt.Sprint(value)
	return true, nil
}

// captureEmailService запоминает последний отправленный код. При fail=true
// имитирует недоступный канал доставки.
type captureEmailService struct {
	mu        sync.Mutex
	fail      bool
	sentCodes []string
	lastEmail string
}

func (s *captureEmailService) SendLoginCode(ctx context.Context, toEmail, code, idempotencyKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEmail = toEmail
	s.sentCodes = append(s.sentCodes, code)
	if s.fail {
		return fmt.Errorf("smtp relay unavailable")
	}
	return nil
}

func (s *captureEmailService) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sentCodes) == 0 {
		return ""
	}
	return s.sentCodes[len(s.sentCodes)-1]
}

// wrongCode возвращает код той же формы, но гарантированно не равный исходному
func wrongCode(code string) string {
	last := code[len(code)-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	return code[:len(code)-1] + string(replacement)
}
