package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/campus-portal-api/internal/domain/entity"
	"github.com/yourusername/campus-portal-api/internal/events"
	apperrors "github.com/yourusername/campus-portal-api/internal/pkg/errors"
	"github.com/yourusername/campus-portal-api/pkg/auth"
)

// loginFixture собирает LoginService из настоящих сервисов поверх
// in-memory фейков; мокается только whitelist
type loginFixture struct {
	login      *LoginService
	whitelist  *MockWhitelistRepository
	email      *captureEmailService
	verifyRepo *fakeVerificationRepo
	deviceRepo *fakeTrustedDeviceRepo
	cache      *fakeCacheRepo
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()

	whitelist := new(MockWhitelistRepository)
	email := &captureEmailService{}
	verifyRepo := newFakeVerificationRepo()
	deviceRepo := newFakeTrustedDeviceRepo()
	cache := newFakeCacheRepo()

	verification, err := NewVerificationService(verifyRepo, email, 5*time.Minute, 5, testPepper)
	require.NoError(t, err)
	deviceTrust, err := NewDeviceTrustService(deviceRepo, 30)
	require.NoError(t, err)
	jwtService, err := auth.NewJWTService("test-signing-key", 24)
	require.NoError(t, err)
	sessions, err := NewSessionService(cache, jwtService, events.NewNoOpPubSub())
	require.NoError(t, err)

	login, err := NewLoginService(whitelist, verification, deviceTrust, sessions, cache, 60*time.Second)
	require.NoError(t, err)

	return &loginFixture{
		login:      login,
		whitelist:  whitelist,
		email:      email,
		verifyRepo: verifyRepo,
		deviceRepo: deviceRepo,
		cache:      cache,
	}
}

func (f *loginFixture) allowEntry() *entity.WhitelistEntry {
	entry := testWhitelistEntry()
	f.whitelist.On("GetByEmail", entry.Email).Return(entry, nil)
	return entry
}

func TestLoginService_Identify_NotWhitelisted(t *testing.T) {
	f := newLoginFixture(t)
	f.whitelist.On("GetByEmail", "stranger@campus.edu").Return(nil, apperrors.ErrNotFound)

	result, err := f.login.Identify(context.Background(), "Stranger@Campus.Edu", "")

	assert.ErrorIs(t, err, ErrNotWhitelisted)
	assert.Nil(t, result)
	assert.Empty(t, f.email.sentCodes, "Не-whitelisted адресу код не отправляется")
	f.whitelist.AssertExpectations(t)
}

func TestLoginService_Identify_EmptyEmail(t *testing.T) {
	f := newLoginFixture(t)

	_, err := f.login.Identify(context.Background(), "   ", "")

	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestLoginService_Identify_UnknownDeviceIssuesCode(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	result, err := f.login.Identify(context.Background(), "student@campus.edu", "")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingCode, result.Outcome)
	assert.NotEmpty(t, result.DeviceID, "Сервер выдает device id, если клиент его не прислал")
	assert.True(t, result.Delivered)
	assert.Equal(t, 5, result.AttemptsLeft)
	assert.Equal(t, 60, result.ResendCooldownSec)
	assert.Len(t, f.email.sentCodes, 1)
}

func TestLoginService_Identify_KeepsClientDeviceID(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	result, err := f.login.Identify(context.Background(), "student@campus.edu", "client-device-7")

	require.NoError(t, err)
	assert.Equal(t, "client-device-7", result.DeviceID)
}

func TestLoginService_Identify_TrustedDeviceSkipsCode(t *testing.T) {
	f := newLoginFixture(t)
	entry := f.allowEntry()

	require.NoError(t, f.deviceRepo.Upsert(&entity.TrustedDevice{
		DeviceID:  "device-1",
		Email:     entry.Email,
		Role:      entry.Role,
		TrustedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}))

	result, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeSession, result.Outcome)
	require.NotNil(t, result.Session)
	assert.NotEmpty(t, result.Session.Token)
	assert.Empty(t, f.email.sentCodes, "Доверенное устройство входит без кода")
}

func TestLoginService_Identify_DeliveryFailureNoCooldown(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()
	f.email.fail = true

	result, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")

	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingCode, result.Outcome)
	assert.False(t, result.Delivered)
	assert.Zero(t, result.ResendCooldownSec, "Без доставки кулдаун не стартует")

	// Повторная отправка доступна сразу же
	f.email.fail = false
	resent, err := f.login.Resend(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)
	assert.True(t, resent.Delivered)
	assert.Equal(t, 60, resent.ResendCooldownSec)
}

func TestLoginService_Resend_CooldownAfterDelivery(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)

	_, err = f.login.Resend(context.Background(), "student@campus.edu", "device-1")
	assert.ErrorIs(t, err, ErrResendCooldown)
	assert.Len(t, f.email.sentCodes, 1, "Во время кулдауна новый код не выпускается")
}

func TestLoginService_Resend_SupersedesOldCode(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)
	oldCode := f.email.lastCode()

	// Откатываем отметку доставки в прошлое, чтобы кулдаун истек
	f.verifyRepo.mutate("student@campus.edu", func(record *entity.PendingVerification) {
		past := time.Now().Add(-2 * time.Minute)
		record.DeliveredAt = &past
	})

	_, err = f.login.Resend(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)
	require.Len(t, f.email.sentCodes, 2)

	// Принимается только последний код
	if oldCode != f.email.lastCode() {
		result, err := f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", oldCode)
		assert.ErrorIs(t, err, ErrInvalidCode)
		assert.Equal(t, 4, result.AttemptsLeft)
	}
	result, err := f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", f.email.lastCode())
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

func TestLoginService_Resend_NoPendingCode(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Resend(context.Background(), "student@campus.edu", "device-1")
	assert.ErrorIs(t, err, ErrNoPendingVerification)
}

func TestLoginService_VerifyCode_SuccessTrustsDeviceAndEstablishesSession(t *testing.T) {
	f := newLoginFixture(t)
	entry := f.allowEntry()

	identify, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingCode, identify.Outcome)

	result, err := f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", f.email.lastCode())

	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Equal(t, entry.Email, result.Session.User.Email)

	// Устройство теперь доверенное: следующий вход минует код
	second, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSession, second.Outcome)
	assert.Len(t, f.email.sentCodes, 1)
}

func TestLoginService_VerifyCode_WrongCodeReportsAttemptsLeft(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)

	result, err := f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", wrongCode(f.email.lastCode()))

	assert.ErrorIs(t, err, ErrInvalidCode)
	require.NotNil(t, result)
	assert.Equal(t, 4, result.AttemptsLeft)
	assert.Nil(t, result.Session)

	// Неудачная проверка не оставляет доверия устройству
	_, err = f.deviceRepo.GetByDeviceAndEmail("device-1", "student@campus.edu")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLoginService_VerifyCode_SingleFlight(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)

	// Имитация параллельной проверки: лок уже занят
	locked, err := f.cache.SetNX("verify-lock:student@campus.edu", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", f.email.lastCode())
	assert.ErrorIs(t, err, ErrVerifyInFlight)

	// После освобождения лока проверка проходит
	require.NoError(t, f.cache.Delete("verify-lock:student@campus.edu"))
	result, err := f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", f.email.lastCode())
	require.NoError(t, err)
	assert.NotNil(t, result.Session)
}

func TestLoginService_VerifyCode_ReleasesLock(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)

	_, err = f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", wrongCode(f.email.lastCode()))
	assert.ErrorIs(t, err, ErrInvalidCode)

	// Лок снят даже после неудачной проверки
	exists, err := f.cache.Exists("verify-lock:student@campus.edu")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoginService_Cancel(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)

	require.NoError(t, f.login.Cancel("student@campus.edu"))

	// После отмены код не принимается
	_, err = f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", f.email.lastCode())
	assert.ErrorIs(t, err, ErrNoPendingVerification)
}

func TestLoginService_Cancel_RefusedWhileVerifyInFlight(t *testing.T) {
	f := newLoginFixture(t)

	locked, err := f.cache.SetNX("verify-lock:student@campus.edu", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	err = f.login.Cancel("student@campus.edu")
	assert.ErrorIs(t, err, ErrVerifyInFlight)
}

func TestLoginService_ExhaustionScenario(t *testing.T) {
	f := newLoginFixture(t)
	f.allowEntry()

	_, err := f.login.Identify(context.Background(), "student@campus.edu", "device-1")
	require.NoError(t, err)
	bad := wrongCode(f.email.lastCode())

	for i := 0; i < 4; i++ {
		_, err := f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", bad)
		assert.ErrorIs(t, err, ErrInvalidCode)
	}

	_, err = f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", bad)
	assert.ErrorIs(t, err, ErrAttemptsExhausted)

	// Верный код после исчерпания бесполезен: записи больше нет
	_, err = f.login.VerifyCode(context.Background(), "student@campus.edu", "device-1", f.email.lastCode())
	assert.ErrorIs(t, err, ErrNoPendingVerification)
}
