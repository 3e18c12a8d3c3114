package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/campus-portal-api/internal/domain/entity"
)

func newTestDeviceTrustService(t *testing.T) (*DeviceTrustService, *fakeTrustedDeviceRepo) {
	t.Helper()
	repo := newFakeTrustedDeviceRepo()
	svc, err := NewDeviceTrustService(repo, 30)
	require.NoError(t, err)
	return svc, repo
}

func TestDeviceTrustService_IsTrusted_EmptyDeviceID(t *testing.T) {
	svc, _ := newTestDeviceTrustService(t)

	trusted, err := svc.IsTrusted("", "student@campus.edu", entity.RoleStudent)

	require.NoError(t, err)
	assert.False(t, trusted, "Без идентификатора устройства доверия нет")
}

func TestDeviceTrustService_IsTrusted_UnknownDevice(t *testing.T) {
	svc, _ := newTestDeviceTrustService(t)

	trusted, err := svc.IsTrusted("device-1", "student@campus.edu", entity.RoleStudent)

	require.NoError(t, err)
	assert.False(t, trusted)
}

func TestDeviceTrustService_TrustThenIsTrusted(t *testing.T) {
	svc, repo := newTestDeviceTrustService(t)

	require.NoError(t, svc.Trust("device-1", "student@campus.edu", entity.RoleStudent))

	trusted, err := svc.IsTrusted("device-1", "student@campus.edu", entity.RoleStudent)
	require.NoError(t, err)
	assert.True(t, trusted)

	// Роль и срок доверия зафиксированы в записи
	record, err := repo.GetByDeviceAndEmail("device-1", "student@campus.edu")
	require.NoError(t, err)
	assert.Equal(t, entity.RoleStudent, record.Role)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), record.ExpiresAt, 2*time.Second)
}

func TestDeviceTrustService_IsTrusted_ExpiredRecord(t *testing.T) {
	svc, repo := newTestDeviceTrustService(t)

	require.NoError(t, repo.Upsert(&entity.TrustedDevice{
		DeviceID:  "device-1",
		Email:     "student@campus.edu",
		Role:      entity.RoleStudent,
		TrustedAt: time.Now().Add(-31 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-24 * time.Hour),
	}))

	trusted, err := svc.IsTrusted("device-1", "student@campus.edu", entity.RoleStudent)
	require.NoError(t, err)
	assert.False(t, trusted, "Просроченная запись не дает доверия")
}

func TestDeviceTrustService_IsTrusted_RoleMismatch(t *testing.T) {
	svc, _ := newTestDeviceTrustService(t)

	// Устройство было доверено студенту, но в whitelist роль сменилась
	require.NoError(t, svc.Trust("device-1", "student@campus.edu", entity.RoleStudent))

	trusted, err := svc.IsTrusted("device-1", "student@campus.edu", entity.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, trusted, "Смена роли в whitelist обнуляет доверие")
}

func TestDeviceTrustService_Trust_RefreshesExistingRecord(t *testing.T) {
	svc, repo := newTestDeviceTrustService(t)

	require.NoError(t, svc.Trust("device-1", "student@campus.edu", entity.RoleStudent))
	first, err := repo.GetByDeviceAndEmail("device-1", "student@campus.edu")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, svc.Trust("device-1", "student@campus.edu", entity.RoleStudent))
	second, err := repo.GetByDeviceAndEmail("device-1", "student@campus.edu")
	require.NoError(t, err)

	assert.True(t, second.ExpiresAt.After(first.ExpiresAt), "Повторный вход продлевает доверие")
}

func TestDeviceTrustService_Revoke(t *testing.T) {
	svc, _ := newTestDeviceTrustService(t)

	require.NoError(t, svc.Trust("device-1", "student@campus.edu", entity.RoleStudent))
	require.NoError(t, svc.Trust("device-2", "student@campus.edu", entity.RoleStudent))
	require.NoError(t, svc.Trust("device-3", "other@campus.edu", entity.RoleFaculty))

	revoked, err := svc.Revoke("student@campus.edu")
	require.NoError(t, err)
	assert.EqualValues(t, 2, revoked)

	trusted, err := svc.IsTrusted("device-1", "student@campus.edu", entity.RoleStudent)
	require.NoError(t, err)
	assert.False(t, trusted)

	// Чужие устройства не затронуты
	trusted, err = svc.IsTrusted("device-3", "other@campus.edu", entity.RoleFaculty)
	require.NoError(t, err)
	assert.True(t, trusted)
}

func TestDeviceTrustService_CleanupExpired(t *testing.T) {
	svc, repo := newTestDeviceTrustService(t)

	require.NoError(t, svc.Trust("device-1", "student@campus.edu", entity.RoleStudent))
	require.NoError(t, repo.Upsert(&entity.TrustedDevice{
		DeviceID:  "device-2",
		Email:     "old@campus.edu",
		Role:      entity.RoleStudent,
		TrustedAt: time.Now().Add(-40 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-10 * 24 * time.Hour),
	}))

	removed, err := svc.CleanupExpired()
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
}
