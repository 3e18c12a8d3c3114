package entity

import "time"

// TrustedDevice records that a (device, account) pair passed code verification
// and may skip the code step until the trust expires. The role is pinned at
// trust time; a later whitelist role change invalidates the record at lookup.
type TrustedDevice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	DeviceID  string    `gorm:"size:64;not null;uniqueIndex:idx_trusted_device_email" json:"device_id"`
	Email     string    `gorm:"size:100;not null;uniqueIndex:idx_trusted_device_email;index" json:"email"`
	Role      string    `gorm:"size:20;not null" json:"role"`
	TrustedAt time.Time `gorm:"not null" json:"trusted_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TrustedDevice) TableName() string {
	return "trusted_devices"
}

func (d *TrustedDevice) IsExpired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// MatchesRole reports whether the pinned role still equals the whitelist role.
func (d *TrustedDevice) MatchesRole(role string) bool {
	return d.Role == role
}
