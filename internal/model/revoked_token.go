package model

import "time"

// RevokedToken marks the token (JTI, TenantID) as unusable until ExpiresAt,
// after which the row may be pruned.
type RevokedToken struct {
	JTI       string    `json:"jti" gorm:"primaryKey;type:varchar(128)"`
	TenantID  string    `json:"tenant_id" gorm:"primaryKey;type:varchar(64)"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index;not null"`
	RevokedAt time.Time `json:"revoked_at"`
}
