package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditEventType categorises an audit entry.
type AuditEventType string

const (
	AuditAdminOperation   AuditEventType = "admin_operation"
	AuditInstanceAccess   AuditEventType = "instance_access"
	AuditDataModification AuditEventType = "data_modification"
	AuditAuthFailure      AuditEventType = "auth_failure"
	AuditKeyRotation      AuditEventType = "key_rotation"
)

// AuditLog is a write-only record of an authenticated request or a
// rejected authentication attempt.
type AuditLog struct {
	ID             string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Timestamp      time.Time      `json:"timestamp" gorm:"index;not null"`
	Endpoint       string         `json:"endpoint" gorm:"type:varchar(512);not null"`
	Method         string         `json:"method" gorm:"type:varchar(16);not null"`
	TenantID       string         `json:"tenant_id" gorm:"type:varchar(64);index;not null"`
	RequestID      string         `json:"request_id" gorm:"type:varchar(128);not null"`
	Metadata       datatypes.JSON `json:"metadata" gorm:"type:jsonb"`
	ResponseStatus int            `json:"response_status" gorm:"not null"`
	EventType      AuditEventType `json:"event_type" gorm:"type:varchar(32);index;not null"`
	CreatedAt      time.Time      `json:"created_at"`
}

// BeforeCreate assigns an ID when the caller did not.
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = NewID(PrefixAudit)
	}
	return nil
}
