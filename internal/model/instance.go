package model

import (
	"time"

	"gorm.io/gorm"
)

// InstanceStatus is the provisioning state of a tenant instance.
type InstanceStatus string

const (
	InstanceProvisioning InstanceStatus = "provisioning"
	InstanceReady        InstanceStatus = "ready"
	InstanceFailed       InstanceStatus = "failed"
)

// Instance is an isolated vault deployment owned by one tenant.
type Instance struct {
	ID                 string         `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name               string         `json:"name" gorm:"type:varchar(255);not null"`
	BackendURL         string         `json:"backend_url" gorm:"type:varchar(255);not null"`
	BackendAdminSecret string         `json:"-" gorm:"type:varchar(255);not null"` // returned once at creation
	Status             InstanceStatus `json:"status" gorm:"type:varchar(32);index;not null"`
	Error              *string        `json:"error,omitempty" gorm:"type:text"`
	CreatedAt          time.Time      `json:"created_at"`
}

// BeforeCreate assigns an ID when the caller did not.
func (i *Instance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = NewID(PrefixInstance)
	}
	return nil
}
