package model

import (
	"time"

	"gorm.io/gorm"
)

// OrganisationStatus tracks the downstream registration of an organisation.
type OrganisationStatus string

const (
	OrganisationPending OrganisationStatus = "pending"
	OrganisationCreated OrganisationStatus = "created"
	OrganisationFailed  OrganisationStatus = "failed"
)

// Organisation is a sub-tenant of an instance, mapped to a backend organization.
type Organisation struct {
	ID               string             `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Name             string             `json:"name" gorm:"type:varchar(255);not null"`
	InstanceID       string             `json:"instance_id" gorm:"type:varchar(64);index;not null"`
	BackendOrgID     *string            `json:"backend_org_id,omitempty" gorm:"type:varchar(255)"`
	BackendUserEmail *string            `json:"backend_user_email,omitempty" gorm:"type:varchar(255)"`
	BackendUserToken *string            `json:"-" gorm:"type:text"`
	Status           OrganisationStatus `json:"status" gorm:"type:varchar(32);not null"`
	CreatedAt        time.Time          `json:"created_at"`

	Instance *Instance `json:"-" gorm:"foreignKey:InstanceID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns an ID when the caller did not.
func (o *Organisation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = NewID(PrefixOrganisation)
	}
	return nil
}

// Initialized reports whether the downstream organization and session exist.
func (o *Organisation) Initialized() bool {
	return o.BackendOrgID != nil && *o.BackendOrgID != "" &&
		o.BackendUserToken != nil && *o.BackendUserToken != ""
}
