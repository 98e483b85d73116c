package model

import (
	"time"

	"gorm.io/gorm"
)

// Password is the local reference to a cipher stored in the backend vault.
// Name, secret and the other descriptive fields only live downstream.
type Password struct {
	ID              string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	OrganisationID  string    `json:"organisation_id" gorm:"type:varchar(64);index;not null"`
	BackendCipherID string    `json:"backend_cipher_id" gorm:"type:varchar(255);not null"`
	CreatedAt       time.Time `json:"created_at"`

	Organisation *Organisation `json:"-" gorm:"foreignKey:OrganisationID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns an ID when the caller did not.
func (p *Password) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID(PrefixPassword)
	}
	return nil
}
