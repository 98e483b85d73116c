package model

import (
	"time"

	"gorm.io/gorm"
)

// KeyPair stores the public half of a tenant signing key.
// The root key is configured on the process and never stored here.
type KeyPair struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(64)"`
	TenantID  *string    `json:"tenant_id,omitempty" gorm:"type:varchar(64);index"`
	PublicKey string     `json:"public_key" gorm:"type:text;not null"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`

	Instance *Instance `json:"-" gorm:"foreignKey:TenantID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns an ID when the caller did not.
func (k *KeyPair) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = NewID(PrefixKeyPair)
	}
	return nil
}
