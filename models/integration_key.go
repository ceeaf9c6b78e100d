package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// IntegrationKey authenticates a merchant's POS or e-commerce integration.
// Only the bcrypt hash of the key is stored; Prefix is the lookup handle.
type IntegrationKey struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	Name       string     `json:"name"`
	Prefix     string     `gorm:"not null;uniqueIndex" json:"prefix"`
	KeyHash    string     `gorm:"not null" json:"-"`
	IsActive   bool       `json:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (k *IntegrationKey) BeforeCreate(tx *gorm.DB) error {
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	return nil
}
