package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Outlet struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"merchant_id"`
	Name           string         `gorm:"not null" json:"name"`
	Address        string         `json:"address"`
	LastActivityAt *time.Time     `json:"last_activity_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (o *Outlet) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Device is a cash register or terminal bound to an outlet.
type Device struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	OutletID   *uuid.UUID `gorm:"type:uuid" json:"outlet_id,omitempty"`
	Code       string     `gorm:"not null" json:"code"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
