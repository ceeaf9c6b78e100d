package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a catalog entry. RedeemPercent is the share of the line amount that
// may be paid with points.
type Product struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_products_merchant_external" json:"merchant_id"`
	ExternalID    *string        `gorm:"uniqueIndex:idx_products_merchant_external" json:"external_id,omitempty"`
	CategoryID    *uuid.UUID     `gorm:"type:uuid;index" json:"category_id,omitempty"`
	Name          string         `gorm:"not null" json:"name"`
	AccruePoints  bool           `json:"accrue_points"`
	AllowRedeem   bool           `json:"allow_redeem"`
	RedeemPercent int            `gorm:"not null" json:"redeem_percent"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
