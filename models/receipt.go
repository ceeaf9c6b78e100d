package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Receipt is the durable point effect of one purchase. (merchant_id, order_id) is unique.
type Receipt struct {
	ID            uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID    uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex:idx_receipts_merchant_order" json:"merchant_id"`
	CustomerID    uuid.UUID     `gorm:"type:uuid;not null;index" json:"customer_id"`
	OrderID       string        `gorm:"not null;uniqueIndex:idx_receipts_merchant_order" json:"order_id"`
	ReceiptNumber *string       `json:"receipt_number,omitempty"`
	Total         int64         `gorm:"not null" json:"total"`
	EligibleTotal int64         `gorm:"not null" json:"eligible_total"`
	RedeemApplied int64         `gorm:"not null" json:"redeem_applied"`
	EarnApplied   int64         `gorm:"not null" json:"earn_applied"`
	OutletID      *uuid.UUID    `gorm:"type:uuid;index" json:"outlet_id,omitempty"`
	StaffID       *uuid.UUID    `gorm:"type:uuid" json:"staff_id,omitempty"`
	DeviceID      *uuid.UUID    `gorm:"type:uuid" json:"device_id,omitempty"`
	CanceledAt    *time.Time    `json:"canceled_at,omitempty"`
	Items         []ReceiptItem `gorm:"foreignKey:ReceiptID" json:"items,omitempty"`
	CreatedAt     time.Time     `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type ReceiptItem struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ReceiptID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"receipt_id"`
	MerchantID          uuid.UUID  `gorm:"type:uuid;not null" json:"merchant_id"`
	ProductID           *uuid.UUID `gorm:"type:uuid" json:"product_id,omitempty"`
	CategoryID          *uuid.UUID `gorm:"type:uuid" json:"category_id,omitempty"`
	ExternalID          *string    `json:"external_id,omitempty"`
	Name                string     `json:"name"`
	Qty                 float64    `json:"qty"`
	Price               float64    `json:"price"`
	Amount              int64      `json:"amount"`
	EarnApplied         int64      `json:"earn_applied"`
	RedeemApplied       int64      `json:"redeem_applied"`
	PromotionID         *uuid.UUID `gorm:"type:uuid" json:"promotion_id,omitempty"`
	PromotionMultiplier float64    `json:"promotion_multiplier"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (r *Receipt) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (i *ReceiptItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
