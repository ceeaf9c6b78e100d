package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HoldMode string

const (
	HoldModeEarn   HoldMode = "EARN"
	HoldModeRedeem HoldMode = "REDEEM"
)

type HoldStatus string

const (
	HoldStatusPending   HoldStatus = "PENDING"
	HoldStatusCommitted HoldStatus = "COMMITTED"
	HoldStatusCanceled  HoldStatus = "CANCELED"
)

// Hold reserves the point outcome of one purchase until it is committed.
type Hold struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	CustomerID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"customer_id"`
	Mode          HoldMode   `gorm:"not null" json:"mode"`
	Status        HoldStatus `gorm:"not null;index" json:"status"`
	EarnPoints    int64      `json:"earn_points"`
	RedeemAmount  int64      `json:"redeem_amount"`
	Total         int64      `json:"total"`
	EligibleTotal int64      `json:"eligible_total"`
	OrderID       *string    `gorm:"index" json:"order_id,omitempty"`
	ReceiptID     *uuid.UUID `gorm:"type:uuid" json:"receipt_id,omitempty"`
	OutletID      *uuid.UUID `gorm:"type:uuid" json:"outlet_id,omitempty"`
	StaffID       *uuid.UUID `gorm:"type:uuid" json:"staff_id,omitempty"`
	DeviceID      *uuid.UUID `gorm:"type:uuid" json:"device_id,omitempty"`
	Items         []HoldItem `gorm:"foreignKey:HoldID" json:"items,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type HoldItem struct {
	ID                  uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	HoldID              uuid.UUID  `gorm:"type:uuid;not null;index" json:"hold_id"`
	MerchantID          uuid.UUID  `gorm:"type:uuid;not null" json:"merchant_id"`
	ProductID           *uuid.UUID `gorm:"type:uuid" json:"product_id,omitempty"`
	CategoryID          *uuid.UUID `gorm:"type:uuid" json:"category_id,omitempty"`
	ExternalID          *string    `json:"external_id,omitempty"`
	Name                string     `json:"name"`
	Qty                 float64    `gorm:"not null" json:"qty"`
	Price               float64    `gorm:"not null" json:"price"`
	Amount              int64      `gorm:"not null" json:"amount"`
	AccruePoints        bool       `json:"accrue_points"`
	EarnPoints          int64      `json:"earn_points"`
	RedeemAmount        int64      `json:"redeem_amount"`
	PromotionID         *uuid.UUID `gorm:"type:uuid" json:"promotion_id,omitempty"`
	PromotionMultiplier float64    `json:"promotion_multiplier"`
	AppliedPromotionIDs string     `gorm:"type:text" json:"applied_promotion_ids"` // comma separated
	CreatedAt           time.Time  `json:"created_at"`
}

func (h *Hold) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.Status == "" {
		h.Status = HoldStatusPending
	}
	return nil
}

func (i *HoldItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// AllowedHoldTransitions defines the hold status state machine.
var AllowedHoldTransitions = map[HoldStatus][]HoldStatus{
	HoldStatusPending:   {HoldStatusCommitted, HoldStatusCanceled},
	HoldStatusCommitted: {},
	HoldStatusCanceled:  {},
}

// IsValidHoldTransition checks if a hold status transition is allowed.
func IsValidHoldTransition(from, to HoldStatus) bool {
	allowed, exists := AllowedHoldTransitions[from]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
