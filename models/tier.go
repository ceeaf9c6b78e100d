package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LoyaltyTier carries rate overrides for customers whose spend over the
// levels period reaches ThresholdAmount.
type LoyaltyTier struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID       uuid.UUID `gorm:"type:uuid;not null;index" json:"merchant_id"`
	Name             string    `gorm:"not null" json:"name"`
	ThresholdAmount  int64     `gorm:"not null;default:0" json:"threshold_amount"`
	EarnRateBps      int       `gorm:"not null" json:"earn_rate_bps"`
	RedeemRateBps    *int      `json:"redeem_rate_bps,omitempty"`
	MinPaymentAmount *int64    `json:"min_payment_amount,omitempty"`
	IsInitial        bool      `json:"is_initial"`
	IsHidden         bool      `json:"is_hidden"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (t *LoyaltyTier) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

const (
	TierSourceAuto   = "auto"
	TierSourceManual = "manual"
)

type LoyaltyTierAssignment struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_tier_assignment_customer" json:"merchant_id"`
	CustomerID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_tier_assignment_customer" json:"customer_id"`
	TierID     uuid.UUID  `gorm:"type:uuid;not null" json:"tier_id"`
	Source     string     `gorm:"not null" json:"source"`
	AssignedAt time.Time  `gorm:"not null" json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (a *LoyaltyTierAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
