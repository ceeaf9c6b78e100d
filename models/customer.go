package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Customer struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID         uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_customers_merchant_phone" json:"merchant_id"`
	Phone              *string    `gorm:"uniqueIndex:idx_customers_merchant_phone" json:"phone,omitempty"`
	Name               string     `json:"name"`
	AccrualsBlocked    bool       `gorm:"default:false" json:"accruals_blocked"`
	RedemptionsBlocked bool       `gorm:"default:false" json:"redemptions_blocked"`
	Visits             int        `gorm:"default:0" json:"visits"`
	TotalSpent         int64      `gorm:"default:0" json:"total_spent"`
	LastPurchaseAt     *time.Time `json:"last_purchase_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (c *Customer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

const WalletTypePoints = "POINTS"

// Wallet is the points balance of one customer at one merchant.
type Wallet struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_wallets_owner" json:"merchant_id"`
	CustomerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_wallets_owner" json:"customer_id"`
	Type       string    `gorm:"not null;default:POINTS;uniqueIndex:idx_wallets_owner" json:"type"`
	Balance    int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Type == "" {
		w.Type = WalletTypePoints
	}
	return nil
}
