package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email      string         `gorm:"uniqueIndex;not null" json:"email"`
	Password   string         `gorm:"not null" json:"-"`
	Name       string         `json:"name"`
	Role       string         `gorm:"default:merchant" json:"role"` // merchant, admin
	MerchantID *uuid.UUID     `gorm:"type:uuid;index" json:"merchant_id,omitempty"`
	IsBlocked  bool           `gorm:"default:false" json:"is_blocked"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// All returns every model the service migrates, in dependency order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Merchant{},
		&MerchantSettings{},
		&Outlet{},
		&Device{},
		&Staff{},
		&Customer{},
		&Wallet{},
		&Product{},
		&CustomerSegment{},
		&SegmentCustomer{},
		&LoyaltyPromotion{},
		&PromotionParticipant{},
		&LoyaltyTier{},
		&LoyaltyTierAssignment{},
		&Hold{},
		&HoldItem{},
		&Receipt{},
		&ReceiptItem{},
		&Transaction{},
		&LedgerEntry{},
		&ReferralProgram{},
		&Referral{},
		&StaffMotivationEntry{},
		&EventOutbox{},
		&IntegrationKey{},
	}
}
