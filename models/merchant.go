package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Merchant struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string            `gorm:"not null" json:"name"`
	IsActive  bool              `gorm:"default:true" json:"is_active"`
	Settings  *MerchantSettings `gorm:"foreignKey:MerchantID" json:"settings,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	DeletedAt gorm.DeletedAt    `gorm:"index" json:"-"`
}

func (m *Merchant) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// MerchantSettings holds the rate and cap values a merchant exposes to the engine.
// Nil daily caps mean "no cap".
type MerchantSettings struct {
	MerchantID                 uuid.UUID `gorm:"type:uuid;primaryKey" json:"merchant_id"`
	EarnBps                    int       `gorm:"not null" json:"earn_bps"`
	RedeemLimitBps             int       `gorm:"not null" json:"redeem_limit_bps"`
	EarnCooldownSec            int       `json:"earn_cooldown_sec"`
	RedeemCooldownSec          int       `json:"redeem_cooldown_sec"`
	EarnDailyCap               *int64    `json:"earn_daily_cap,omitempty"`
	RedeemDailyCap             *int64    `json:"redeem_daily_cap,omitempty"`
	AllowEarnRedeemSameReceipt bool      `json:"allow_earn_redeem_same_receipt"`
	LevelsPeriodDays           int       `json:"levels_period_days"`

	StaffMotivationEnabled        bool   `json:"staff_motivation_enabled"`
	StaffMotivationNewPoints      *int   `json:"staff_motivation_new_points,omitempty"`
	StaffMotivationExistingPoints *int   `json:"staff_motivation_existing_points,omitempty"`
	StaffMotivationPeriod         string `json:"staff_motivation_period"`
	StaffMotivationCustomDays     *int   `json:"staff_motivation_custom_days,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
