package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReferralTriggerFirst = "first"
	ReferralTriggerAll   = "all"

	ReferralRewardFixed   = "FIXED"
	ReferralRewardPercent = "PERCENT"

	ReferralStatusPending   = "PENDING"
	ReferralStatusActivated = "ACTIVATED"
	ReferralStatusCompleted = "COMPLETED"
)

// ReferralProgram configures rewards paid to referrers when referees purchase.
// LevelRewards is a JSON array of {level, reward, enabled}.
type ReferralProgram struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID        uuid.UUID `gorm:"type:uuid;not null;index" json:"merchant_id"`
	IsActive          bool      `json:"is_active"`
	RewardTrigger     string    `gorm:"not null" json:"reward_trigger"`
	RewardType        string    `gorm:"not null" json:"reward_type"`
	ReferrerReward    float64   `json:"referrer_reward"`
	MinPurchaseAmount int64     `json:"min_purchase_amount"`
	MultiLevel        bool      `json:"multi_level"`
	LevelRewards      string    `gorm:"type:text" json:"level_rewards"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (p *ReferralProgram) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

type Referral struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	ProgramID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"program_id"`
	ReferrerID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"referrer_id"`
	RefereeID   *uuid.UUID `gorm:"type:uuid;index" json:"referee_id,omitempty"`
	Status      string     `gorm:"not null" json:"status"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
