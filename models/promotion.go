package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	PromotionStatusActive   = "ACTIVE"
	PromotionStatusDraft    = "DRAFT"
	PromotionStatusPaused   = "PAUSED"
	PromotionStatusArchived = "ARCHIVED"

	PromotionRewardPoints   = "POINTS"
	PromotionRewardDiscount = "DISCOUNT"
)

// LoyaltyPromotion is a merchant-configured promotion. RewardMetadata carries the
// rule body as JSON: productIds, categoryIds, kind, pointsRuleType, pointsValue,
// buyQty, freeQty, price. Metadata carries usageLimit.
type LoyaltyPromotion struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"merchant_id"`
	Name           string         `gorm:"not null" json:"name"`
	Status         string         `gorm:"not null;index" json:"status"`
	RewardType     string         `gorm:"not null" json:"reward_type"`
	RewardMetadata string         `gorm:"type:text" json:"reward_metadata"`
	Metadata       string         `gorm:"type:text" json:"metadata"`
	SegmentID      *uuid.UUID     `gorm:"type:uuid" json:"segment_id,omitempty"`
	StartAt        *time.Time     `json:"start_at,omitempty"`
	EndAt          *time.Time     `json:"end_at,omitempty"`
	ArchivedAt     *time.Time     `json:"archived_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

func (p *LoyaltyPromotion) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PromotionParticipant tracks per-customer usage of a promotion for usage limits.
type PromotionParticipant struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"merchant_id"`
	PromotionID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participant_promo_customer" json:"promotion_id"`
	CustomerID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participant_promo_customer" json:"customer_id"`
	PurchasesCount int        `gorm:"not null;default:0" json:"purchases_count"`
	TotalSpent     int64      `gorm:"not null;default:0" json:"total_spent"`
	PointsIssued   int64      `gorm:"not null;default:0" json:"points_issued"`
	LastPurchaseAt *time.Time `json:"last_purchase_at,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (p *PromotionParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
